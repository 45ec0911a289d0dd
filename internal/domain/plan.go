package domain

// ArchivePlan 描述一次 run 的输出落点（只描述，不做任何写入）。
type ArchivePlan struct {
	ProjectID ProjectID

	// OutputAbs 是最终 .sb3 的绝对路径；Dir/Name 是其拆分，便于同目录创建临时文件。
	OutputAbs string
	Dir       string
	Name      string

	// LockPath 是 run 期间持有的锁文件路径（防止两个进程写同一个输出）。
	LockPath string
}

// AssetJob 是一次资源抓取计划。Seq 即归档中的追加顺序（0 起，不含 project.json）。
type AssetJob struct {
	Seq         int
	TargetIndex int
	TargetName  string
	Ref         AssetRef
}

package domain

// State 是归档流水线的状态。
//
// 正常路径：fetching_metadata -> fetching_manifest -> building_archive -> finalizing -> done；
// failed 是唯一的失败终态。
type State string

const (
	StateFetchingMetadata State = "fetching_metadata"
	StateFetchingManifest State = "fetching_manifest"
	StateBuildingArchive  State = "building_archive"
	StateFinalizing       State = "finalizing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Terminal 表示该状态之后不会再发生迁移。
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var stateNext = map[State]State{
	StateFetchingMetadata: StateFetchingManifest,
	StateFetchingManifest: StateBuildingArchive,
	StateBuildingArchive:  StateFinalizing,
	StateFinalizing:       StateDone,
}

// CanTransition 校验 from -> to 是否合法。任何非终态都可以进入 failed。
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return stateNext[from] == to
}

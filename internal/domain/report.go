package domain

import (
	"encoding/json"
	"time"
)

const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

const (
	AssetStatusFetched   = "fetched"
	AssetStatusSkipped   = "skipped"
	AssetStatusDuplicate = "duplicate"
)

const (
	ErrCodeOutputExists       = "output_exists"
	ErrCodeTargetConflict     = "target_conflict"
	ErrCodeOutputLocked       = "output_locked"
	ErrCodeNotFoundOrBlocked  = "not_found_or_blocked"
	ErrCodeFetchFailed        = "fetch_failed"
	ErrCodeDecodeFailed       = "decode_failed"
	ErrCodeLegacyFormat       = "legacy_format_unsupported"
	ErrCodeEmptyManifest      = "empty_manifest"
	ErrCodeArchiveFailed      = "archive_failed"
	ErrCodeCanceled           = "canceled"
	ErrCodeConfigNotFound     = "config_not_found"
	ErrCodeConfigInvalid      = "config_invalid"
	ErrCodeInvalidProjectID   = "invalid_project_id"
	ErrCodeAmbiguousProjectID = "ambiguous_project_id"
)

// RunReport 是对外稳定输出（--report 文件 / stdout JSON）的结构。
type RunReport struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Output    string `json:"output"`

	State     State  `json:"state"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	// Entries 是归档成员的实际写入顺序（project.json 总是第一个）。
	Entries []string      `json:"entries"`
	Assets  []AssetResult `json:"assets"`
}

type ReportSummary struct {
	Targets    int   `json:"targets"`
	Assets     int   `json:"assets"`
	Fetched    int   `json:"fetched"`
	Skipped    int   `json:"skipped"`
	Duplicates int   `json:"duplicates"`
	Bytes      int64 `json:"bytes"`
}

// AssetResult 记录一次资源抓取的结果；顺序与 manifest 一致。
type AssetResult struct {
	Target    string      `json:"target"`
	Kind      AssetKind   `json:"kind"`
	Name      string      `json:"name"`
	ContentID string      `json:"content_id"`
	Format    AssetFormat `json:"format"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Bytes     int    `json:"bytes"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) nil slice 统一为空 slice（JSON 输出 [] 而不是 null）
// 3) summary 的资源计数由 assets 计算得出（Targets 由流水线填写）
//
// 注意：assets 的顺序就是 manifest 顺序，这里不排序。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Entries == nil {
		r.Entries = []string{}
	}
	if r.Assets == nil {
		r.Assets = []AssetResult{}
	}

	s := ReportSummary{Targets: r.Summary.Targets, Assets: len(r.Assets)}
	for _, a := range r.Assets {
		switch a.Status {
		case AssetStatusFetched:
			s.Fetched++
			s.Bytes += int64(a.Bytes)
		case AssetStatusSkipped:
			s.Skipped++
		case AssetStatusDuplicate:
			s.Duplicates++
		}
	}
	r.Summary = s

	if r.Status == "" {
		if r.State == StateDone {
			r.Status = StatusDone
		} else {
			r.Status = StatusFailed
		}
	}
}

// OK 表示 run 以 done 结束（允许有 skipped 资源）。
func (r RunReport) OK() bool { return r.State == StateDone }

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}

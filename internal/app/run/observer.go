package run

import (
	"time"

	"github.com/John-Robertt/sb3fetch/internal/config"
	"github.com/John-Robertt/sb3fetch/internal/domain"
)

// Observer 用于把“运行进度/阶段/资源结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 所有事件都在调用 ExecuteWithObserver 的 goroutine 上按顺序触发。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnState 在每次状态迁移后调用（包括进入 failed）。
	OnState(st domain.State)
	// OnPhaseDone 在阶段结束时调用（metadata / manifest / finalize），附带统计与耗时。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnAssetDone 在某个资源的结果按 manifest 顺序提交后调用。
	OnAssetDone(idx, total int, res domain.AssetResult, dur time.Duration)
	// OnTargetDone 在某个 target 的全部资源都已提交后调用。
	OnTargetDone(idx, total int, name string, fetched, planned int)
}

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                         {}
func (nopObserver) OnState(domain.State)                                   {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)      {}
func (nopObserver) OnAssetDone(int, int, domain.AssetResult, time.Duration) {}
func (nopObserver) OnTargetDone(int, int, string, int, int)                {}

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/sb3fetch/internal/app/planner"
	"github.com/John-Robertt/sb3fetch/internal/archive"
	"github.com/John-Robertt/sb3fetch/internal/config"
	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/infra/fsx"
	"github.com/John-Robertt/sb3fetch/internal/infra/httpx"
	"github.com/John-Robertt/sb3fetch/internal/infra/lockx"
	"github.com/John-Robertt/sb3fetch/internal/logging"
	"github.com/John-Robertt/sb3fetch/internal/provider"
	"github.com/John-Robertt/sb3fetch/internal/provider/scratch"
)

// Deps 是流水线的外部依赖。测试可以直接注入 stub fetcher。
type Deps struct {
	Metadata provider.MetadataFetcher
	Manifest provider.ManifestFetcher
	Assets   provider.AssetFetcher

	Logger *slog.Logger
	// ModTime 写入每个归档成员头；零值使用 archive 的固定默认值。
	ModTime time.Time
	// NewRunID 为空时使用 uuid。
	NewRunID func() string
}

// NewDeps 按最终配置构造真实的 Scratch client（API 与资源可走不同的 http.Client）。
func NewDeps(eff config.EffectiveConfig, logger *slog.Logger) (Deps, error) {
	api, err := httpx.NewAPIClient(eff.ProxyURL, eff.Timeout)
	if err != nil {
		return Deps{}, fmt.Errorf("proxy.url 无效：%w", err)
	}
	assets, err := httpx.NewAssetClient(eff.ProxyURL, eff.AssetProxy, eff.Timeout)
	if err != nil {
		return Deps{}, err
	}
	c := &scratch.Client{
		MetadataBaseURL: eff.MetadataBaseURL,
		ProjectsBaseURL: eff.ProjectsBaseURL,
		AssetsBaseURL:   eff.AssetsBaseURL,
		API:             api,
		Assets:          assets,
	}
	return Deps{Metadata: c, Manifest: c, Assets: c, Logger: logger}, nil
}

// Execute 执行一次 run，并返回对外稳定的 RunReport。
// 单个资源失败只会被记录为 skipped，不影响 run 的最终状态。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, deps, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, deps Deps, obs Observer) domain.RunReport {
	if obs == nil {
		obs = nopObserver{}
	}
	obs.OnStart(eff)

	runID := ""
	if deps.NewRunID != nil {
		runID = deps.NewRunID()
	} else {
		runID = uuid.NewString()
	}
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}

	p := &pipeline{
		eff:  eff,
		deps: deps,
		obs:  obs,
		log:  log.With("run_id", runID, "project_id", string(eff.ProjectID)),
		rr: domain.RunReport{
			RunID:     runID,
			ProjectID: string(eff.ProjectID),
			Output:    eff.Output,
			State:     domain.StateFetchingMetadata,
			StartedAt: time.Now().UTC(),
		},
	}
	p.execute(ctx)

	p.rr.FinishedAt = time.Now().UTC()
	p.rr.Finalize()
	p.log.Info("run 结束",
		"state", p.rr.State,
		"error_code", p.rr.ErrorCode,
		"fetched", p.rr.Summary.Fetched,
		"skipped", p.rr.Summary.Skipped,
		"duplicates", p.rr.Summary.Duplicates,
	)
	return p.rr
}

type pipeline struct {
	eff  config.EffectiveConfig
	deps Deps
	obs  Observer
	log  *slog.Logger
	rr   domain.RunReport
}

func (p *pipeline) transition(to domain.State) {
	from := p.rr.State
	if !domain.CanTransition(from, to) {
		// 只可能是流水线自身的编程错误。
		panic(fmt.Sprintf("非法状态迁移：%s -> %s", from, to))
	}
	p.rr.State = to
	p.log.Debug("状态迁移", "from", from, "to", to)
	p.obs.OnState(to)
}

func (p *pipeline) fail(code string, err error) {
	p.rr.ErrorCode = code
	p.rr.ErrorMsg = err.Error()
	p.log.Error("run 失败", "state", p.rr.State, "error_code", code, "err", err)
	p.transition(domain.StateFailed)
}

// errCode 把错误映射为 error_code；run 级 ctx 已取消时一律视为 canceled。
func errCode(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return domain.ErrCodeCanceled
	}
	return provider.Code(err)
}

func (p *pipeline) execute(ctx context.Context) {
	p.log.Info("开始归档", "output", p.eff.Output, "concurrency", p.eff.Concurrency)

	// 前置条件：全部在任何网络请求之前检查。
	plan, err := planner.PlanArchive(p.eff.ProjectID, p.eff.Output)
	if err != nil {
		p.fail(planner.Code(err), err)
		return
	}
	lock, err := lockx.TryAcquire(plan.LockPath)
	if err != nil {
		if errors.Is(err, lockx.ErrLocked) {
			p.fail(domain.ErrCodeOutputLocked, err)
		} else {
			p.fail(domain.ErrCodeArchiveFailed, err)
		}
		return
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.log.Warn("释放输出锁失败", "lock", lock.Path(), "err", err)
		}
	}()

	// metadata
	started := time.Now()
	meta, err := p.deps.Metadata.FetchMetadata(ctx, p.eff.ProjectID)
	if err != nil {
		p.fail(errCode(ctx, err), err)
		return
	}
	p.rr.Title = meta.Title
	p.rr.Author = meta.Author
	p.log.Info("metadata 就绪", "title", meta.Title, "author", meta.Author, "has_token", meta.Token != "")
	p.obs.OnPhaseDone("metadata", map[string]any{
		"title":  meta.Title,
		"author": meta.Author,
	}, time.Since(started))
	p.transition(domain.StateFetchingManifest)

	// manifest
	started = time.Now()
	m, err := p.deps.Manifest.FetchManifest(ctx, p.eff.ProjectID, meta.Token)
	if err != nil {
		p.fail(errCode(ctx, err), err)
		return
	}
	jobs := planner.PlanAssets(m)
	p.rr.Summary.Targets = len(m.Targets)
	p.log.Info("manifest 就绪", "targets", len(m.Targets), "assets", len(jobs), "semver", m.Meta.Semver)
	p.obs.OnPhaseDone("manifest", map[string]any{
		"targets": len(m.Targets),
		"assets":  len(jobs),
	}, time.Since(started))
	p.transition(domain.StateBuildingArchive)

	// manifest 解析成功后才创建 sink：任何更早的失败都不会留下文件。
	sink, err := fsx.CreateAtomic(plan.Dir, plan.Name)
	if err != nil {
		p.fail(sinkErrCode(err), err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			if err := sink.Abort(); err != nil {
				p.log.Warn("清理临时文件失败", "tmp", sink.Name(), "err", err)
			}
		}
	}()

	b, err := archive.New(sink, archive.Options{ModTime: p.deps.ModTime})
	if err != nil {
		p.fail(domain.ErrCodeArchiveFailed, err)
		return
	}
	if err := b.Append(domain.ManifestEntryName, m.Raw); err != nil {
		_ = b.Finalize()
		p.fail(domain.ErrCodeArchiveFailed, err)
		return
	}

	archiveErr := p.fetchAll(ctx, m, jobs, b)
	if ctx.Err() != nil {
		_ = b.Finalize()
		p.fail(domain.ErrCodeCanceled, ctx.Err())
		return
	}
	if archiveErr != nil {
		_ = b.Finalize()
		p.fail(domain.ErrCodeArchiveFailed, archiveErr)
		return
	}

	// finalizing：此时每个计划资源都已尝试且仅尝试一次。
	p.transition(domain.StateFinalizing)
	started = time.Now()
	if err := b.Finalize(); err != nil {
		p.fail(domain.ErrCodeArchiveFailed, err)
		return
	}
	if err := sink.Commit(); err != nil {
		p.fail(sinkErrCode(err), err)
		return
	}
	committed = true
	p.rr.Entries = b.Written()
	p.log.Info("归档完成", "output", plan.OutputAbs, "entries", len(p.rr.Entries), "bytes_in", b.BytesIn())
	p.obs.OnPhaseDone("finalize", map[string]any{
		"entries": len(p.rr.Entries),
		"output":  plan.OutputAbs,
	}, time.Since(started))
	p.transition(domain.StateDone)
}

func sinkErrCode(err error) string {
	switch {
	case errors.Is(err, os.ErrExist):
		return domain.ErrCodeOutputExists
	case fsx.IsPathTypeConflict(err):
		return domain.ErrCodeTargetConflict
	default:
		return domain.ErrCodeArchiveFailed
	}
}

type fetched struct {
	job  domain.AssetJob
	data []byte
	err  error
	dur  time.Duration
}

// fetchAll 并发抓取资源，并用重排缓冲区严格按 manifest 顺序写入归档。
//
// 在途 job 数被限制为 2*workers：feeder 与 consumer 都按 Seq 递增推进，
// 因此 pending 中最多只有一个窗口大小的结果。
// 返回值只表示归档写入失败；单个资源失败记录在 report 中。
func (p *pipeline) fetchAll(ctx context.Context, m domain.Manifest, jobs []domain.AssetJob, b *archive.Builder) error {
	workers := p.eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	prog := newTargetProgress(m, p.obs, p.log)
	prog.flush()
	if len(jobs) == 0 {
		return nil
	}

	window := make(chan struct{}, 2*workers)
	jobCh := make(chan domain.AssetJob)
	resCh := make(chan fetched, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				resCh <- p.fetchOne(ctx, j)
			}
		}()
	}

	go func() {
		defer func() {
			close(jobCh)
			wg.Wait()
			close(resCh)
		}()
		for _, j := range jobs {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	var archiveErr error
	pending := make(map[int]fetched, 2*workers)
	next := 0
	for r := range resCh {
		pending[r.job.Seq] = r
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := p.commit(ctx, cur, len(jobs), b, prog); err != nil && archiveErr == nil {
				archiveErr = err
			}
			next++
			<-window
		}
	}
	prog.flush()
	return archiveErr
}

func (p *pipeline) fetchOne(ctx context.Context, j domain.AssetJob) fetched {
	fctx := ctx
	if p.eff.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.eff.Timeout)
		defer cancel()
	}
	started := time.Now()
	data, err := p.deps.Assets.FetchAsset(fctx, j.Ref)
	return fetched{job: j, data: data, err: err, dur: time.Since(started)}
}

// commit 在 consumer goroutine 上按 Seq 顺序处理一个抓取结果。
func (p *pipeline) commit(ctx context.Context, r fetched, total int, b *archive.Builder, prog *targetProgress) error {
	ref := r.job.Ref
	res := domain.AssetResult{
		Target:    r.job.TargetName,
		Kind:      ref.Kind,
		Name:      ref.Name,
		ContentID: ref.ContentID(),
		Format:    ref.Format(),
	}

	var archiveErr error
	switch {
	case r.err != nil:
		res.Status = domain.AssetStatusSkipped
		res.ErrorCode = errCode(ctx, r.err)
		res.ErrorMsg = r.err.Error()
		p.log.Warn("跳过资源",
			"target", res.Target,
			"asset", res.Name,
			"content_id", res.ContentID,
			"error_code", res.ErrorCode,
			"err", r.err,
		)
	default:
		err := b.Append(res.ContentID, r.data)
		switch {
		case err == nil:
			res.Status = domain.AssetStatusFetched
			res.Bytes = len(r.data)
			p.log.Debug("资源已写入", "target", res.Target, "content_id", res.ContentID, "bytes", res.Bytes)
		case errors.Is(err, archive.ErrDuplicateEntry):
			res.Status = domain.AssetStatusDuplicate
			res.Bytes = len(r.data)
			p.log.Info("重复资源，保留先写入的条目", "target", res.Target, "content_id", res.ContentID)
		default:
			res.Status = domain.AssetStatusSkipped
			res.ErrorCode = domain.ErrCodeArchiveFailed
			res.ErrorMsg = err.Error()
			archiveErr = err
		}
	}

	p.rr.Assets = append(p.rr.Assets, res)
	p.obs.OnAssetDone(len(p.rr.Assets), total, res, r.dur)
	prog.record(r.job.TargetIndex, res.Status != domain.AssetStatusSkipped)
	return archiveErr
}

// targetProgress 统计每个 target 已提交的资源数；提交严格有序，所以 target 也按顺序完成。
type targetProgress struct {
	names   []string
	planned []int
	seen    []int
	fetched []int
	next    int

	obs Observer
	log *slog.Logger
}

func newTargetProgress(m domain.Manifest, obs Observer, log *slog.Logger) *targetProgress {
	tp := &targetProgress{
		names:   make([]string, len(m.Targets)),
		planned: planner.TargetSizes(m),
		seen:    make([]int, len(m.Targets)),
		fetched: make([]int, len(m.Targets)),
		obs:     obs,
		log:     log,
	}
	for i, t := range m.Targets {
		tp.names[i] = t.Name
	}
	return tp
}

func (tp *targetProgress) record(ti int, ok bool) {
	tp.seen[ti]++
	if ok {
		tp.fetched[ti]++
	}
	tp.flush()
}

// flush 依次上报所有已完成的 target（资源数为 0 的 target 会立即完成）。
func (tp *targetProgress) flush() {
	for tp.next < len(tp.planned) && tp.seen[tp.next] == tp.planned[tp.next] {
		i := tp.next
		tp.log.Info("target 完成",
			"index", i+1,
			"target", tp.names[i],
			"fetched", tp.fetched[i],
			"planned", tp.planned[i],
		)
		tp.obs.OnTargetDone(i+1, len(tp.planned), tp.names[i], tp.fetched[i], tp.planned[i])
		tp.next++
	}
}

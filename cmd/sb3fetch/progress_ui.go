package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/sb3fetch/internal/app/run"
	"github.com/John-Robertt/sb3fetch/internal/config"
	"github.com/John-Robertt/sb3fetch/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的逐行进度输出。
//
// 所有过程信息写到 stderr，不污染 stdout；事件由 run 层在同一个 goroutine 上按顺序触发。
type progressUI struct {
	w         io.Writer
	startedAt time.Time

	fetched int
	skipped int
	bytes   int64
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{w: w}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.startedAt = time.Now()

	fmt.Fprintf(p.w, "[%s] sb3fetch run %s\n", p.startedAt.Format("15:04:05"), eff.ProjectID)
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  output: %s\n", eff.Output)
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  timeout: %s\n", eff.Timeout)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  asset_proxy: %s\n", onOff(eff.AssetProxy))
	if eff.AssetsBaseURL != "" {
		fmt.Fprintf(p.w, "  assets: %s\n", truncate(eff.AssetsBaseURL, 120))
	}
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnState(st domain.State) {
	switch st {
	case domain.StateFailed:
		fmt.Fprintf(p.w, "状态: failed (%s)\n", formatShortDuration(time.Since(p.startedAt)))
	case domain.StateDone:
		fmt.Fprintf(p.w, "状态: done fetched=%d skipped=%d bytes=%s (%s)\n",
			p.fetched, p.skipped, humanize.Bytes(uint64(p.bytes)), formatShortDuration(time.Since(p.startedAt)),
		)
	default:
		fmt.Fprintf(p.w, "状态: %s\n", st)
	}
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	switch name {
	case "metadata":
		fmt.Fprintf(p.w, "metadata: title=%q author=%q (%s)\n",
			stringField(fields, "title"), stringField(fields, "author"), formatShortDuration(dur),
		)
	case "manifest":
		fmt.Fprintf(p.w, "manifest: targets=%d assets=%d (%s)\n",
			intField(fields, "targets"), intField(fields, "assets"), formatShortDuration(dur),
		)
	case "finalize":
		fmt.Fprintf(p.w, "归档: entries=%d -> %s (%s)\n",
			intField(fields, "entries"), stringField(fields, "output"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

func (p *progressUI) OnAssetDone(idx, total int, res domain.AssetResult, dur time.Duration) {
	switch res.Status {
	case domain.AssetStatusFetched:
		p.fetched++
		p.bytes += int64(res.Bytes)
		fmt.Fprintf(p.w, "[%d/%d] OK %s/%s %s %s (%s)\n",
			idx, total, res.Target, res.Name, res.ContentID, humanize.Bytes(uint64(res.Bytes)), formatShortDuration(dur),
		)
	case domain.AssetStatusDuplicate:
		fmt.Fprintf(p.w, "[%d/%d] DUP %s/%s %s (已存在同名条目)\n",
			idx, total, res.Target, res.Name, res.ContentID,
		)
	default:
		p.skipped++
		fmt.Fprintf(p.w, "[%d/%d] SKIP %s/%s %s %s: %s (%s)\n",
			idx, total, res.Target, res.Name, res.ContentID, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}
}

func (p *progressUI) OnTargetDone(idx, total int, name string, fetched, planned int) {
	fmt.Fprintf(p.w, "target %d/%d %q: 已抓取 %d/%d 个造型与声音\n", idx, total, name, fetched, planned)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func intField(fields map[string]any, key string) int {
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

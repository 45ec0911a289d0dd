package run

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/sb3fetch/internal/config"
	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/testsupport/fakeapi"
)

func effFor(t *testing.T, srv *fakeapi.Server, id string) config.EffectiveConfig {
	t.Helper()
	return config.EffectiveConfig{
		ProjectID:       domain.ProjectID(id),
		Output:          filepath.Join(t.TempDir(), id+".sb3"),
		Concurrency:     1,
		Timeout:         5 * time.Second,
		MetadataBaseURL: srv.URL,
		ProjectsBaseURL: srv.URL,
		AssetsBaseURL:   srv.URL,
	}
}

func depsFor(t *testing.T, eff config.EffectiveConfig) Deps {
	t.Helper()
	deps, err := NewDeps(eff, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return deps
}

// readZip 按中央目录顺序返回成员名及其内容。
func readZip(t *testing.T, path string) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("打开归档失败：%v", err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	data := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("打开成员 %q 失败：%v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("读取成员 %q 失败：%v", f.Name, err)
		}
		names = append(names, f.Name)
		data[f.Name] = b
	}
	return names, data
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stubFetcher 在内存中实现三个 fetcher 接口。
type stubFetcher struct {
	meta    domain.ProjectMetadata
	metaErr error

	manifest    domain.Manifest
	manifestErr error

	assets    map[string][]byte
	assetErrs map[string]error
	// delay 让指定资源变慢，用于验证并发下的写入顺序。
	delay map[string]time.Duration
	// block 非空时，资源请求会阻塞直到 ctx 结束。
	block bool

	mu    sync.Mutex
	calls map[string]int
}

func (s *stubFetcher) FetchMetadata(ctx context.Context, id domain.ProjectID) (domain.ProjectMetadata, error) {
	if s.metaErr != nil {
		return domain.ProjectMetadata{}, s.metaErr
	}
	m := s.meta
	m.ID = id
	return m, nil
}

func (s *stubFetcher) FetchManifest(ctx context.Context, id domain.ProjectID, token string) (domain.Manifest, error) {
	if s.manifestErr != nil {
		return domain.Manifest{}, s.manifestErr
	}
	return s.manifest, nil
}

func (s *stubFetcher) FetchAsset(ctx context.Context, ref domain.AssetRef) ([]byte, error) {
	id := ref.ContentID()
	s.mu.Lock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[id]++
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := s.delay[id]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.assetErrs[id]; err != nil {
		return nil, err
	}
	b, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("no such asset %q", id)
	}
	return b, nil
}

func (s *stubFetcher) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *stubFetcher) deps() Deps {
	return Deps{Metadata: s, Manifest: s, Assets: s}
}

func costume(id string) domain.AssetRef {
	return domain.AssetRef{Kind: domain.AssetCostume, Name: id, MD5Ext: id}
}

func sound(id string) domain.AssetRef {
	return domain.AssetRef{Kind: domain.AssetSound, Name: id, MD5Ext: id}
}

// recObserver 记录所有事件，用于断言事件顺序。
type recObserver struct {
	states  []domain.State
	phases  []string
	assets  []domain.AssetResult
	targets []string
	started bool
}

func (o *recObserver) OnStart(config.EffectiveConfig) { o.started = true }
func (o *recObserver) OnState(st domain.State)        { o.states = append(o.states, st) }
func (o *recObserver) OnPhaseDone(name string, _ map[string]any, _ time.Duration) {
	o.phases = append(o.phases, name)
}
func (o *recObserver) OnAssetDone(_, _ int, res domain.AssetResult, _ time.Duration) {
	o.assets = append(o.assets, res)
}
func (o *recObserver) OnTargetDone(idx, total int, name string, fetched, planned int) {
	o.targets = append(o.targets, fmt.Sprintf("%d/%d %s %d/%d", idx, total, name, fetched, planned))
}

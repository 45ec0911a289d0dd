package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/sb3fetch/internal/config"
	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/infra/lockx"
	"github.com/John-Robertt/sb3fetch/internal/provider"
)

func stubEff(t *testing.T, concurrency int) config.EffectiveConfig {
	t.Helper()
	return config.EffectiveConfig{
		ProjectID:   "42",
		Output:      filepath.Join(t.TempDir(), "42.sb3"),
		Concurrency: concurrency,
		Timeout:     5 * time.Second,
	}
}

func manyAssetsStub(n int) *stubFetcher {
	s := &stubFetcher{
		meta:   domain.ProjectMetadata{Title: "T", Author: "A", Token: "x"},
		assets: map[string][]byte{},
		delay:  map[string]time.Duration{},
	}
	var costumes, sounds []domain.AssetRef
	for i := 0; i < n; i++ {
		c := fmt.Sprintf("c%02d.png", i)
		snd := fmt.Sprintf("s%02d.wav", i)
		costumes = append(costumes, costume(c))
		sounds = append(sounds, sound(snd))
		s.assets[c] = []byte(c)
		s.assets[snd] = []byte(snd)
		// 越靠前越慢：并发时完成顺序与 manifest 顺序相反。
		s.delay[c] = time.Duration(n-i) * 3 * time.Millisecond
	}
	s.manifest = domain.Manifest{
		Raw: []byte(`{"targets":[]}`),
		Targets: []domain.Target{
			{Name: "Stage", IsStage: true},
			{Name: "Sprite1", Costumes: costumes, Sounds: sounds},
		},
	}
	return s
}

func TestExecute_ConcurrentFetchKeepsManifestOrder(t *testing.T) {
	var want []string
	for _, c := range []int{1, 4, 16} {
		s := manyAssetsStub(10)
		eff := stubEff(t, c)
		rr := Execute(context.Background(), eff, s.deps())
		if !rr.OK() {
			t.Fatalf("concurrency=%d 期望 done，实际 %s/%s", c, rr.State, rr.ErrorCode)
		}
		names, _ := readZip(t, eff.Output)
		if want == nil {
			want = names
			continue
		}
		if !equalStrings(names, want) {
			t.Fatalf("concurrency=%d 成员顺序不一致：\n期望 %v\n实际 %v", c, want, names)
		}
	}
	if len(want) != 21 || want[0] != domain.ManifestEntryName || want[1] != "c00.png" || want[11] != "s00.wav" {
		t.Fatalf("成员顺序不符合 manifest 顺序：%v", want)
	}
}

func TestExecute_EachAssetAttemptedOnce(t *testing.T) {
	s := manyAssetsStub(5)
	s.assetErrs = map[string]error{"c02.png": errors.New("boom")}
	eff := stubEff(t, 4)

	rr := Execute(context.Background(), eff, s.deps())
	if !rr.OK() {
		t.Fatalf("期望 done，实际 %s/%s", rr.State, rr.ErrorCode)
	}
	for id := range s.assets {
		if n := s.callCount(id); n != 1 {
			t.Fatalf("资源 %q 期望请求 1 次，实际 %d", id, n)
		}
	}
	if rr.Summary.Skipped != 1 || rr.Summary.Fetched != 9 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
}

func TestExecute_DuplicateContentID_FirstWriteWins(t *testing.T) {
	s := &stubFetcher{
		manifest: domain.Manifest{
			Raw: []byte(`{}`),
			Targets: []domain.Target{
				{Name: "Stage", IsStage: true, Sounds: []domain.AssetRef{sound("pop.wav")}},
				{Name: "Cat", Sounds: []domain.AssetRef{sound("pop.wav")}},
			},
		},
		assets: map[string][]byte{"pop.wav": []byte("RIFF")},
	}
	eff := stubEff(t, 1)

	rr := Execute(context.Background(), eff, s.deps())
	if !rr.OK() {
		t.Fatalf("期望 done，实际 %s/%s", rr.State, rr.ErrorCode)
	}
	names, _ := readZip(t, eff.Output)
	if want := []string{"project.json", "pop.wav"}; !equalStrings(names, want) {
		t.Fatalf("期望成员 %v，实际 %v", want, names)
	}
	if rr.Assets[0].Status != domain.AssetStatusFetched || rr.Assets[1].Status != domain.AssetStatusDuplicate {
		t.Fatalf("期望 fetched+duplicate，实际 %+v", rr.Assets)
	}
	if rr.Assets[1].Target != "Cat" {
		t.Fatalf("重复资源应记录在第二个 target 上：%+v", rr.Assets[1])
	}
	if s.callCount("pop.wav") != 2 {
		t.Fatalf("重复资源仍应各自请求一次，实际 %d", s.callCount("pop.wav"))
	}
}

func TestExecute_ManifestLegacy_NoSink(t *testing.T) {
	s := &stubFetcher{
		manifestErr: &provider.Error{Stage: provider.StageManifest, Err: provider.ErrLegacyFormatUnsupported},
	}
	eff := stubEff(t, 1)
	obs := &recObserver{}

	rr := ExecuteWithObserver(context.Background(), eff, s.deps(), obs)
	if rr.ErrorCode != domain.ErrCodeLegacyFormat {
		t.Fatalf("期望 %s，实际 %s", domain.ErrCodeLegacyFormat, rr.ErrorCode)
	}
	want := []domain.State{domain.StateFetchingManifest, domain.StateFailed}
	if len(obs.states) != len(want) || obs.states[0] != want[0] || obs.states[1] != want[1] {
		t.Fatalf("状态序列期望 %v，实际 %v", want, obs.states)
	}
	assertNoFiles(t, filepath.Dir(eff.Output))
}

func TestExecute_OutputLocked(t *testing.T) {
	s := manyAssetsStub(1)
	eff := stubEff(t, 1)

	l, err := lockx.TryAcquire(eff.Output + ".lock")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer l.Release()

	rr := Execute(context.Background(), eff, s.deps())
	if rr.ErrorCode != domain.ErrCodeOutputLocked {
		t.Fatalf("期望 %s，实际 %s（%s）", domain.ErrCodeOutputLocked, rr.ErrorCode, rr.ErrorMsg)
	}
	if _, err := os.Stat(eff.Output); !os.IsNotExist(err) {
		t.Fatalf("锁冲突时不应产生输出，err=%v", err)
	}
}

func TestExecute_Canceled_RemovesTempFile(t *testing.T) {
	s := manyAssetsStub(2)
	s.block = true
	eff := stubEff(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &recObserver{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	rr := ExecuteWithObserver(ctx, eff, s.deps(), obs)
	if rr.State != domain.StateFailed || rr.ErrorCode != domain.ErrCodeCanceled {
		t.Fatalf("期望 failed/canceled，实际 %s/%s", rr.State, rr.ErrorCode)
	}
	assertNoFiles(t, filepath.Dir(eff.Output))
}

func TestExecute_SlowAssetTimesOut_Skipped(t *testing.T) {
	s := manyAssetsStub(1)
	s.delay["c00.png"] = time.Second
	eff := stubEff(t, 1)
	eff.Timeout = 20 * time.Millisecond

	rr := Execute(context.Background(), eff, s.deps())
	if !rr.OK() {
		t.Fatalf("单个资源超时不应导致 run 失败：%s/%s", rr.State, rr.ErrorCode)
	}
	if rr.Assets[0].Status != domain.AssetStatusSkipped || rr.Assets[0].ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("超时资源记录不符合预期：%+v", rr.Assets[0])
	}
}

func TestExecuteWithObserver_EventOrder(t *testing.T) {
	s := manyAssetsStub(1)
	eff := stubEff(t, 1)
	obs := &recObserver{}

	rr := ExecuteWithObserver(context.Background(), eff, s.deps(), obs)
	if !rr.OK() {
		t.Fatalf("期望 done，实际 %s/%s", rr.State, rr.ErrorCode)
	}
	if !obs.started {
		t.Fatalf("期望触发 OnStart")
	}
	wantStates := []domain.State{domain.StateFetchingManifest, domain.StateBuildingArchive, domain.StateFinalizing, domain.StateDone}
	if len(obs.states) != len(wantStates) {
		t.Fatalf("状态序列期望 %v，实际 %v", wantStates, obs.states)
	}
	for i := range wantStates {
		if obs.states[i] != wantStates[i] {
			t.Fatalf("状态序列期望 %v，实际 %v", wantStates, obs.states)
		}
	}
	if want := []string{"metadata", "manifest", "finalize"}; !equalStrings(obs.phases, want) {
		t.Fatalf("阶段期望 %v，实际 %v", want, obs.phases)
	}
	if want := []string{"1/2 Stage 0/0", "2/2 Sprite1 2/2"}; !equalStrings(obs.targets, want) {
		t.Fatalf("target 进度期望 %v，实际 %v", want, obs.targets)
	}
	if len(obs.assets) != 2 {
		t.Fatalf("期望 2 个资源事件，实际 %d", len(obs.assets))
	}
}

func TestExecute_RunIDAndFixedModTime(t *testing.T) {
	s := manyAssetsStub(1)
	eff := stubEff(t, 1)
	deps := s.deps()
	deps.NewRunID = func() string { return "run-1" }
	deps.ModTime = time.Date(2020, 1, 2, 3, 4, 6, 0, time.UTC)

	rr := Execute(context.Background(), eff, deps)
	if rr.RunID != "run-1" {
		t.Fatalf("期望 run_id=run-1，实际 %q", rr.RunID)
	}
	if rr.StartedAt.Location() != time.UTC || rr.FinishedAt.Before(rr.StartedAt) {
		t.Fatalf("时间字段不符合预期：%v %v", rr.StartedAt, rr.FinishedAt)
	}
}

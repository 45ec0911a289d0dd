package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

type bufSink struct {
	bytes.Buffer
	closed int
}

func (s *bufSink) Close() error {
	s.closed++
	return nil
}

type failSink struct {
	after int
	n     int
}

func (s *failSink) Write(p []byte) (int, error) {
	if s.n+len(p) > s.after {
		return 0, errors.New("disk full")
	}
	s.n += len(p)
	return len(p), nil
}

func (s *failSink) Close() error { return nil }

func readZip(t *testing.T, b []byte) *zip.Reader {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("不是合法 zip：%v", err)
	}
	return zr
}

func TestBuilder_OrderAndContent(t *testing.T) {
	sink := &bufSink{}
	b, err := New(sink, Options{QueueSize: 1})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	entries := []struct {
		name string
		data string
	}{
		{"project.json", `{"targets":[]}`},
		{"a.svg", "<svg/>"},
		{"b.png", "\x89PNG"},
		{"c.wav", "RIFF"},
	}
	for _, e := range entries {
		if err := b.Append(e.name, []byte(e.data)); err != nil {
			t.Fatalf("Append(%q) 失败：%v", e.name, err)
		}
	}
	if err := b.Finalize(); err != nil {
		t.Fatalf("Finalize 失败：%v", err)
	}
	if sink.closed != 1 {
		t.Fatalf("Finalize 应关闭 sink 一次，实际 %d", sink.closed)
	}

	zr := readZip(t, sink.Bytes())
	if len(zr.File) != len(entries) {
		t.Fatalf("期望 %d 个成员，实际 %d", len(entries), len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != entries[i].name {
			t.Fatalf("第 %d 个成员：期望 %q，实际 %q", i, entries[i].name, f.Name)
		}
		if f.Method != zip.Deflate {
			t.Fatalf("成员 %q 应使用 deflate", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("打开成员失败：%v", err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if string(got) != entries[i].data {
			t.Fatalf("成员 %q 内容不一致：%q", f.Name, got)
		}
	}

	if w := b.Written(); len(w) != 4 || w[0] != "project.json" {
		t.Fatalf("Written 不符合预期：%v", w)
	}
	if b.BytesIn() != int64(len(`{"targets":[]}`)+len("<svg/>")+len("\x89PNG")+len("RIFF")) {
		t.Fatalf("BytesIn 统计不正确：%d", b.BytesIn())
	}
}

func TestBuilder_DuplicateFirstWriteWins(t *testing.T) {
	sink := &bufSink{}
	b, err := New(sink, Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := b.Append("a.png", []byte("first")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := b.Append("a.png", []byte("second")); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("期望 ErrDuplicateEntry，实际 %v", err)
	}
	if err := b.Finalize(); err != nil {
		t.Fatalf("重复条目不应导致 Finalize 失败：%v", err)
	}

	zr := readZip(t, sink.Bytes())
	if len(zr.File) != 1 {
		t.Fatalf("期望 1 个成员，实际 %d", len(zr.File))
	}
	rc, _ := zr.File[0].Open()
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "first" {
		t.Fatalf("先写者应胜出，实际 %q", got)
	}
}

func TestBuilder_AppendAfterFinalize(t *testing.T) {
	b, err := New(&bufSink{}, Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := b.Finalize(); err != nil {
		t.Fatalf("空归档 Finalize 不应失败：%v", err)
	}
	if err := b.Append("x", nil); !errors.Is(err, ErrFinalized) {
		t.Fatalf("期望 ErrFinalized，实际 %v", err)
	}
	if err := b.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("重复 Finalize 期望 ErrFinalized，实际 %v", err)
	}
}

func TestBuilder_WriteErrorSurfacesAtFinalize(t *testing.T) {
	b, err := New(&failSink{after: 64}, Options{QueueSize: 1})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	big := bytes.Repeat([]byte{0xAB}, 64<<10)
	for i := 0; i < 4; i++ {
		// 写入失败之后 Append 可能直接返回错误；这里不关心具体哪一次。
		_ = b.Append(string(rune('a'+i))+".bin", big)
	}
	if err := b.Finalize(); err == nil {
		t.Fatalf("sink 写入失败时 Finalize 应返回错误")
	}
	if b.Err() == nil {
		t.Fatalf("Err 应记录首个错误")
	}
}

func TestBuilder_DeterministicBytes(t *testing.T) {
	build := func() []byte {
		sink := &bufSink{}
		b, err := New(sink, Options{ModTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)})
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		_ = b.Append("project.json", []byte(`{"targets":[{"name":"Stage"}]}`))
		_ = b.Append("a.svg", []byte("<svg/>"))
		if err := b.Finalize(); err != nil {
			t.Fatalf("Finalize 失败：%v", err)
		}
		return sink.Bytes()
	}
	if !bytes.Equal(build(), build()) {
		t.Fatalf("相同输入应得到相同字节")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatalf("nil sink 应报错")
	}
	if _, err := New(&bufSink{}, Options{Level: 42}); err == nil {
		t.Fatalf("非法压缩级别应报错")
	}
	b, err := New(&bufSink{}, Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := b.Append("", []byte("x")); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("期望 ErrEmptyName，实际 %v", err)
	}
	_ = b.Finalize()
}

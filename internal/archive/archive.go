// Package archive 把命名字节条目流式写成一个 zip 容器（.sb3）。
//
// Builder 内部维护一个有界队列和一个写入 goroutine：Append 只负责入队，
// Finalize 是唯一的同步点（等待队列排空、关闭 zip 与 sink，并返回第一个错误）。
package archive

import (
	"archive/zip"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	// ErrDuplicateEntry 表示同名条目已写入过；策略是先写者胜，后来的条目被丢弃。
	ErrDuplicateEntry = errors.New("archive: 重复的条目名")
	// ErrFinalized 表示 Finalize 之后又调用了 Append。
	ErrFinalized = errors.New("archive: 已经 finalize")
	// ErrEmptyName 表示条目名为空。
	ErrEmptyName = errors.New("archive: 条目名不能为空")
)

const defaultQueueSize = 8

// Options 控制归档行为。
type Options struct {
	// ModTime 写入每个条目头；固定值保证相同输入得到相同成员头。零值时使用 1980-01-01（zip 最早可表示时间）。
	ModTime time.Time
	// QueueSize 是待写条目队列长度；<=0 时使用默认值。
	QueueSize int
	// Level 是 deflate 压缩级别；0 表示 flate.BestCompression。
	Level int
}

type entry struct {
	name string
	data []byte
}

// Builder 累积条目并最终写出 zip。Append 与 Finalize 必须由同一个 goroutine 调用。
type Builder struct {
	sink io.WriteCloser
	zw   *zip.Writer
	mod  time.Time

	queue chan entry
	done  chan struct{}

	seen      map[string]struct{}
	names     []string
	finalized bool

	mu      sync.Mutex
	err     error
	written []string
	bytesIn int64
}

// New 创建 Builder 并启动写入 goroutine。sink 由 Builder 接管：Finalize 会关闭它。
func New(sink io.WriteCloser, opts Options) (*Builder, error) {
	if sink == nil {
		return nil, errors.New("archive: sink 不能为空")
	}
	level := opts.Level
	if level == 0 {
		level = flate.BestCompression
	}
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		return nil, fmt.Errorf("archive: 非法压缩级别 %d", level)
	}
	qs := opts.QueueSize
	if qs <= 0 {
		qs = defaultQueueSize
	}
	mod := opts.ModTime
	if mod.IsZero() {
		mod = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	zw := zip.NewWriter(sink)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	b := &Builder{
		sink:  sink,
		zw:    zw,
		mod:   mod,
		queue: make(chan entry, qs),
		done:  make(chan struct{}),
		seen:  map[string]struct{}{},
	}
	go b.loop()
	return b, nil
}

// Append 把一个条目放入写入队列。
//
// - 同名条目：返回 ErrDuplicateEntry，不入队（先写者胜）
// - 写入 goroutine 已失败：返回该错误（后续条目不再有意义）
// - 队列满时会阻塞，直到写入 goroutine 追上
//
// data 在入队后归 Builder 所有，调用方不应再修改。
func (b *Builder) Append(name string, data []byte) error {
	if b.finalized {
		return ErrFinalized
	}
	if name == "" {
		return ErrEmptyName
	}
	if err := b.Err(); err != nil {
		return err
	}
	if _, ok := b.seen[name]; ok {
		return fmt.Errorf("%w：%s", ErrDuplicateEntry, name)
	}
	b.seen[name] = struct{}{}
	b.names = append(b.names, name)
	b.queue <- entry{name: name, data: data}
	return nil
}

// Finalize 排空队列、写出 zip 目录并关闭 sink；返回写入过程中的第一个错误。
// 只能调用一次；之后的 Append 返回 ErrFinalized。
func (b *Builder) Finalize() error {
	if b.finalized {
		return ErrFinalized
	}
	b.finalized = true
	close(b.queue)
	<-b.done

	err := b.Err()
	if err == nil {
		err = b.zw.Close()
	}
	if cerr := b.sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.setErr(err)
	}
	return err
}

// Names 返回已接受（入队）的条目名，顺序即写入顺序。
func (b *Builder) Names() []string {
	return append([]string(nil), b.names...)
}

// Written 返回已真正写入 zip 的条目名（Finalize 之后与 Names 一致，除非写入失败）。
func (b *Builder) Written() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.written...)
}

// BytesIn 返回已写入条目的原始（未压缩）字节数。
func (b *Builder) BytesIn() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesIn
}

// Err 返回写入 goroutine 遇到的第一个错误。
func (b *Builder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Builder) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) loop() {
	defer close(b.done)
	for e := range b.queue {
		if b.Err() != nil {
			// 已失败：继续排空队列，避免 Append 阻塞。
			continue
		}
		if err := b.write(e); err != nil {
			b.setErr(fmt.Errorf("archive: 写入 %q 失败：%w", e.name, err))
		}
	}
}

func (b *Builder) write(e entry) error {
	hdr := &zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: b.mod,
	}
	w, err := b.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := w.Write(e.data); err != nil {
		return err
	}

	b.mu.Lock()
	b.written = append(b.written, e.name)
	b.bytesIn += int64(len(e.data))
	b.mu.Unlock()
	return nil
}

package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
// 临时文件总是与目标同目录，正常不会出现；出现即说明目录是挂载点之类的特殊情况。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动失败（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// CheckNoOverwrite 检查 dst 是否可以作为新文件写入。
//
// - 不存在：nil
// - 已是普通文件：os.ErrExist
// - 是目录/其他类型：*PathTypeConflictError
func CheckNoOverwrite(dst string) error {
	fi, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return os.ErrExist
}

// WriteFileAtomicReplace 在 dir 下原子写入 name（临时文件 + rename），目标已存在则覆盖。
// 用于 report 等内部产物；归档输出请使用 CreateAtomic（不允许覆盖）。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	f, err := createAtomic(dir, name, 0o644, true)
	if err != nil {
		return err
	}
	if err := writeAll(f, data); err != nil {
		_ = f.Abort()
		return err
	}
	return f.Commit()
}

// AtomicFile 是同目录临时文件：写完后 Commit 一次性 rename 到最终文件名；
// 任何失败路径都应 Abort，保证目标路径上永远不会出现半截文件。
type AtomicFile struct {
	dir     string
	dst     string
	perm    os.FileMode
	replace bool

	tmp    *os.File
	closed bool
	done   bool
}

// CreateAtomic 在 dir 下为 name 创建临时文件（不允许覆盖已存在的 name）。
//
// - 临时文件必须与目标文件在同目录，以保证 rename 的原子性
// - 创建前先做一次冲突检查，尽早失败；Commit 时会再检查一次
func CreateAtomic(dir, name string) (*AtomicFile, error) {
	if err := CheckNoOverwrite(filepath.Join(filepath.Clean(dir), name)); err != nil {
		return nil, err
	}
	return createAtomic(dir, name, 0o644, false)
}

func createAtomic(dir, name string, perm os.FileMode, replace bool) (*AtomicFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// 临时文件前缀带 '.'，避免被当作产物。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &AtomicFile{
		dir:     dir,
		dst:     filepath.Join(dir, name),
		perm:    perm,
		replace: replace,
		tmp:     tmp,
	}, nil
}

func (f *AtomicFile) Write(p []byte) (int, error) {
	if f.done || f.closed {
		return 0, os.ErrClosed
	}
	return f.tmp.Write(p)
}

// Close fsync 并关闭临时文件句柄（满足 io.WriteCloser），不做 rename。
// 允许重复调用；归档写入方关闭 sink 之后仍可 Commit。
func (f *AtomicFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.tmp.Sync(); err != nil {
		_ = f.tmp.Close()
		return err
	}
	return f.tmp.Close()
}

// Name 返回临时文件路径（测试/诊断用）。
func (f *AtomicFile) Name() string { return f.tmp.Name() }

// Path 返回最终目标路径。
func (f *AtomicFile) Path() string { return f.dst }

// Commit fsync + rename 到最终文件名。失败时临时文件会被清理。
func (f *AtomicFile) Commit() error {
	if f.done {
		return os.ErrClosed
	}
	f.done = true
	tmpName := f.tmp.Name()

	// rename 成功后，不应删除最终文件；其余路径都要清理临时文件。
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, f.perm); err != nil {
		return err
	}
	if !f.replace {
		if err := CheckNoOverwrite(f.dst); err != nil {
			return err
		}
	}
	if err := Rename(tmpName, f.dst); err != nil {
		return err
	}
	committed = true

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(f.dir)
	return nil
}

// Abort 放弃写入并删除临时文件。Commit 之后调用是 no-op。
func (f *AtomicFile) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	_ = f.Close()
	err := os.Remove(f.tmp.Name())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

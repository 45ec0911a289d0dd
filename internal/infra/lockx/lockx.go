package lockx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked 表示锁已被其他进程持有（同一个输出正在被另一次 run 写入）。
var ErrLocked = errors.New("输出正在被另一个进程写入")

// Lock 是基于 flock 的进程间互斥锁。
// 只保护“同一输出路径不被并发写”，不跨机器、不跨网络文件系统做保证。
type Lock struct {
	path string
	fl   *flock.Flock
}

// TryAcquire 非阻塞地获取 path 上的锁；已被持有时返回 ErrLocked。
func TryAcquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取锁失败 %q：%w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w：%s", ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path 返回锁文件路径。
func (l *Lock) Path() string { return l.path }

// Release 释放锁并删除锁文件（best-effort）。允许对 nil 调用。
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	_ = os.Remove(l.path)
	l.fl = nil
	return err
}

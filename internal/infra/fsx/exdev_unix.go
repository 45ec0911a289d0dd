//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isEXDEV 同时兼容裸 errno 与 *os.LinkError（errors.Is 会沿 Unwrap 链查找）。
func isEXDEV(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

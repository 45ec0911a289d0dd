package provider

import (
	"errors"
	"fmt"

	"github.com/John-Robertt/sb3fetch/internal/domain"
)

var (
	// ErrNotFoundOrBlocked：metadata 为空/不可解析，或带有 code 字段。
	ErrNotFoundOrBlocked = errors.New("项目不存在或不可访问")
	// ErrLegacyFormatUnsupported：manifest 不是可识别的 3.0 结构化文档（不做任何兜底解析）。
	ErrLegacyFormatUnsupported = errors.New("manifest 格式不受支持（可能是旧版项目）")
	// ErrEmptyManifest：manifest 可以解析，但没有可用内容。
	ErrEmptyManifest = errors.New("manifest 为空")
	// ErrInvalidVector：矢量资源不是合法的 UTF-8 文本。
	ErrInvalidVector = errors.New("矢量资源不是合法文本")
	// ErrMissingContentID：资源引用既没有 md5ext 也无法拼出内容标识。
	ErrMissingContentID = errors.New("资源缺少内容标识")
)

const (
	StageMetadata = "metadata"
	StageManifest = "manifest"
	StageAsset    = "asset"
)

// Error 是某个抓取阶段的可追溯错误。
// 上层据此把失败归类为 error_code，并写入 report。
type Error struct {
	Stage string // metadata / manifest / asset
	Ref   string // 资源内容标识或项目 id（用于定位）
	Err   error
}

func (e *Error) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("stage=%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage=%s ref=%s: %v", e.Stage, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 把 err 映射为对外稳定的 error_code。无法识别的错误统一视为 fetch_failed。
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFoundOrBlocked):
		return domain.ErrCodeNotFoundOrBlocked
	case errors.Is(err, ErrLegacyFormatUnsupported):
		return domain.ErrCodeLegacyFormat
	case errors.Is(err, ErrEmptyManifest):
		return domain.ErrCodeEmptyManifest
	case errors.Is(err, ErrInvalidVector):
		return domain.ErrCodeDecodeFailed
	default:
		return domain.ErrCodeFetchFailed
	}
}

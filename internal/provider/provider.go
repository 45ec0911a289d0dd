package provider

import (
	"context"

	"github.com/John-Robertt/sb3fetch/internal/domain"
)

// 三个 fetcher 把“远端接口细节”限制在实现包内部；流水线只依赖这些接口与 domain 类型。
//
// 约束：
// - 不做缓存、不做重试（产品契约：失败即失败）
// - 每次调用最多发出一次 HTTP 请求
// - 实现必须尊重 ctx（取消/超时）

// MetadataFetcher 获取项目元数据（标题/作者/访问 token）。
// 失败是致命的：没有 token 就无法继续。
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, id domain.ProjectID) (domain.ProjectMetadata, error)
}

// ManifestFetcher 获取并解析项目 manifest；遇到旧格式/非结构化响应直接拒绝。
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, id domain.ProjectID, token string) (domain.Manifest, error)
}

// AssetFetcher 获取单个资源的原始字节。失败是可恢复的（由调用方记录并跳过）。
type AssetFetcher interface {
	FetchAsset(ctx context.Context, ref domain.AssetRef) ([]byte, error)
}

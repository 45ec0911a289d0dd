package scratch

import (
	"context"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/John-Robertt/sb3fetch/internal/domain"
	providerx "github.com/John-Robertt/sb3fetch/internal/provider"
)

// FetchAsset 请求 GET /internalapi/asset/{content_id}/get/。
// 任何传输/状态码/解码失败都以 *provider.Error 返回，由调用方决定跳过。
func (c *Client) FetchAsset(ctx context.Context, ref domain.AssetRef) ([]byte, error) {
	id := ref.ContentID()
	if id == "" {
		return nil, &providerx.Error{Stage: providerx.StageAsset, Ref: ref.Name, Err: providerx.ErrMissingContentID}
	}

	u := c.assetsBase() + "/internalapi/asset/" + url.PathEscape(id) + "/get/"
	body, err := fetchURL(ctx, c.assetClient(), u)
	if err != nil {
		return nil, &providerx.Error{Stage: providerx.StageAsset, Ref: id, Err: err}
	}

	b, err := DecodeAsset(ref, body)
	if err != nil {
		return nil, &providerx.Error{Stage: providerx.StageAsset, Ref: id, Err: err}
	}
	return b, nil
}

// DecodeAsset 按扩展名决定载荷处理方式：svg 必须是合法文本；其余（位图/音频）原样返回。
// 归档写入的始终是原始字节，这里只负责“能否按声明的格式读取”。
func DecodeAsset(ref domain.AssetRef, body []byte) ([]byte, error) {
	if ref.Format() == domain.FormatVector && !utf8.Valid(body) {
		return nil, fmt.Errorf("%w：%s", providerx.ErrInvalidVector, ref.ContentID())
	}
	return body, nil
}

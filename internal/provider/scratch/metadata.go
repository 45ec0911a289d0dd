package scratch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/John-Robertt/sb3fetch/internal/domain"
	providerx "github.com/John-Robertt/sb3fetch/internal/provider"
)

type metadataDoc struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`

	Title  string `json:"title"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
	ProjectToken string `json:"project_token"`
}

// FetchMetadata 请求 GET /projects/{id}。
//
// 无论 HTTP 状态码如何都先解析 body：API 的 404 同样返回 {"code":"NotFound"} 文档，
// 错误码比状态码更能解释原因。
func (c *Client) FetchMetadata(ctx context.Context, id domain.ProjectID) (domain.ProjectMetadata, error) {
	if id == "" {
		return domain.ProjectMetadata{}, &providerx.Error{Stage: providerx.StageMetadata, Err: fmt.Errorf("%w: 项目 id 为空", providerx.ErrNotFoundOrBlocked)}
	}
	u := c.metadataBase() + "/projects/" + url.PathEscape(string(id))
	body, status, loc, err := get(ctx, c.apiClient(), u)
	if err != nil {
		return domain.ProjectMetadata{}, &providerx.Error{Stage: providerx.StageMetadata, Ref: string(id), Err: err}
	}

	meta, err := ParseMetadata(id, body)
	if err != nil {
		return domain.ProjectMetadata{}, &providerx.Error{Stage: providerx.StageMetadata, Ref: string(id), Err: err}
	}
	if status < 200 || status >= 300 {
		hs := &providerx.HTTPStatusError{URL: u, StatusCode: status, Location: loc}
		return domain.ProjectMetadata{}, &providerx.Error{Stage: providerx.StageMetadata, Ref: string(id), Err: fmt.Errorf("%w: %w", providerx.ErrNotFoundOrBlocked, hs)}
	}
	return meta, nil
}

// ParseMetadata 把 metadata 响应解析为 ProjectMetadata。
//
// 以下情况一律返回 ErrNotFoundOrBlocked：
// - body 为空 / 不是 JSON 对象
// - 文档带有非空的 code 字段（错误文档）
//
// project_token 缺失不在这里校验。
func ParseMetadata(id domain.ProjectID, body []byte) (domain.ProjectMetadata, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.ProjectMetadata{}, fmt.Errorf("%w: 响应为空", providerx.ErrNotFoundOrBlocked)
	}

	var doc metadataDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return domain.ProjectMetadata{}, fmt.Errorf("%w: 响应不是合法 JSON 对象：%v", providerx.ErrNotFoundOrBlocked, err)
	}
	if code := rawCode(doc.Code); code != "" {
		return domain.ProjectMetadata{}, fmt.Errorf("%w: %w", providerx.ErrNotFoundOrBlocked, &providerx.APIError{Code: code, Message: doc.Message})
	}

	return domain.ProjectMetadata{
		ID:     id,
		Title:  strings.TrimSpace(doc.Title),
		Author: strings.TrimSpace(doc.Author.Username),
		Token:  strings.TrimSpace(doc.ProjectToken),
	}, nil
}

// rawCode 兼容 code 为字符串或数字；null/""/false/0 视为没有错误码。
func rawCode(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	switch string(raw) {
	case "null", "false", "0":
		return ""
	}
	return string(raw)
}

package scratch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	providerx "github.com/John-Robertt/sb3fetch/internal/provider"
)

const (
	DefaultMetadataBaseURL = "https://api.scratch.mit.edu"
	DefaultProjectsBaseURL = "https://projects.scratch.mit.edu"
	DefaultAssetsBaseURL   = "https://assets.scratch.mit.edu"
)

var (
	_ providerx.MetadataFetcher = (*Client)(nil)
	_ providerx.ManifestFetcher = (*Client)(nil)
	_ providerx.AssetFetcher    = (*Client)(nil)
)

// Client 实现 Scratch 三个公开接口的抓取（metadata / manifest / asset）。
//
// 约束：
// - Fetch* 每次只发一次请求，不做缓存/重试（由产品契约决定）
// - Parse*/Classify*/Decode* 是纯函数：相同输入 => 相同输出，便于脱离网络测试
// - API 与 Assets 可以是不同的 http.Client（例如资源下载不走代理）
type Client struct {
	MetadataBaseURL string
	ProjectsBaseURL string
	AssetsBaseURL   string

	API    *http.Client
	Assets *http.Client
}

func (c *Client) metadataBase() string { return baseOr(c.MetadataBaseURL, DefaultMetadataBaseURL) }
func (c *Client) projectsBase() string { return baseOr(c.ProjectsBaseURL, DefaultProjectsBaseURL) }
func (c *Client) assetsBase() string   { return baseOr(c.AssetsBaseURL, DefaultAssetsBaseURL) }

func baseOr(u, def string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return def
	}
	return strings.TrimRight(u, "/")
}

func (c *Client) apiClient() *http.Client {
	if c.API != nil {
		return c.API
	}
	return http.DefaultClient
}

func (c *Client) assetClient() *http.Client {
	if c.Assets != nil {
		return c.Assets
	}
	return c.apiClient()
}

// get 发出一次 GET 并完整读取 body；不检查状态码（由调用方决定如何解释）。
func get(ctx context.Context, hc *http.Client, u string) (body []byte, status int, location string, err error) {
	if hc == nil {
		return nil, 0, "", errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, "", err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", err
	}
	return b, resp.StatusCode, resp.Header.Get("Location"), nil
}

// fetchURL 与 get 相同，但把非 2xx 视为错误。
func fetchURL(ctx context.Context, hc *http.Client, u string) ([]byte, error) {
	b, status, loc, err := get(ctx, hc, u)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &providerx.HTTPStatusError{URL: u, StatusCode: status, Location: loc}
	}
	return b, nil
}

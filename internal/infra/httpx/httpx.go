package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout 是单次请求的总超时（连接 + 读 body）。
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent 标识本工具；接口对 UA 没有特殊要求，但匿名 UA 更容易被限流。
	DefaultUserAgent = "sb3fetch/1 (+https://github.com/John-Robertt/sb3fetch)"
)

// Transport 把“UA + 代理 + keep-alive 策略”固化为统一策略。
//
// 设计目标：provider 只负责“拼 URL + 解释响应”，不关心网络策略细节。
// 注意：这里刻意不做重试；单个请求失败由上层按阶段决定是致命还是跳过。
type Transport struct {
	Base *http.Transport

	UserAgent string

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		ua := t.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		r.Header.Set("User-Agent", ua)
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return t.Base.RoundTrip(r)
}

// NewAPIClient 构造用于 metadata/manifest 请求的 HTTP client。
//
// 规则：
// - proxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - timeout<=0 时使用 DefaultTimeout
func NewAPIClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	return newClient(strings.TrimSpace(proxyURL), timeout)
}

// NewAssetClient 构造用于资源下载的 HTTP client。
//
// 规则：
// - assetProxy=false：资源直连（忽略 proxyURL）
// - assetProxy=true：资源走 proxyURL
func NewAssetClient(proxyURL string, assetProxy bool, timeout time.Duration) (*http.Client, error) {
	if !assetProxy {
		return newClient("", timeout)
	}
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return nil, errors.New("proxy.assets=true 但 proxy.url 为空")
	}
	return newClient(proxyURL, timeout)
}

func newClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   16,
	}

	disableKeepAlives := false
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy url 缺少 scheme 或 host：" + proxyURL)
		}
		base.Proxy = http.ProxyURL(u)
		// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	tr := &Transport{
		Base:              base,
		UserAgent:         DefaultUserAgent,
		DisableKeepAlives: disableKeepAlives,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

package provider

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示接口返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// APIError 表示 metadata 接口返回了带 code 字段的错误文档，例如 {"code":"NotFound"}。
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}
	if strings.TrimSpace(e.Message) == "" {
		return "api error: code=" + e.Code
	}
	return fmt.Sprintf("api error: code=%s message=%s", e.Code, e.Message)
}

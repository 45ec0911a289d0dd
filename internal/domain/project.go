package domain

import "strings"

// ProjectID 是远端项目的唯一主键（通常是纯数字，但这里只当作不透明字符串）。
//
// 约束：必须能安全拼进 URL path 与文件名；宁可拒绝，也不做“聪明”的转义猜测。
type ProjectID string

// ParseProjectID 校验 s 是否可以作为 ProjectID 使用。
func ParseProjectID(s string) (ProjectID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if strings.ContainsAny(s, "/?#\\ \t\r\n") {
		return "", false
	}
	return ProjectID(s), true
}

// ProjectMetadata 是 metadata 接口返回的最小可用集；一次 run 内只创建一次，之后只读。
//
// Token 是短期有效的访问凭据，manifest 请求必须携带；这里不校验其是否为空
// （为空时由 manifest 阶段暴露失败）。
type ProjectMetadata struct {
	ID     ProjectID
	Title  string
	Author string
	Token  string
}

package projectid

import (
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/sb3fetch/internal/domain"
)

// 项目页 URL 中的 id 段：.../projects/<id>[/editor|/fullscreen|/embed]
var projectPathRE = regexp.MustCompile(`(?i)projects/([0-9]+)`)

// 独立的数字段（例如 "#1147739568" 或 "id=1147739568"）。
var digitsRE = regexp.MustCompile(`[0-9]+`)

type UnmatchedError struct {
	// Kind: "no_match" 或 "ambiguous"
	Kind string
	// Candidates 仅在 ambiguous 时返回（已排序，保证稳定）。
	Candidates []domain.ProjectID
}

func (e *UnmatchedError) Error() string {
	switch e.Kind {
	case "no_match":
		return "无法从输入中解析出项目 id"
	case "ambiguous":
		parts := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			parts = append(parts, string(c))
		}
		return "解析到多个不同的项目 id（ambiguous）：" + strings.Join(parts, ", ")
	default:
		return "unmatched"
	}
}

// Extract 从用户输入（裸 id 或项目页 URL）中提取唯一 ProjectID。
// 若提取失败，返回 *UnmatchedError（no_match / ambiguous）。
//
// 规则（按顺序，命中即停）：
// 1) 输入整体是合法的 ProjectID：原样使用（包括非数字的不透明 key）
// 2) 输入含 projects/<digits>：取该段
// 3) 输入中恰好有一段数字：取该段
func Extract(s string) (domain.ProjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &UnmatchedError{Kind: "no_match"}
	}
	if id, ok := domain.ParseProjectID(s); ok && !strings.ContainsAny(s, ":=&") {
		return id, nil
	}

	m := map[domain.ProjectID]struct{}{}
	for _, sub := range projectPathRE.FindAllStringSubmatch(s, -1) {
		if len(sub) < 2 {
			continue
		}
		m[domain.ProjectID(sub[1])] = struct{}{}
	}
	if len(m) == 0 {
		for _, d := range digitsRE.FindAllString(s, -1) {
			m[domain.ProjectID(d)] = struct{}{}
		}
	}

	if len(m) == 0 {
		return "", &UnmatchedError{Kind: "no_match"}
	}
	if len(m) > 1 {
		cands := make([]domain.ProjectID, 0, len(m))
		for c := range m {
			cands = append(cands, c)
		}
		sort.Slice(cands, func(i, j int) bool { return string(cands[i]) < string(cands[j]) })
		return "", &UnmatchedError{Kind: "ambiguous", Candidates: cands}
	}
	for c := range m {
		return c, nil
	}
	return "", &UnmatchedError{Kind: "no_match"}
}

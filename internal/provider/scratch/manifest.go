package scratch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/sb3fetch/internal/domain"
	providerx "github.com/John-Robertt/sb3fetch/internal/provider"
)

// Shape 是 manifest 响应在解释之前的形态分类。
type Shape string

const (
	ShapeEmpty    Shape = "empty"
	ShapeHTML     Shape = "html"
	ShapeScratch1 Shape = "scratch1" // 1.x 二进制（ScratchV01/V02）
	ShapeZip      Shape = "zip"      // 直接返回了压缩包（sb2/sb3 整包）
	ShapeScratch2 Shape = "scratch2" // 2.0 JSON（objName/children，没有 targets）
	ShapeSB3      Shape = "sb3"
	ShapeUnknown  Shape = "unknown"
)

// Classification 是 ClassifyManifest 的结果；Detail 只用于提示（例如 HTML 的 <title>）。
type Classification struct {
	Shape  Shape
	Detail string
}

var (
	utf8BOM       = []byte{0xEF, 0xBB, 0xBF}
	scratch1Magic = []byte("ScratchV0")
	zipMagic      = []byte("PK\x03\x04")
)

// FetchManifest 请求 GET /{id}?token=...，先分类再解析。
// 非 2xx 直接视为抓取失败（不会把错误页当作 manifest 去解析）。
func (c *Client) FetchManifest(ctx context.Context, id domain.ProjectID, token string) (domain.Manifest, error) {
	u := c.projectsBase() + "/" + url.PathEscape(string(id))
	if t := strings.TrimSpace(token); t != "" {
		u += "?token=" + url.QueryEscape(t)
	}

	body, err := fetchURL(ctx, c.apiClient(), u)
	if err != nil {
		return domain.Manifest{}, &providerx.Error{Stage: providerx.StageManifest, Ref: string(id), Err: err}
	}

	m, err := ParseManifest(body)
	if err != nil {
		return domain.Manifest{}, &providerx.Error{Stage: providerx.StageManifest, Ref: string(id), Err: err}
	}
	return m, nil
}

// ClassifyManifest 在解释 body 之前判断其形态。
//
// 只看“形状”（魔数、首字符、顶层键），不尝试修复或兼容任何旧格式。
func ClassifyManifest(body []byte) Classification {
	if bytes.HasPrefix(body, zipMagic) {
		return Classification{Shape: ShapeZip}
	}
	if bytes.HasPrefix(body, scratch1Magic) {
		return Classification{Shape: ShapeScratch1, Detail: string(body[:min(len(body), 10)])}
	}

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Classification{Shape: ShapeEmpty}
	}
	if trimmed[0] == '<' {
		return Classification{Shape: ShapeHTML, Detail: htmlTitle(trimmed)}
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return Classification{Shape: ShapeUnknown}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return Classification{Shape: ShapeUnknown}
	}
	if raw, ok := top["targets"]; ok {
		var targets []json.RawMessage
		if err := json.Unmarshal(raw, &targets); err != nil {
			return Classification{Shape: ShapeUnknown, Detail: "targets 不是数组"}
		}
		return Classification{Shape: ShapeSB3}
	}
	if _, ok := top["objName"]; ok {
		return Classification{Shape: ShapeScratch2}
	}
	if _, ok := top["children"]; ok {
		return Classification{Shape: ShapeScratch2}
	}
	return Classification{Shape: ShapeEmpty, Detail: "缺少 targets"}
}

// htmlTitle 提取 HTML 错误页的 <title>（用于提示；解析失败返回空串）。
// 注意：goquery 不执行 JS，拿到的只是服务端直出的标题。
func htmlTitle(b []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return ""
	}
	title := normSpace(doc.Find("title").First().Text())
	if title == "" {
		title = normSpace(doc.Find("h1").First().Text())
	}
	return title
}

type manifestDoc struct {
	Targets []targetDoc         `json:"targets"`
	Meta    domain.ManifestMeta `json:"meta"`
}

type targetDoc struct {
	IsStage  bool       `json:"isStage"`
	Name     string     `json:"name"`
	Costumes []assetDoc `json:"costumes"`
	Sounds   []assetDoc `json:"sounds"`
}

type assetDoc struct {
	AssetID    string `json:"assetId"`
	Name       string `json:"name"`
	MD5Ext     string `json:"md5ext"`
	DataFormat string `json:"dataFormat"`
}

// ParseManifest 把 manifest body 解析为 domain.Manifest。
//
// - 形态不是 sb3：empty => ErrEmptyManifest；其他 => ErrLegacyFormatUnsupported
// - targets 为空数组：ErrEmptyManifest（播放器无法加载没有 stage 的项目）
// - Raw 为 compact 后的原文，保证写入归档的 project.json 与抓到的文档结构一致
func ParseManifest(body []byte) (domain.Manifest, error) {
	cls := ClassifyManifest(body)
	switch cls.Shape {
	case ShapeSB3:
		// ok
	case ShapeEmpty:
		if cls.Detail != "" {
			return domain.Manifest{}, fmt.Errorf("%w: %s", providerx.ErrEmptyManifest, cls.Detail)
		}
		return domain.Manifest{}, providerx.ErrEmptyManifest
	default:
		return domain.Manifest{}, &FormatError{Shape: cls.Shape, Detail: cls.Detail}
	}

	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))

	var doc manifestDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return domain.Manifest{}, &FormatError{Shape: ShapeUnknown, Detail: err.Error()}
	}
	if len(doc.Targets) == 0 {
		return domain.Manifest{}, fmt.Errorf("%w: targets 为空", providerx.ErrEmptyManifest)
	}

	var raw bytes.Buffer
	if err := json.Compact(&raw, trimmed); err != nil {
		return domain.Manifest{}, &FormatError{Shape: ShapeUnknown, Detail: err.Error()}
	}

	m := domain.Manifest{
		Raw:     raw.Bytes(),
		Targets: make([]domain.Target, 0, len(doc.Targets)),
		Meta:    doc.Meta,
	}
	for _, t := range doc.Targets {
		m.Targets = append(m.Targets, domain.Target{
			Name:     t.Name,
			IsStage:  t.IsStage,
			Costumes: assetRefs(domain.AssetCostume, t.Costumes),
			Sounds:   assetRefs(domain.AssetSound, t.Sounds),
		})
	}
	return m, nil
}

func assetRefs(kind domain.AssetKind, docs []assetDoc) []domain.AssetRef {
	out := make([]domain.AssetRef, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.AssetRef{
			Kind:       kind,
			AssetID:    strings.TrimSpace(d.AssetID),
			Name:       d.Name,
			MD5Ext:     strings.TrimSpace(d.MD5Ext),
			DataFormat: strings.TrimSpace(d.DataFormat),
		})
	}
	return out
}

// FormatError 表示 manifest 的形态不受支持。它总是匹配 ErrLegacyFormatUnsupported。
type FormatError struct {
	Shape  Shape
	Detail string
}

func (e *FormatError) Error() string {
	msg := providerx.ErrLegacyFormatUnsupported.Error() + "：shape=" + string(e.Shape)
	if d := strings.TrimSpace(e.Detail); d != "" {
		msg += " (" + truncate(d, 120) + ")"
	}
	return msg
}

func (e *FormatError) Unwrap() error { return providerx.ErrLegacyFormatUnsupported }

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

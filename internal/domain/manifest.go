package domain

import (
	"path"
	"strings"
)

// ManifestEntryName 是 manifest 在归档中的固定成员名。
const ManifestEntryName = "project.json"

// AssetKind 表示资源在 manifest 中的来源（由上下文推断，而不是由内容推断）。
type AssetKind string

const (
	AssetCostume AssetKind = "costume"
	AssetSound   AssetKind = "sound"
)

// AssetFormat 是由扩展名推断的载荷格式。
type AssetFormat string

const (
	FormatVector AssetFormat = "vector"
	FormatRaster AssetFormat = "raster"
	FormatAudio  AssetFormat = "audio"
)

// Manifest 是项目结构文档。
//
// Raw 保存原始 JSON（已 compact），归档时原样写入 project.json；
// Targets 只是为了遍历资源而解析出的视图，不参与序列化。
type Manifest struct {
	Raw     []byte
	Targets []Target
	Meta    ManifestMeta
}

// ManifestMeta 对应 manifest 顶层的 meta 字段（可能缺失）。
type ManifestMeta struct {
	Semver string `json:"semver"`
	VM     string `json:"vm"`
	Agent  string `json:"agent"`
}

// AssetCount 返回所有 target 的 costume + sound 总数。
func (m Manifest) AssetCount() int {
	n := 0
	for _, t := range m.Targets {
		n += len(t.Costumes) + len(t.Sounds)
	}
	return n
}

// Target 是一个舞台角色（sprite 或 stage）。
type Target struct {
	Name     string
	IsStage  bool
	Costumes []AssetRef
	Sounds   []AssetRef
}

// AssetRef 是 manifest 中的一条资源引用。
type AssetRef struct {
	Kind       AssetKind
	AssetID    string
	Name       string
	MD5Ext     string
	DataFormat string
}

// ContentID 返回资源的内容标识（既用于下载，也用作归档成员名）。
// 旧版 3.0 存档可能缺少 md5ext，此时用 assetId + "." + dataFormat 拼出。
func (a AssetRef) ContentID() string {
	if s := strings.TrimSpace(a.MD5Ext); s != "" {
		return s
	}
	id := strings.TrimSpace(a.AssetID)
	ext := strings.ToLower(strings.TrimSpace(a.DataFormat))
	if id == "" || ext == "" {
		return ""
	}
	return id + "." + ext
}

// Format 由内容标识的扩展名推断载荷格式：svg 为矢量文本，其余 costume 为位图，sound 一律为音频。
func (a AssetRef) Format() AssetFormat {
	if a.Kind == AssetSound {
		return FormatAudio
	}
	if strings.EqualFold(path.Ext(a.ContentID()), ".svg") {
		return FormatVector
	}
	return FormatRaster
}

// ArchiveEntry 是一条归档成员（名称 + 原始字节）。
type ArchiveEntry struct {
	Name string
	Data []byte
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/provider/scratch"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	// FileName 是 cwd 下自动发现的配置文件名。
	FileName = "sb3fetch.toml"
	// ArchiveExt 是输出文件必须使用的扩展名。
	ArchiveExt = ".sb3"

	DefaultConcurrency = 1
	MaxConcurrency     = 16
	DefaultTimeout     = 30 * time.Second
	MaxTimeout         = 10 * time.Minute
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "console"
)

// CLIArgs 是 CLI 暴露的入口参数，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --concurrency=1 必须能覆盖 config.concurrency=8。
type CLIArgs struct {
	ProjectID domain.ProjectID

	// ConfigPath 非空时必须存在；为空时尝试 <cwd>/sb3fetch.toml（可选）。
	ConfigPath string

	Output     string
	ReportPath string

	Concurrency    int
	ConcurrencySet bool

	LogLevel  string
	LogFormat string
}

// FileConfig 对应 sb3fetch.toml 的解析结构。
type FileConfig struct {
	OutputDir      string       `toml:"output_dir"`
	Concurrency    int          `toml:"concurrency"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
	ReportPath     string       `toml:"report_path"`
	LogLevel       string       `toml:"log_level"`
	LogFormat      string       `toml:"log_format"`
	API            APIConfig    `toml:"api"`
	Proxy          *ProxyConfig `toml:"proxy"`
}

type APIConfig struct {
	MetadataBaseURL string `toml:"metadata_base_url"`
	ProjectsBaseURL string `toml:"projects_base_url"`
	AssetsBaseURL   string `toml:"assets_base_url"`
}

type ProxyConfig struct {
	URL    string `toml:"url"`
	Assets bool   `toml:"assets"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（流水线直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	ProjectID domain.ProjectID

	// Output 是最终 .sb3 的绝对路径。
	Output string
	// ReportPath 为空表示不写 report 文件。
	ReportPath string

	Concurrency int
	Timeout     time.Duration

	LogLevel  string
	LogFormat string

	MetadataBaseURL string
	ProjectsBaseURL string
	AssetsBaseURL   string

	ProxyURL   string
	AssetProxy bool

	// ConfigFile 是实际读取的配置文件路径；未读取任何文件时为空。
	ConfigFile string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			if e.Path == "" {
				return fmt.Sprintf("%s：%v", e.Code, e.Err)
			}
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 按约定发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试读取 <cwd>/sb3fetch.toml（可选）
//
// 覆盖优先级（固定）：
// - output：CLI -o > <config.output_dir>/<id>.sb3 > <cwd>/<id>.sb3
// - concurrency / report / log：CLI > config > 默认
// - api / proxy / timeout：仅由 config 控制（CLI 不暴露）
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}
	if cli.ProjectID == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: errors.New("项目 id 不能为空")}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}
	if !exists {
		cfgPath = ""
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigFile = cfgPath
	return eff, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	// output：CLI > output_dir/<id>.sb3 > cwd/<id>.sb3
	output := ""
	if strings.TrimSpace(cli.Output) != "" {
		output = absCleanFrom(cwdAbs, cli.Output)
	} else {
		dir := cwdAbs
		if strings.TrimSpace(fc.OutputDir) != "" {
			dir = absCleanFrom(cwdAbs, fc.OutputDir)
		}
		output = filepath.Join(dir, string(cli.ProjectID)+ArchiveExt)
	}
	if !strings.EqualFold(filepath.Ext(output), ArchiveExt) {
		return EffectiveConfig{}, fmt.Errorf("输出文件必须以 %s 结尾：%q", ArchiveExt, output)
	}

	reportPath := fc.ReportPath
	if strings.TrimSpace(cli.ReportPath) != "" {
		reportPath = cli.ReportPath
	}
	if strings.TrimSpace(reportPath) != "" {
		reportPath = absCleanFrom(cwdAbs, reportPath)
		if reportPath == output {
			return EffectiveConfig{}, fmt.Errorf("report_path 不能与输出文件相同：%q", reportPath)
		}
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 超出范围截断，而不是报错。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	timeout := DefaultTimeout
	if fc.TimeoutSeconds < 0 {
		return EffectiveConfig{}, fmt.Errorf("timeout_seconds 不能为负数：%d", fc.TimeoutSeconds)
	}
	if fc.TimeoutSeconds > 0 {
		timeout = time.Duration(fc.TimeoutSeconds) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	logLevel := firstNonEmpty(cli.LogLevel, fc.LogLevel, DefaultLogLevel)
	if err := validateLogLevel(logLevel); err != nil {
		return EffectiveConfig{}, err
	}
	logFormat := firstNonEmpty(cli.LogFormat, fc.LogFormat, DefaultLogFormat)
	if logFormat != "console" && logFormat != "json" {
		return EffectiveConfig{}, fmt.Errorf("log_format 只能是 console 或 json，实际是 %q", logFormat)
	}

	bases := [3]struct {
		key string
		val string
		def string
	}{
		{"api.metadata_base_url", fc.API.MetadataBaseURL, scratch.DefaultMetadataBaseURL},
		{"api.projects_base_url", fc.API.ProjectsBaseURL, scratch.DefaultProjectsBaseURL},
		{"api.assets_base_url", fc.API.AssetsBaseURL, scratch.DefaultAssetsBaseURL},
	}
	var resolved [3]string
	for i, b := range bases {
		v := strings.TrimRight(strings.TrimSpace(b.val), "/")
		if v == "" {
			resolved[i] = b.def
			continue
		}
		if err := validateHTTPURL(v); err != nil {
			return EffectiveConfig{}, fmt.Errorf("%s 无效：%w", b.key, err)
		}
		resolved[i] = v
	}

	proxyURL := ""
	assetProxy := false
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
		assetProxy = fc.Proxy.Assets
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%q", proxyURL)
		}
	}
	if assetProxy && proxyURL == "" {
		return EffectiveConfig{}, errors.New("proxy.assets=true 但 proxy.url 为空")
	}

	return EffectiveConfig{
		ProjectID:       cli.ProjectID,
		Output:          output,
		ReportPath:      reportPath,
		Concurrency:     concurrency,
		Timeout:         timeout,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		MetadataBaseURL: resolved[0],
		ProjectsBaseURL: resolved[1],
		AssetsBaseURL:   resolved[2],
		ProxyURL:        proxyURL,
		AssetProxy:      assetProxy,
	}, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q 不是合法 URL", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", raw)
	}
	return nil
}

func validateLogLevel(l string) error {
	switch l {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log_level 只能是 debug|info|warn|error，实际是 %q", l)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.ToLower(strings.TrimSpace(v)); s != "" {
			return s
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
// 未知字段直接报错：拼错的键静默失效比报错更难排查。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

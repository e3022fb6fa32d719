package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"cdpcapture/internal/logger"
	"cdpcapture/internal/pattern"
	"cdpcapture/pkg/model"
)

// Error 配置缺失或无效
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrCreatedDefault 配置文件不存在，已写入默认配置
var ErrCreatedDefault = errors.New("default configuration written, edit it and restart")

// Browser 浏览器连接配置
type Browser struct {
	DevToolsURL      string   `yaml:"devtoolsURL"`
	InitialURL       string   `yaml:"initialURL"`
	Discover         []string `yaml:"discover"`
	ProcessTimeoutMS int      `yaml:"processTimeoutMS"`
}

// Capture 捕获规则与采集配置
type Capture struct {
	Dialect        string              `yaml:"dialect"`
	Rules          []model.CaptureRule `yaml:"rules"`
	MimePrefixes   []string            `yaml:"mimePrefixes"`
	PromptQuery    []string            `yaml:"promptQuery"`
	PromptJSONPath string              `yaml:"promptJSONPath"`
	IDQuery        []string            `yaml:"idQuery"`
	IDJSONPath     string              `yaml:"idJSONPath"`
}

// Archive 归档目录配置
type Archive struct {
	Root         string `yaml:"root"`
	SkipMetadata bool   `yaml:"skipMetadata"`
}

// Sqlite 归档目录表配置
type Sqlite struct {
	Enabled bool   `yaml:"enabled"`
	Dsn     string `yaml:"dsn"`
	Prefix  string `yaml:"prefix"`
}

// Log 日志配置
type Log struct {
	Level      string   `yaml:"level"`
	Writer     []string `yaml:"writer"`
	File       string   `yaml:"file"`
	MaxSizeMB  int      `yaml:"maxSizeMB"`
	MaxBackups int      `yaml:"maxBackups"`
	MaxAgeDays int      `yaml:"maxAgeDays"`
}

// Config 配置文件结构体
type Config struct {
	Version string  `yaml:"version"`
	Browser Browser `yaml:"browser"`
	Capture Capture `yaml:"capture"`
	Archive Archive `yaml:"archive"`
	Sqlite  Sqlite  `yaml:"sqlite"`
	Log     Log     `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Browser: Browser{
			DevToolsURL:      "http://127.0.0.1:9222",
			Discover:         []string{string(model.KindPage), string(model.KindServiceWorker)},
			ProcessTimeoutMS: 3000,
		},
		Capture: Capture{
			Dialect:      pattern.Wildcard.String(),
			Rules:        []model.CaptureRule{},
			MimePrefixes: []string{"image/"},
			PromptQuery:  []string{"prompt", "q"},
			IDQuery:      []string{"id"},
		},
		Archive: Archive{
			Root: "archive",
		},
		Sqlite: Sqlite{
			Enabled: true,
			Dsn:     "archive.sqlite3",
			Prefix:  "cdpcapture_",
		},
		Log: Log{
			Level:      "info",
			Writer:     []string{"console"},
			File:       "cdpcapture.log",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load 读取配置文件并覆盖默认值；文件不存在时写入默认配置并返回 ErrCreatedDefault
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return nil, &Error{Path: path, Reason: "write default", Err: err}
		}
		return nil, &Error{Path: path, Reason: "not found", Err: ErrCreatedDefault}
	}
	if err != nil {
		return nil, &Error{Path: path, Reason: "read", Err: err}
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, &Error{Path: path, Reason: "parse", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Save 写入配置文件，必要时创建目录
func Save(path string, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}

// Validate 校验必填项与取值范围
func (c *Config) Validate() error {
	if c.Browser.DevToolsURL == "" {
		return &Error{Reason: "browser.devtoolsURL must not be empty"}
	}
	if _, err := c.Dialect(); err != nil {
		return &Error{Reason: "capture.dialect", Err: err}
	}
	for i, r := range c.Capture.Rules {
		if len(r.From) == 0 || len(r.Intercept) == 0 {
			return &Error{Reason: fmt.Sprintf("capture.rules[%d]: from and intercept must not be empty", i)}
		}
	}
	for _, k := range c.Browser.Discover {
		if model.ParseTargetKind(k) == model.KindOther && k != string(model.KindOther) {
			return &Error{Reason: fmt.Sprintf("browser.discover: unknown target kind %q", k)}
		}
	}
	if c.Archive.Root == "" {
		return &Error{Reason: "archive.root must not be empty"}
	}
	if c.Sqlite.Enabled && c.Sqlite.Dsn == "" {
		return &Error{Reason: "sqlite.dsn must not be empty when sqlite is enabled"}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return &Error{Reason: "log.level", Err: err}
	}
	return nil
}

// Dialect 返回模式语法
func (c *Config) Dialect() (pattern.Dialect, error) {
	return pattern.ParseDialect(c.Capture.Dialect)
}

// DiscoverKinds 返回参与检查的目标类型
func (c *Config) DiscoverKinds() []model.TargetKind {
	out := make([]model.TargetKind, 0, len(c.Browser.Discover))
	for _, k := range c.Browser.Discover {
		out = append(out, model.ParseTargetKind(k))
	}
	return out
}

// ProcessTimeout 返回单个事件的处理超时
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.Browser.ProcessTimeoutMS) * time.Millisecond
}

// LoggerOptions 转换为日志配置
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Log.Level,
		Writers:    c.Log.Writer,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

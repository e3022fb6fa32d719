package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cdpcapture/internal/pattern"
	"cdpcapture/pkg/model"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "cdpcapture.yaml")
	_, err := Load(path)
	var ce *Error
	if !errors.As(err, &ce) || !errors.Is(err, ErrCreatedDefault) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if cfg.Browser.DevToolsURL != "http://127.0.0.1:9222" || cfg.Sqlite.Prefix != "cdpcapture_" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte(`
browser:
  devtoolsURL: http://localhost:9333
  discover: [page]
capture:
  dialect: regexp
  rules:
    - from: ['^https://app\.example/']
      intercept: ['*cdn*']
      rawCapture: true
archive:
  root: /data/archive
`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.DevToolsURL != "http://localhost:9333" || cfg.Browser.ProcessTimeoutMS != 3000 {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if d, _ := cfg.Dialect(); d != pattern.Regexp {
		t.Errorf("dialect = %v", d)
	}
	if len(cfg.Capture.Rules) != 1 || !cfg.Capture.Rules[0].RawCapture || cfg.Capture.Rules[0].Intercept[0] != "*cdn*" {
		t.Errorf("rules = %+v", cfg.Capture.Rules)
	}
	if kinds := cfg.DiscoverKinds(); len(kinds) != 1 || kinds[0] != model.KindPage {
		t.Errorf("kinds = %v", kinds)
	}
	if cfg.Log.Level != "info" || cfg.ProcessTimeout() != 3*time.Second {
		t.Errorf("defaults lost: %+v", cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty devtools", func(c *Config) { c.Browser.DevToolsURL = "" }},
		{"bad dialect", func(c *Config) { c.Capture.Dialect = "xpath" }},
		{"rule without from", func(c *Config) { c.Capture.Rules = []model.CaptureRule{{Intercept: []string{"*"}}} }},
		{"unknown kind", func(c *Config) { c.Browser.Discover = []string{"iframe"} }},
		{"empty archive root", func(c *Config) { c.Archive.Root = "" }},
		{"sqlite without dsn", func(c *Config) { c.Sqlite.Dsn = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig()
			tt.mutate(c)
			var ce *Error
			if err := c.Validate(); !errors.As(err, &ce) {
				t.Errorf("Validate = %v, want *Error", err)
			}
		})
	}
	if err := NewConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	os.WriteFile(path, []byte("log: [oops"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml should fail")
	}
	os.WriteFile(path, []byte("archive:\n  root: ''\n"), 0o644)
	var ce *Error
	if _, err := Load(path); !errors.As(err, &ce) || ce.Path != path {
		t.Errorf("invalid config err = %v", err)
	}
}

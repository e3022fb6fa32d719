package main

import (
	"context"
	"path/filepath"
	"testing"

	"cdpcapture/internal/archive"
	"cdpcapture/internal/config"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/session"
	"cdpcapture/internal/storage"
	"cdpcapture/pkg/model"
)

func noopResponse(context.Context, *session.Session, model.ResponseEvent) error { return nil }

func TestBuildOptionsWithoutRules(t *testing.T) {
	cfg := config.NewConfig()
	opts, err := buildOptions(cfg, noopResponse, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if opts.OnResponse != nil {
		t.Error("handler must be omitted when there are no rules")
	}
	if len(opts.DiscoverKinds) != 2 || opts.DevToolsURL != cfg.Browser.DevToolsURL {
		t.Errorf("opts = %+v", opts)
	}
}

func TestBuildOptionsWithRules(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Capture.Rules = []model.CaptureRule{{From: []string{"*"}, Intercept: []string{"*.png"}}}
	opts, err := buildOptions(cfg, noopResponse, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if opts.OnResponse == nil || len(opts.CaptureRules) != 1 {
		t.Errorf("opts = %+v", opts)
	}
}

func TestReindex(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Archive.Root = filepath.Join(dir, "archive")
	cfg.Sqlite.Dsn = filepath.Join(dir, "catalog.db")
	ctx := context.Background()

	store, err := archive.Open(archive.Options{Root: cfg.Archive.Root})
	if err != nil {
		t.Fatal(err)
	}
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	for _, id := range []string{"a", "b"} {
		if _, err := store.Persist(ctx, id, archive.Details{Prompt: "p " + id}, png); err != nil {
			t.Fatal(err)
		}
	}

	n, err := reindex(ctx, cfg, logger.NewNop())
	if err != nil || n != 2 {
		t.Fatalf("reindex = %d, %v", n, err)
	}
	cat, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cat.Close()
	row, err := cat.Get(ctx, "b")
	if err != nil || row == nil || row.Prompt != "p b" || row.Format != "png" {
		t.Errorf("row = %+v, %v", row, err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpcapture/internal/archive"
	"cdpcapture/internal/collector"
	"cdpcapture/internal/config"
	"cdpcapture/internal/logger"
	"cdpcapture/internal/storage"
	"cdpcapture/pkg/api"
)

const version = "0.1.0"

var (
	configPath  string
	devtoolsURL string
	initialURL  string
	force       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cdpcapture",
		Short: "Capture browser network responses over the Chrome DevTools Protocol",
		Long: `cdpcapture attaches to a running Chromium-based browser, watches its tabs and
service workers, intercepts responses whose initiating page matches the configured
capture rules, and archives image payloads on disk.

Examples:
  # Write a default configuration file
  cdpcapture init-config -c cdpcapture.yaml

  # Start the browser with remote debugging, then capture
  chromium --remote-debugging-port=9222 &
  cdpcapture run -c cdpcapture.yaml

  # Rebuild the SQLite catalog from archived metadata
  cdpcapture reindex -c cdpcapture.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cdpcapture.yaml", "Configuration file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the browser and capture until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runCapture,
	}
	runCmd.Flags().StringVar(&devtoolsURL, "devtools", "", "Override browser.devtoolsURL")
	runCmd.Flags().StringVar(&initialURL, "initial-url", "", "Override browser.initialURL")

	initCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE:  runInitConfig,
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the SQLite catalog from archived metadata files",
		Args:  cobra.NoArgs,
		RunE:  runReindex,
	}

	rootCmd.AddCommand(runCmd, initCmd, reindexCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInitConfig(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	if err := config.Save(configPath, config.NewConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
	return nil
}

func runCapture(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if devtoolsURL != "" {
		cfg.Browser.DevToolsURL = devtoolsURL
	}
	if initialURL != "" {
		cfg.Browser.InitialURL = initialURL
	}

	l, err := logger.New(cfg.LoggerOptions())
	if err != nil {
		return err
	}

	store, closeCatalog, err := openArchive(cfg, l)
	if err != nil {
		return err
	}
	defer closeCatalog()

	col := collector.New(collector.Options{
		Store:          store,
		MimePrefixes:   cfg.Capture.MimePrefixes,
		PromptQuery:    cfg.Capture.PromptQuery,
		PromptJSONPath: cfg.Capture.PromptJSONPath,
		IDQuery:        cfg.Capture.IDQuery,
		IDJSONPath:     cfg.Capture.IDJSONPath,
		SkipMetadata:   cfg.Archive.SkipMetadata,
		Logger:         l.With("component", "collector"),
	})

	opts, err := buildOptions(cfg, col.Handle, l)
	if err != nil {
		return err
	}
	svc, err := api.NewService(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	waitErr := svc.Wait()
	if err := svc.Close(); err != nil {
		l.Err(err, "关闭连接失败")
	}

	st := col.Stats()
	l.Info("采集结束", "captured", st.Captured, "duplicates", st.Duplicates, "skipped", st.Skipped, "failed", st.Failed)
	return waitErr
}

// buildOptions 由配置生成引擎参数；没有捕获规则时不挂载响应处理函数
func buildOptions(cfg *config.Config, onResponse api.ResponseHandler, l logger.Logger) (api.Options, error) {
	dialect, err := cfg.Dialect()
	if err != nil {
		return api.Options{}, err
	}
	opts := api.Options{
		DevToolsURL:    cfg.Browser.DevToolsURL,
		InitialURL:     cfg.Browser.InitialURL,
		CaptureRules:   cfg.Capture.Rules,
		DiscoverKinds:  cfg.DiscoverKinds(),
		Dialect:        dialect,
		ProcessTimeout: cfg.ProcessTimeout(),
		Logger:         l,
	}
	if len(cfg.Capture.Rules) > 0 {
		opts.OnResponse = onResponse
	} else {
		l.Warn("未配置捕获规则，不会捕获任何响应")
	}
	return opts, nil
}

// openArchive 打开归档存储；启用 SQLite 时同时挂载目录表
func openArchive(cfg *config.Config, l logger.Logger) (*archive.Store, func(), error) {
	var catalog archive.Catalog
	closeFn := func() {}
	if cfg.Sqlite.Enabled {
		cat, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l.With("component", "storage"))
		if err != nil {
			return nil, nil, err
		}
		catalog = cat
		closeFn = func() {
			if err := cat.Close(); err != nil {
				l.Err(err, "关闭目录表失败")
			}
		}
	}
	store, err := archive.Open(archive.Options{
		Root:    cfg.Archive.Root,
		Catalog: catalog,
		Logger:  l.With("component", "archive"),
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}

func runReindex(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Sqlite.Enabled {
		return errors.New("sqlite is disabled in the configuration")
	}
	l, err := logger.New(cfg.LoggerOptions())
	if err != nil {
		return err
	}
	n, err := reindex(cmd.Context(), cfg, l)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records\n", n)
	return nil
}

func reindex(ctx context.Context, cfg *config.Config, l logger.Logger) (int, error) {
	cat, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
	if err != nil {
		return 0, err
	}
	defer cat.Close()
	store, err := archive.Open(archive.Options{Root: cfg.Archive.Root, Logger: l})
	if err != nil {
		return 0, err
	}
	return store.Scan(ctx, func(rec archive.Record) error {
		return cat.Record(ctx, rec)
	})
}

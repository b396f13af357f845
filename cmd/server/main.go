package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vdiana16/SiemensJava2025/internal/config"
	"github.com/vdiana16/SiemensJava2025/pkg/logger"
)

var configPath string

func main() {
	// .env is optional
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "itemproc",
		Short:         "Item store with a concurrent batch processor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	defaultPath := os.Getenv("APP_CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "config file path")

	root.AddCommand(serve, newProcessCmd(), newConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := NewApp(cfg, log)
			runErr := app.Run(ctx)
			if err := app.Shutdown(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one batch over all pending items and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := NewApp(cfg, log)
			defer func() { _ = app.Shutdown() }()

			res, runErr := app.RunOnce(ctx)
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cfgCmd
}

// bootstrap loads the configuration and builds the process logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, fromFile, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.Init(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if !fromFile {
		log.Warn("Config file not found, using defaults and environment", zap.String("path", configPath))
	}
	log.Info("Configuration loaded",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("workers", cfg.Batch.Workers),
	)
	return cfg, log, nil
}

// loadConfig reads configPath, falling back to defaults and APP_* variables when the file is absent
func loadConfig() (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	cfg, err = config.Load("")
	return cfg, false, err
}

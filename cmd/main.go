package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/kindlesync/internal/shared"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "config.toml"

func main() {
	logger := shared.NewLogger(nil)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	configPath := defaultConfigPath
	if v, ok := os.LookupEnv("KINDLESYNC_CONFIG"); ok && v != "" {
		configPath = v
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(configPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		}
	}
	config.ApplyEnv(nil)

	if level, err := shared.ParseLogLevel(config.Log.Level); err != nil {
		logger.Warn("invalid log level, using info", "level", config.Log.Level)
	} else {
		shared.SetLogLevel(logger, level)
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "kindlesync",
		Usage:    "Reconcile a Calibre library with an Amazon Kindle library",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		switch {
		case errors.Is(err, shared.ErrCancelled):
			logger.Warn("cancelled", "error", err)
			os.Exit(130)
		default:
			logger.Fatalf("application error: %v", err)
		}
	}
}

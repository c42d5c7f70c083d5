package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"goalsync/api/internal/config"
)

type runContext struct {
	context.Context
	cfg    config.Config
	logger *slog.Logger
}

type cli struct {
	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the goals API server"`
	Migrate MigrateCmd `cmd:"" help:"Apply or roll back the Postgres schema"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	var c cli
	ctx := kong.Parse(&c,
		kong.UsageOnError(),
		kong.Name("goals-api"),
		kong.Description("Goal hierarchy and progress synchronization service"),
	)
	err = ctx.Run(&runContext{Context: context.Background(), cfg: cfg, logger: logger})
	if err != nil {
		logger.Error("command failed", "command", ctx.Command(), "error", err)
	}
	ctx.FatalIfErrorf(err)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

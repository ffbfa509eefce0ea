// Command havana is the automatic DJ mixing engine: it analyses a set
// of music files, plans beat-aligned transitions between them, and
// renders the result as one continuous WAV mix.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/cartomix/havana/internal/analysis"
	"github.com/cartomix/havana/internal/config"
	"github.com/cartomix/havana/internal/decode"
	"github.com/cartomix/havana/internal/engine"
	"github.com/cartomix/havana/internal/planner"
	"github.com/cartomix/havana/internal/render"
	"github.com/cartomix/havana/internal/semantic"
	"github.com/cartomix/havana/internal/storage"
)

// Exit codes for the orchestration surface.
const (
	exitOK     = 0
	exitUsage  = 2
	exitDecode = 3
	exitPlan   = 4
	exitRender = 5
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "havana",
		Usage: "automatic DJ mixing engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "data-dir", Usage: "data directory for the analysis cache"},
			&cli.BoolFlag{Name: "no-semantic", Usage: "skip the semantic timeline collaborator"},
			&cli.BoolFlag{Name: "no-cache", Usage: "skip the analysis cache"},
		},
		Commands: []*cli.Command{
			analyzeCommand(),
			planCommand(),
			renderCommand(),
			mixCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds onto the documented exit codes.
func exitCode(err error) int {
	var decodeErr *decode.Error
	if errors.As(err, &decodeErr) {
		return exitDecode
	}
	var planErr *planner.Error
	if errors.As(err, &planErr) {
		return exitPlan
	}
	var renderErr *render.Error
	if errors.As(err, &renderErr) {
		return exitRender
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		return exitUsage
	}
	return 1
}

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// setup builds the configured engine from global flags.
func setup(ctx context.Context, cmd *cli.Command) (*engine.Engine, *config.Config, *slog.Logger, func(), error) {
	cfg := config.Default()
	if dir := cmd.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	cfg.LogLevel = cmd.String("log-level")
	if cmd.Bool("no-semantic") {
		cfg.SemanticEnabled = false
	}
	if cmd.Bool("no-cache") {
		cfg.CachePath = ""
	}

	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	var cache *storage.DB
	if cfg.CachePath != "" {
		db, err := storage.Open(cfg.CachePath, logger)
		if err != nil {
			logger.Warn("analysis cache unavailable", "path", cfg.CachePath, "error", err)
		} else {
			cache = db
		}
	}

	var provider semantic.Provider
	var batcher *semantic.Batcher
	if cfg.SemanticEnabled {
		gem, err := semantic.NewGemini(ctx, cfg.SemanticKeys, cfg.SemanticModel, logger)
		if err != nil {
			logger.Warn("semantic collaborator unavailable, proceeding heuristically", "error", err)
		} else {
			batcher = semantic.NewBatcher(gem, logger)
			provider = batcher
		}
	}

	eng := engine.New(cfg, logger, analysis.NewNative(logger), provider, cache)

	cleanup := func() {
		if batcher != nil {
			batcher.Close()
		}
		if cache != nil {
			cache.Close()
		}
	}
	return eng, cfg, logger, cleanup, nil
}

// Package app owns the process lifecycle of the settlement engine: it wires
// stores, caches, the job queue, the chain and bridge clients, then runs
// the goroutines of the configured mode until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/fantasymarket/internal/config"
)

// App holds the configuration and the cleanup stack of one process.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// modeFunc runs one operating mode until ctx is done.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"server": (*App).ServerMode,
	"worker": (*App).WorkerMode,
	"full":   (*App).FullMode,
}

// Run wires dependencies and blocks in the configured mode. Resources are
// released by Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("redis", a.cfg.Redis.Addr != ""),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(a, ctx, deps)
}

// Close runs cleanups in reverse order. Calling it again is a no-op.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("app: shutting down", slog.Int("resources", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Package app owns the process lifecycle. Run wires the infrastructure and
// hands it to one of the operating modes; Close releases what Wire opened.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/fusionbot/internal/config"
)

// modeFunc runs one operating mode until ctx is cancelled.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

var modes = map[string]modeFunc{
	"arbitrage":   (*App).ArbitrageMode,
	"liquidation": (*App).LiquidationMode,
	"full":        (*App).FullMode,
	"server":      (*App).ServerMode,
}

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	cleanup func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run blocks until ctx is cancelled or the mode fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.mu.Lock()
	a.cleanup = cleanup
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "dependencies ready",
		slog.String("mode", a.cfg.Mode),
		slog.Int("chains", len(deps.Pools)),
		slog.Bool("postgres", deps.Postgres != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("signer", deps.Signer != nil),
		slog.Bool("dry_run", a.cfg.Executor.DryRun),
	)
	return run(a, ctx, deps)
}

// Close releases everything Wire opened. Calls after the first are no-ops.
func (a *App) Close() {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()
	if cleanup == nil {
		return
	}
	a.logger.Info("shutting down application")
	cleanup()
}

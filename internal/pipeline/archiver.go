// Package pipeline holds the background maintenance jobs that run beside the
// scanners.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Archiver moves old execution records from the database to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewArchiver creates an Archiver that keeps retention worth of records in
// the database.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		logger:       logger.With(slog.String("component", "archive_job")),
		now:          time.Now,
	}
}

// Run executes a single archive run and returns the number of records moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive executions before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("executions_archived", n))
	return n, nil
}

// RunEvery runs the archiver once at start and then every interval until ctx
// is cancelled. A failed run is logged and retried on the next tick.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	a.logger.Info("archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

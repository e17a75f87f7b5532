package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one backing service.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	dryRun    bool
	startedAt time.Time
	checks    map[string]Check
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(mode string, dryRun bool, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		dryRun:    dryRun,
		startedAt: time.Now().UTC(),
		checks:    checks,
		logger:    logger,
	}
}

// HealthCheck reports liveness plus the state of every configured backing
// service. Any failing check turns the response into a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for n := range h.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(names))
	for _, n := range names {
		if err := h.checks[n](ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("check", n),
				slog.String("error", err.Error()),
			)
			components[n] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[n] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"dry_run":        h.dryRun,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"components":     components,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

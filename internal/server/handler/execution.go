package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// RecordSource is the in-memory execution log.
type RecordSource interface {
	NewestFirst(n int) []domain.ExecutionRecord
}

// RecordStore is the persistent execution history.
type RecordStore interface {
	GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// ExecutionHandler serves execution records.
type ExecutionHandler struct {
	log    RecordSource
	store  RecordStore // optional; when nil, GetExecution and Profit return 501
	logger *slog.Logger
}

// NewExecutionHandler creates an ExecutionHandler.
func NewExecutionHandler(log RecordSource, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{log: log, logger: logger}
}

// WithStore sets the persistent store for lookups and profit totals.
func (h *ExecutionHandler) WithStore(store RecordStore) *ExecutionHandler {
	h.store = store
	return h
}

// CompletedTransactions returns execution records, newest first.
// GET /api/completed_transactions?limit=50
func (h *ExecutionHandler) CompletedTransactions(w http.ResponseWriter, r *http.Request) {
	recs := h.log.NewestFirst(parseLimit(r, 50, 500))
	if recs == nil {
		recs = []domain.ExecutionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": recs})
}

// GetExecution returns a persisted record by id.
// GET /api/executions/{id}
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution persistence not configured")
		return
	}
	rec, err := h.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get execution failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Profit returns realised profit since ?since=YYYY-MM-DD, default the last
// 24 hours. Dry-run records are excluded.
// GET /api/executions/profit
func (h *ExecutionHandler) Profit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution persistence not configured")
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
		since = t
	}
	total, err := h.store.SumProfit(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: sum profit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute profit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":        since.Format(time.RFC3339),
		"total_profit": total,
	})
}

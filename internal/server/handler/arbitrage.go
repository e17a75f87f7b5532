package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// OpportunitySource holds the latest scan results per chain.
type OpportunitySource interface {
	All() map[string][]domain.ArbitrageOpportunity
	Get(chain string) []domain.ArbitrageOpportunity
}

// ScanSettings are the operator-adjustable scan parameters.
type ScanSettings interface {
	ThresholdPct() float64
	SetThresholdPct(v float64) error
	Usage() float64
	SetUsage(v float64) error
	Pairwise() bool
	SetPairwise(v bool)
}

// ArbHandler serves the arbitrage scan endpoints.
type ArbHandler struct {
	latest   OpportunitySource
	settings ScanSettings
	logger   *slog.Logger
}

// NewArbHandler creates an ArbHandler.
func NewArbHandler(latest OpportunitySource, settings ScanSettings, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{latest: latest, settings: settings, logger: logger}
}

// Scanning returns the opportunities of the latest scan, keyed by chain, or
// only those of ?chain= when given.
// GET /api/scanning
func (h *ArbHandler) Scanning(w http.ResponseWriter, r *http.Request) {
	if chain := r.URL.Query().Get("chain"); chain != "" {
		opps := h.latest.Get(chain)
		if opps == nil {
			opps = []domain.ArbitrageOpportunity{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"chain": chain, "opportunities": opps})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": h.latest.All()})
}

type marginalOptimizer struct {
	ThresholdPct *float64 `json:"threshold_pct"`
	Pairwise     *bool    `json:"pairwise,omitempty"`
}

// GetMarginalOptimizer returns the spread threshold.
// GET /api/marginal_optimizer
func (h *ArbHandler) GetMarginalOptimizer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold_pct": h.settings.ThresholdPct(),
		"pairwise":      h.settings.Pairwise(),
	})
}

// SetMarginalOptimizer replaces the spread threshold and, optionally, the
// scan mode. The next scan uses the new values.
// POST /api/marginal_optimizer
func (h *ArbHandler) SetMarginalOptimizer(w http.ResponseWriter, r *http.Request) {
	var req marginalOptimizer
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ThresholdPct == nil {
		writeError(w, http.StatusBadRequest, "threshold_pct is required")
		return
	}
	if err := h.settings.SetThresholdPct(*req.ThresholdPct); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Pairwise != nil {
		h.settings.SetPairwise(*req.Pairwise)
	}
	h.logger.InfoContext(r.Context(), "handler: spread threshold updated",
		slog.Float64("threshold_pct", h.settings.ThresholdPct()),
		slog.Bool("pairwise", h.settings.Pairwise()),
	)
	h.GetMarginalOptimizer(w, r)
}

type liquidityUsage struct {
	Usage *float64 `json:"usage"`
}

// GetLiquidity returns the fraction of lender liquidity a loan may take.
// GET /api/liquidity
func (h *ArbHandler) GetLiquidity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"usage": h.settings.Usage()})
}

// SetLiquidity replaces the liquidity usage fraction.
// POST /api/liquidity
func (h *ArbHandler) SetLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityUsage
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Usage == nil {
		writeError(w, http.StatusBadRequest, "usage is required")
		return
	}
	if err := h.settings.SetUsage(*req.Usage); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "handler: liquidity usage updated",
		slog.Float64("usage", *req.Usage),
	)
	h.GetLiquidity(w, r)
}

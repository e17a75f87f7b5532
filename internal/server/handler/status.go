package handler

import (
	"net/http"
	"sort"

	"github.com/alanyoungcy/fusionbot/internal/rpcpool"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

// TunablesSource exposes the controller-owned tunables.
type TunablesSource interface {
	Snapshot() tunables.Snapshot
}

// ProviderSource reports the rotation state of one chain's RPC providers.
type ProviderSource interface {
	Status() []rpcpool.EntryStatus
}

// StatusHandler serves the adaptive state of the bot: tunables and the RPC
// provider rotation.
type StatusHandler struct {
	tunables  TunablesSource
	providers map[string]ProviderSource
}

// NewStatusHandler creates a StatusHandler. providers is keyed by chain.
func NewStatusHandler(tu TunablesSource, providers map[string]ProviderSource) *StatusHandler {
	return &StatusHandler{tunables: tu, providers: providers}
}

type tunablesResponse struct {
	MinProfitThreshold float64            `json:"min_profit_threshold"`
	ProtocolWeights    map[string]float64 `json:"protocol_weights"`
	ScanIntervals      map[string]string  `json:"scan_intervals"`
}

// GetTunables returns the current tunables. Intervals are rendered as Go
// duration strings.
// GET /api/tunables
func (h *StatusHandler) GetTunables(w http.ResponseWriter, r *http.Request) {
	snap := h.tunables.Snapshot()
	resp := tunablesResponse{
		MinProfitThreshold: snap.MinProfitThreshold,
		ProtocolWeights:    snap.ProtocolWeights,
		ScanIntervals:      make(map[string]string, len(snap.ScanIntervals)),
	}
	if resp.ProtocolWeights == nil {
		resp.ProtocolWeights = map[string]float64{}
	}
	for p, d := range snap.ScanIntervals {
		resp.ScanIntervals[p] = d.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type chainProviders struct {
	Chain     string                `json:"chain"`
	Providers []rpcpool.EntryStatus `json:"providers"`
}

// GetProviders returns the quota counters and cooldowns of every provider.
// GET /api/providers
func (h *StatusHandler) GetProviders(w http.ResponseWriter, r *http.Request) {
	chains := make([]string, 0, len(h.providers))
	for c := range h.providers {
		chains = append(chains, c)
	}
	sort.Strings(chains)

	out := make([]chainProviders, 0, len(chains))
	for _, c := range chains {
		out = append(out, chainProviders{Chain: c, Providers: h.providers[c].Status()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chains": out})
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/wallet"
)

// WalletService reads balances and sweeps profits.
type WalletService interface {
	Status(ctx context.Context, chain string) (wallet.Status, error)
	Sweep(ctx context.Context, chain string) (wallet.Transfer, error)
}

// WalletHandler serves the bot wallet endpoints.
type WalletHandler struct {
	wallet       WalletService
	defaultChain string
	logger       *slog.Logger
}

// NewWalletHandler creates a WalletHandler. Requests without ?chain= use
// defaultChain.
func NewWalletHandler(w WalletService, defaultChain string, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallet: w, defaultChain: defaultChain, logger: logger}
}

func (h *WalletHandler) chain(r *http.Request) string {
	if c := r.URL.Query().Get("chain"); c != "" {
		return c
	}
	return h.defaultChain
}

// GetStatus returns the wallet address and native balance.
// GET /api/wallet/status?chain=BSC
func (h *WalletHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.wallet.Status(r.Context(), h.chain(r))
	if err != nil {
		h.writeWalletError(w, r, "wallet status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Transfer sweeps the balance above the reserve to the profit wallet.
// POST /api/wallet/transfer?chain=BSC
func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	tr, err := h.wallet.Sweep(r.Context(), h.chain(r))
	if err != nil {
		if errors.Is(err, wallet.ErrNothingToSweep) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeWalletError(w, r, "wallet transfer", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: profit sweep",
		slog.String("chain", tr.Chain),
		slog.String("amount_wei", tr.AmountWei),
		slog.Bool("dry_run", tr.DryRun),
	)
	writeJSON(w, http.StatusOK, tr)
}

func (h *WalletHandler) writeWalletError(w http.ResponseWriter, r *http.Request, action string, err error) {
	if errors.Is(err, domain.ErrNoProvider) {
		writeError(w, http.StatusServiceUnavailable, "no RPC provider available")
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+action+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusBadGateway, action+" failed")
}

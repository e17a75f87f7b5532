package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/arbitrage"
	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/execlog"
	"github.com/alanyoungcy/fusionbot/internal/matrix"
	"github.com/alanyoungcy/fusionbot/internal/rpcpool"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
	"github.com/alanyoungcy/fusionbot/internal/wallet"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthCheck_DegradedWhenCheckFails(t *testing.T) {
	h := NewHealthHandler("full", true, map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}, discard())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, true, body["dry_run"])
	assert.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["components"])
}

func TestMatrixHandler(t *testing.T) {
	reg := matrix.NewRegistry()
	m := matrix.New("BSC", "BSC", []string{"pancake", "biswap"}, []string{"WBNB"})
	require.NoError(t, m.Set("pancake", "WBNB", 600))
	reg.Add(m)
	h := NewMatrixHandler(reg)

	rec := httptest.NewRecorder()
	h.ListMatrices(rec, httptest.NewRequest(http.MethodGet, "/api/matrices", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["matrices"], 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/matrices/{id}", h.GetMatrix)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matrices/BSC", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.MatrixSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, []string{"pancake", "biswap"}, snap.Dexes)
	assert.Equal(t, 600.0, snap.Cells[0][0].Price)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matrices/ETH", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArbHandler_Settings(t *testing.T) {
	settings, err := arbitrage.NewSettings(0.5, 0.8, false)
	require.NoError(t, err)
	h := NewArbHandler(arbitrage.NewLatest(), settings, discard())

	rec := httptest.NewRecorder()
	h.SetMarginalOptimizer(rec, httptest.NewRequest(http.MethodPost, "/api/marginal_optimizer",
		strings.NewReader(`{"threshold_pct":1.25,"pairwise":true}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.25, settings.ThresholdPct())
	assert.True(t, settings.Pairwise())

	rec = httptest.NewRecorder()
	h.SetMarginalOptimizer(rec, httptest.NewRequest(http.MethodPost, "/api/marginal_optimizer",
		strings.NewReader(`{"threshold_pct":-1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.25, settings.ThresholdPct())

	rec = httptest.NewRecorder()
	h.SetLiquidity(rec, httptest.NewRequest(http.MethodPost, "/api/liquidity",
		strings.NewReader(`{"usage":0.5}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.5, decode(t, rec)["usage"])

	for _, body := range []string{`{"usage":1.5}`, `{}`, `{"usage":"x"}`, `{"bogus":1}`} {
		rec = httptest.NewRecorder()
		h.SetLiquidity(rec, httptest.NewRequest(http.MethodPost, "/api/liquidity", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 0.5, settings.Usage())
}

func TestArbHandler_Scanning(t *testing.T) {
	latest := arbitrage.NewLatest()
	latest.Set("BSC", []domain.ArbitrageOpportunity{{Chain: "BSC", Asset: "WBNB", BuyDex: "a", SellDex: "b", SpreadPct: 3}})
	settings, err := arbitrage.NewSettings(1, 1, false)
	require.NoError(t, err)
	h := NewArbHandler(latest, settings, discard())

	rec := httptest.NewRecorder()
	h.Scanning(rec, httptest.NewRequest(http.MethodGet, "/api/scanning", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	opps := decode(t, rec)["opportunities"].(map[string]any)
	assert.Len(t, opps["BSC"], 1)

	rec = httptest.NewRecorder()
	h.Scanning(rec, httptest.NewRequest(http.MethodGet, "/api/scanning?chain=ETH", nil))
	assert.Equal(t, []any{}, decode(t, rec)["opportunities"])
}

type fakeStore struct {
	recs map[string]domain.ExecutionRecord
}

func (f fakeStore) GetByID(_ context.Context, id string) (domain.ExecutionRecord, error) {
	rec, ok := f.recs[id]
	if !ok {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f fakeStore) SumProfit(context.Context, time.Time) (float64, error) { return 42, nil }

func TestExecutionHandler(t *testing.T) {
	log := execlog.New()
	log.Append(domain.ExecutionRecord{ID: "a", Profit: 1})
	log.Append(domain.ExecutionRecord{ID: "b", Profit: 2})
	h := NewExecutionHandler(log, discard())

	rec := httptest.NewRecorder()
	h.CompletedTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/completed_transactions", nil))
	var body struct {
		Transactions []domain.ExecutionRecord `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Transactions, 2)
	assert.Equal(t, "b", body.Transactions[0].ID)

	rec = httptest.NewRecorder()
	h.Profit(rec, httptest.NewRequest(http.MethodGet, "/api/executions/profit", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	h.WithStore(fakeStore{recs: map[string]domain.ExecutionRecord{"a": {ID: "a"}}})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/executions/profit", h.Profit)
	mux.HandleFunc("GET /api/executions/{id}", h.GetExecution)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/executions/profit?since=2026-01-02", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 42.0, decode(t, rec)["total_profit"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/executions/profit?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/executions/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusHandler(t *testing.T) {
	tu := tunables.New(10, time.Minute)
	tu.Apply(tunables.Update{ProtocolWeights: map[string]float64{"venus": 1.5}})
	rot, err := rpcpool.NewRotation([]rpcpool.Entry{{Name: "infura", URL: "http://x", Quota: rpcpool.Quota{PerMinute: 5}}})
	require.NoError(t, err)
	h := NewStatusHandler(tu, map[string]ProviderSource{"ETH": rot})

	rec := httptest.NewRecorder()
	h.GetTunables(rec, httptest.NewRequest(http.MethodGet, "/api/tunables", nil))
	body := decode(t, rec)
	assert.Equal(t, 10.0, body["min_profit_threshold"])
	assert.Equal(t, map[string]any{"venus": 1.5}, body["protocol_weights"])

	rec = httptest.NewRecorder()
	h.GetProviders(rec, httptest.NewRequest(http.MethodGet, "/api/providers", nil))
	chains := decode(t, rec)["chains"].([]any)
	require.Len(t, chains, 1)
	entry := chains[0].(map[string]any)
	assert.Equal(t, "ETH", entry["chain"])
	assert.Len(t, entry["providers"], 1)
}

type fakeWallet struct {
	sweepErr error
}

func (f fakeWallet) Status(_ context.Context, chain string) (wallet.Status, error) {
	if chain != "BSC" {
		return wallet.Status{}, domain.ErrNoProvider
	}
	return wallet.Status{Chain: chain, Address: "0xabc", Balance: "1.5"}, nil
}

func (f fakeWallet) Sweep(_ context.Context, chain string) (wallet.Transfer, error) {
	if f.sweepErr != nil {
		return wallet.Transfer{}, f.sweepErr
	}
	return wallet.Transfer{Chain: chain, AmountWei: "100", DryRun: true}, nil
}

func TestWalletHandler(t *testing.T) {
	h := NewWalletHandler(fakeWallet{}, "BSC", discard())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/wallet/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.5", decode(t, rec)["balance"])

	rec = httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/wallet/status?chain=ETH", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/wallet/transfer", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["dry_run"])

	h = NewWalletHandler(fakeWallet{sweepErr: wallet.ErrNothingToSweep}, "BSC", discard())
	rec = httptest.NewRecorder()
	h.Transfer(rec, httptest.NewRequest(http.MethodPost, "/api/wallet/transfer", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

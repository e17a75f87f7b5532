package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()
	r.ProviderSelected("ETH", "ETH-infura")
	r.ProviderSelected("ETH", "ETH-infura")
	r.ProviderExhausted("BSC")
	r.AccountsScanned("venus", 40)
	r.ExecutionRecorded(domain.ExecutionRecord{Protocol: "venus", Success: true, Profit: 12})
	r.ExecutionRecorded(domain.ExecutionRecord{Protocol: "venus"})
	r.ExecutionRecorded(domain.ExecutionRecord{Protocol: "venus", Success: true, DryRun: true, Profit: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.providerSelected.WithLabelValues("ETH", "ETH-infura")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.providerExhausted.WithLabelValues("BSC")))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.accountsScanned.WithLabelValues("venus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("venus", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("venus", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.executions.WithLabelValues("venus", "dry_run")))
	assert.Equal(t, 15.0, testutil.ToFloat64(r.profit.WithLabelValues("venus")))
}

func TestRecorder_TunablesGauges(t *testing.T) {
	r := New()
	tu := tunables.New(0, time.Minute)
	tu.OnChange(r.TunablesChanged)

	p := 7.5
	tu.Apply(tunables.Update{
		MinProfitThreshold: &p,
		ProtocolWeights:    map[string]float64{"aave": 0.5},
		ScanIntervals:      map[string]time.Duration{"aave": 20 * time.Second},
	})

	assert.Equal(t, 7.5, testutil.ToFloat64(r.minProfit))
	assert.Equal(t, 0.5, testutil.ToFloat64(r.protocolWeight.WithLabelValues("aave")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.scanInterval.WithLabelValues("aave")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.OpportunityFound("ETH")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `fusionbot_arbitrage_opportunities_total{chain="ETH"} 1`)
}

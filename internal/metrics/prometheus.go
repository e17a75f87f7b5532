// Package metrics exports pipeline statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

// Recorder implements the observer interfaces of the pool, feeds, scanners,
// monitors and executor.
type Recorder struct {
	registry *prometheus.Registry

	providerSelected  *prometheus.CounterVec
	providerExhausted *prometheus.CounterVec
	providerFailed    *prometheus.CounterVec
	priceUpdates      *prometheus.CounterVec
	opportunities     *prometheus.CounterVec
	accountsScanned   *prometheus.CounterVec
	liquidations      *prometheus.CounterVec
	executions        *prometheus.CounterVec
	skipped           *prometheus.CounterVec
	profit            *prometheus.CounterVec

	minProfit      prometheus.Gauge
	protocolWeight *prometheus.GaugeVec
	scanInterval   *prometheus.GaugeVec
}

// New creates a recorder on its own registry, with the Go and process
// collectors included.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		providerSelected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_rpc_provider_selected_total",
			Help: "RPC requests routed to each provider",
		}, []string{"chain", "provider"}),
		providerExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_rpc_pool_exhausted_total",
			Help: "Requests refused because every provider was unavailable",
		}, []string{"chain"}),
		providerFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_rpc_provider_failures_total",
			Help: "Provider transport failures that triggered a cooldown",
		}, []string{"chain", "provider"}),
		priceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_price_updates_total",
			Help: "Matrix cells written by the DEX pollers",
		}, []string{"chain", "dex"}),
		opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_arbitrage_opportunities_total",
			Help: "Funded spreads forwarded to the executor",
		}, []string{"chain"}),
		accountsScanned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_liquidation_accounts_scanned_total",
			Help: "Borrower accounts checked",
		}, []string{"protocol"}),
		liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_liquidation_events_total",
			Help: "Under-collateralised accounts detected",
		}, []string{"protocol"}),
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_executions_total",
			Help: "Execution records by outcome",
		}, []string{"protocol", "outcome"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_executions_skipped_total",
			Help: "Opportunities dropped before submission",
		}, []string{"protocol", "reason"}),
		profit: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbot_execution_profit_total",
			Help: "Summed profit of successful executions",
		}, []string{"protocol"}),
		minProfit: f.NewGauge(prometheus.GaugeOpts{
			Name: "fusionbot_min_profit_threshold",
			Help: "Current minimum profit threshold",
		}),
		protocolWeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fusionbot_protocol_weight",
			Help: "Current controller weight per protocol",
		}, []string{"protocol"}),
		scanInterval: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fusionbot_scan_interval_seconds",
			Help: "Current scan interval per protocol",
		}, []string{"protocol"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ProviderSelected implements rpcpool.Observer.
func (r *Recorder) ProviderSelected(chain, name string) {
	r.providerSelected.WithLabelValues(chain, name).Inc()
}

// ProviderExhausted implements rpcpool.Observer.
func (r *Recorder) ProviderExhausted(chain string) {
	r.providerExhausted.WithLabelValues(chain).Inc()
}

// ProviderFailed implements rpcpool.Observer.
func (r *Recorder) ProviderFailed(chain, name string) {
	r.providerFailed.WithLabelValues(chain, name).Inc()
}

// PriceUpdated implements feed.Observer.
func (r *Recorder) PriceUpdated(chain, dex string) {
	r.priceUpdates.WithLabelValues(chain, dex).Inc()
}

// OpportunityFound implements arbitrage.Observer.
func (r *Recorder) OpportunityFound(chain string) {
	r.opportunities.WithLabelValues(chain).Inc()
}

// AccountsScanned implements liquidation.Observer.
func (r *Recorder) AccountsScanned(protocol string, n int) {
	r.accountsScanned.WithLabelValues(protocol).Add(float64(n))
}

// LiquidationDetected implements liquidation.Observer.
func (r *Recorder) LiquidationDetected(protocol string) {
	r.liquidations.WithLabelValues(protocol).Inc()
}

// ExecutionRecorded implements executor.Observer.
func (r *Recorder) ExecutionRecorded(rec domain.ExecutionRecord) {
	outcome := "failed"
	switch {
	case rec.DryRun:
		outcome = "dry_run"
	case rec.Success:
		outcome = "success"
	}
	r.executions.WithLabelValues(rec.Protocol, outcome).Inc()
	if rec.Success && rec.Profit > 0 {
		r.profit.WithLabelValues(rec.Protocol).Add(rec.Profit)
	}
}

// ExecutionSkipped implements executor.Observer.
func (r *Recorder) ExecutionSkipped(protocol, reason string) {
	r.skipped.WithLabelValues(protocol, reason).Inc()
}

// TunablesChanged mirrors a tunables snapshot into gauges. Register it with
// tunables.OnChange.
func (r *Recorder) TunablesChanged(s tunables.Snapshot) {
	r.minProfit.Set(s.MinProfitThreshold)
	for p, w := range s.ProtocolWeights {
		r.protocolWeight.WithLabelValues(p).Set(w)
	}
	for p, d := range s.ScanIntervals {
		r.scanInterval.WithLabelValues(p).Set(d.Seconds())
	}
}

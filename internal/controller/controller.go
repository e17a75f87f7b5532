// Package controller re-tunes scan cadence, protocol weights and the profit
// threshold from recent execution outcomes.
package controller

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

const (
	minInterval = 10 * time.Second

	bestWeight  = 1.0
	otherWeight = 0.5
)

// History is the read side of the execution log.
type History interface {
	Recent(n int) []domain.ExecutionRecord
}

// Config holds controller parameters.
type Config struct {
	Period       time.Duration
	Window       int
	BaseInterval time.Duration
}

// Controller periodically folds execution history into the shared tunables.
type Controller struct {
	history  History
	tunables *tunables.Tunables
	cfg      Config
	logger   *slog.Logger
}

// New creates a controller. Zero config fields take the defaults: a 5m
// period, the last 100 records and a 15s base interval.
func New(history History, tu *tunables.Tunables, cfg Config, logger *slog.Logger) *Controller {
	if cfg.Period <= 0 {
		cfg.Period = 5 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 100
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 15 * time.Second
	}
	return &Controller{
		history:  history,
		tunables: tu,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "controller")),
	}
}

// Run calls Step once straight away, then every period until ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller started",
		slog.Duration("period", c.cfg.Period),
		slog.Int("window", c.cfg.Window),
	)
	c.Step(ctx)

	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Step(ctx)
		}
	}
}

// Step performs one adjustment. It reports false, changing nothing, when
// there is no history to learn from.
func (c *Controller) Step(ctx context.Context) bool {
	recs := c.history.Recent(c.cfg.Window)
	if len(recs) == 0 {
		c.logger.DebugContext(ctx, "no execution history, skipping adjustment")
		return false
	}

	var order []string
	profits := make(map[string]float64)
	bestProfit, haveSuccess := 0.0, false
	for _, r := range recs {
		if _, seen := profits[r.Protocol]; !seen {
			order = append(order, r.Protocol)
		}
		profits[r.Protocol] += r.Profit
		if r.Success && (!haveSuccess || r.Profit > bestProfit) {
			bestProfit, haveSuccess = r.Profit, true
		}
	}

	best := order[0]
	for _, p := range order[1:] {
		if profits[p] > profits[best] {
			best = p
		}
	}

	weights := make(map[string]float64, len(order))
	intervals := make(map[string]time.Duration, len(order))
	for _, p := range order {
		weights[p] = otherWeight
		if p == best {
			weights[p] = bestWeight
		}
		intervals[p] = c.interval(profits[p])
	}

	u := tunables.Update{ProtocolWeights: weights, ScanIntervals: intervals}
	if haveSuccess && bestProfit > 0 {
		u.MinProfitThreshold = &bestProfit
	}

	prev := c.tunables.Snapshot()
	c.tunables.Apply(u)

	for _, p := range order {
		if old, ok := prev.ScanIntervals[p]; !ok || old != intervals[p] {
			c.logger.InfoContext(ctx, "scan interval adjusted",
				slog.String("protocol", p),
				slog.Duration("old", old),
				slog.Duration("new", intervals[p]),
				slog.Float64("profit", profits[p]),
			)
		}
	}
	if u.MinProfitThreshold != nil && prev.MinProfitThreshold != bestProfit {
		c.logger.InfoContext(ctx, "profit threshold adjusted",
			slog.Float64("old", prev.MinProfitThreshold),
			slog.Float64("new", bestProfit),
		)
	}
	return true
}

// interval shortens the scan period of profitable protocols and backs off
// the rest.
func (c *Controller) interval(profit float64) time.Duration {
	if profit <= 0 {
		return 2 * c.cfg.BaseInterval
	}
	d := time.Duration(float64(c.cfg.BaseInterval) / (math.Sqrt(math.Abs(profit)) + 1))
	return max(minInterval, d)
}

// Package arbitrage runs the per-chain spread scan: it reads the price
// matrix, sizes a flash loan for every spread and hands the result to the
// execution pipeline.
package arbitrage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/flashloan"
	"github.com/alanyoungcy/fusionbot/internal/matrix"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

// LoanSizer picks the flash-loan provider and amount for an asset.
type LoanSizer interface {
	Size(ctx context.Context, asset common.Address) (flashloan.Selection, error)
}

// Publisher broadcasts opportunities to dashboard listeners.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Observer receives scan statistics. The metrics recorder implements it.
type Observer interface {
	OpportunityFound(chain string)
}

// Scanner scans one chain's matrix on the cadence set in the tunables.
type Scanner struct {
	market   domain.Market
	matrices *matrix.Registry
	settings *Settings
	tunables *tunables.Tunables
	sizer    LoanSizer
	latest   *Latest
	out      chan<- domain.Opportunity
	logger   *slog.Logger

	publisher Publisher
	observer  Observer
}

// NewScanner creates the scanner for market.Chain.
func NewScanner(
	market domain.Market,
	matrices *matrix.Registry,
	settings *Settings,
	tu *tunables.Tunables,
	sizer LoanSizer,
	latest *Latest,
	out chan<- domain.Opportunity,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		market:   market,
		matrices: matrices,
		settings: settings,
		tunables: tu,
		sizer:    sizer,
		latest:   latest,
		out:      out,
		logger: logger.With(
			slog.String("component", "arb_scanner"),
			slog.String("chain", market.Chain),
		),
	}
}

// SetPublisher enables opportunity broadcasts.
func (s *Scanner) SetPublisher(p Publisher) { s.publisher = p }

// SetObserver installs a statistics observer.
func (s *Scanner) SetObserver(o Observer) { s.observer = o }

// Protocol is the name the scanner uses in the tunables and execution log.
func (s *Scanner) Protocol() string { return domain.ArbitrageProtocol(s.market.Chain) }

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("arb scanner started")
	defer s.logger.Info("arb scanner stopped")

	for {
		s.ScanOnce(ctx)

		timer := time.NewTimer(s.tunables.Interval(s.Protocol()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ScanOnce scans the matrix, sizes each spread and forwards the ones that
// can be funded. It returns the forwarded opportunities.
func (s *Scanner) ScanOnce(ctx context.Context) []domain.ArbitrageOpportunity {
	spreads := s.matrices.ScanChain(s.market.Chain, s.settings.ThresholdPct(), s.settings.Pairwise())

	var funded []domain.ArbitrageOpportunity
	for _, opp := range spreads {
		if ctx.Err() != nil {
			break
		}
		if !s.route(&opp) {
			continue
		}

		sel, err := s.sizer.Size(ctx, common.HexToAddress(opp.AssetAddress))
		if err != nil {
			if errors.Is(err, domain.ErrNoLiquidity) || errors.Is(err, domain.ErrNoProvider) {
				s.logger.DebugContext(ctx, "spread not fundable",
					slog.String("asset", opp.Asset),
					slog.String("error", err.Error()),
				)
			} else {
				s.logger.WarnContext(ctx, "sizing failed",
					slog.String("asset", opp.Asset),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		opp.FlashloanProvider = sel.Provider.Address.Hex()
		opp.FlashloanAmount = sel.Amount

		s.logger.InfoContext(ctx, "arbitrage opportunity",
			slog.String("asset", opp.Asset),
			slog.String("buy_dex", opp.BuyDex),
			slog.String("sell_dex", opp.SellDex),
			slog.Float64("spread_pct", opp.SpreadPct),
			slog.String("provider", sel.Provider.Name),
			slog.String("amount", sel.Amount.String()),
		)
		if s.observer != nil {
			s.observer.OpportunityFound(s.market.Chain)
		}
		s.publish(ctx, opp)
		funded = append(funded, opp)

		o := opp
		select {
		case s.out <- domain.Opportunity{Arbitrage: &o}:
		case <-ctx.Done():
		}
	}
	s.latest.Set(s.market.Chain, funded)
	return funded
}

// route fills in the addresses needed to execute opp. It reports false when
// the asset or a venue is not configured.
func (s *Scanner) route(opp *domain.ArbitrageOpportunity) bool {
	asset, ok := s.market.Asset(opp.Asset)
	if !ok {
		return false
	}
	buy, ok := s.market.Dex(opp.BuyDex)
	if !ok {
		return false
	}
	sell, ok := s.market.Dex(opp.SellDex)
	if !ok {
		return false
	}
	opp.AssetAddress = asset.Address
	opp.Decimals = asset.Decimals
	opp.QuoteAddress = s.market.Quote.Address
	opp.BuyRouter = buy.Router
	opp.SellRouter = sell.Router
	return true
}

func (s *Scanner) publish(ctx context.Context, opp domain.ArbitrageOpportunity) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(opp)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.ChannelOpportunity, payload); err != nil {
		s.logger.WarnContext(ctx, "publish opportunity failed", slog.String("error", err.Error()))
	}
}

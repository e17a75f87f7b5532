// Package feed polls DEX routers for spot quotes and writes them into the
// price matrix.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/matrix"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm"
)

// Backend runs a call against an RPC endpoint chosen by the provider pool.
type Backend interface {
	Do(ctx context.Context, fn func(*ethclient.Client) error) error
}

// Observer receives feed statistics. The metrics recorder implements it.
type Observer interface {
	PriceUpdated(chain, dex string)
}

// PriceKey is the price cache key of one matrix cell.
func PriceKey(chain, dex, asset string) string {
	return chain + ":" + dex + ":" + asset
}

// DexPoller quotes every asset against the chain's quote asset on one DEX.
type DexPoller struct {
	market   domain.Market
	dex      domain.Dex
	matrices *matrix.Registry
	backend  Backend
	interval time.Duration
	logger   *slog.Logger

	cache    domain.PriceCache
	bus      domain.SignalBus
	observer Observer
}

// NewDexPoller creates a poller for dex on market.Chain.
func NewDexPoller(market domain.Market, dex domain.Dex, matrices *matrix.Registry, backend Backend, interval time.Duration, logger *slog.Logger) *DexPoller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &DexPoller{
		market:   market,
		dex:      dex,
		matrices: matrices,
		backend:  backend,
		interval: interval,
		logger: logger.With(
			slog.String("component", "dex_poller"),
			slog.String("chain", market.Chain),
			slog.String("dex", dex.Name),
		),
	}
}

// SetCache mirrors every written price into cache.
func (p *DexPoller) SetCache(c domain.PriceCache) { p.cache = c }

// SetBus publishes a DexEvent after every poll.
func (p *DexPoller) SetBus(b domain.SignalBus) { p.bus = b }

// SetObserver installs a statistics observer.
func (p *DexPoller) SetObserver(o Observer) { p.observer = o }

// Run polls immediately and then every interval until ctx is cancelled.
func (p *DexPoller) Run(ctx context.Context) error {
	p.logger.Info("dex poller started", slog.Duration("interval", p.interval))
	defer p.logger.Info("dex poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce quotes every asset once and returns how many cells were written.
func (p *DexPoller) PollOnce(ctx context.Context) int {
	router := common.HexToAddress(p.dex.Router)
	quote := common.HexToAddress(p.market.Quote.Address)

	var updated []string
	for _, asset := range p.market.Assets {
		if ctx.Err() != nil {
			break
		}
		if strings.EqualFold(asset.Address, p.market.Quote.Address) {
			continue
		}
		price, err := p.quote(ctx, router, asset, quote)
		if err != nil {
			p.logger.WarnContext(ctx, "quote failed",
				slog.String("asset", asset.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !p.matrices.UpdatePrice(p.market.Chain, p.dex.Name, asset.Symbol, price) {
			continue
		}
		if p.observer != nil {
			p.observer.PriceUpdated(p.market.Chain, p.dex.Name)
		}
		if p.cache != nil {
			if err := p.cache.SetPrice(ctx, PriceKey(p.market.Chain, p.dex.Name, asset.Symbol), price, time.Now()); err != nil {
				p.logger.DebugContext(ctx, "price cache write failed", slog.String("error", err.Error()))
			}
		}
		updated = append(updated, fmt.Sprintf("%s=%s", asset.Symbol, decimal.NewFromFloat(price).StringFixed(6)))
	}

	p.publish(ctx, updated)
	return len(updated)
}

// quote prices one whole unit of asset in the quote token.
func (p *DexPoller) quote(ctx context.Context, router common.Address, asset domain.Asset, quote common.Address) (float64, error) {
	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	path := []common.Address{common.HexToAddress(asset.Address), quote}

	var amounts []*big.Int
	err := p.backend.Do(ctx, func(c *ethclient.Client) error {
		var err error
		amounts, err = evm.AmountsOut(ctx, c, router, amountIn, path)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(amounts) < 2 || amounts[len(amounts)-1].Sign() <= 0 {
		return 0, fmt.Errorf("feed: %s: empty quote", asset.Symbol)
	}
	out := decimal.NewFromBigInt(amounts[len(amounts)-1], -int32(p.market.Quote.Decimals))
	return out.InexactFloat64(), nil
}

func (p *DexPoller) publish(ctx context.Context, updated []string) {
	if p.bus == nil {
		return
	}
	status, msg := domain.StatusInfo, strings.Join(updated, " ")
	if len(updated) == 0 {
		status, msg = domain.StatusFailed, "no quotes"
	}
	payload, err := json.Marshal(domain.NewDexEvent(p.dex.Name, msg, status))
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelDex, payload); err != nil {
		p.logger.DebugContext(ctx, "publish dex event failed", slog.String("error", err.Error()))
	}
}

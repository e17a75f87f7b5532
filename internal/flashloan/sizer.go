package flashloan

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm"
)

// Backend runs a call against an RPC endpoint chosen by the provider pool.
type Backend interface {
	Do(ctx context.Context, fn func(*ethclient.Client) error) error
}

// Querier reads lender liquidity on one chain.
type Querier struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewQuerier creates a querier. Each balance call is bounded by timeout.
func NewQuerier(backend Backend, timeout time.Duration, logger *slog.Logger) *Querier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Querier{
		backend: backend,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "flashloan")),
	}
}

// Query reads asset.balanceOf(provider) for every provider concurrently.
// Providers whose call fails are logged and left out; the result keeps the
// input order.
func (q *Querier) Query(ctx context.Context, providers []Provider, asset common.Address) []Candidate {
	results := make([]*big.Int, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, q.timeout)
			defer cancel()
			var bal *big.Int
			err := q.backend.Do(cctx, func(c *ethclient.Client) error {
				var err error
				bal, err = evm.BalanceOf(cctx, c, asset, p.Address)
				return err
			})
			if err != nil {
				q.logger.WarnContext(ctx, "liquidity query failed",
					slog.String("provider", p.Name),
					slog.String("asset", asset.Hex()),
					slog.String("error", err.Error()),
				)
				return nil
			}
			results[i] = bal
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Candidate, 0, len(providers))
	for i, p := range providers {
		if results[i] != nil {
			out = append(out, Candidate{Provider: p, Liquidity: results[i]})
		}
	}
	return out
}

// UsageFunc returns the current liquidity usage fraction.
type UsageFunc func() float64

// Sizer combines Query and ChooseBest for one chain.
type Sizer struct {
	querier   *Querier
	providers []Provider
	usage     UsageFunc
}

// NewSizer creates a sizer over a fixed provider list. usage is read on
// every call so runtime changes apply to the next opportunity.
func NewSizer(querier *Querier, providers []Provider, usage UsageFunc) *Sizer {
	return &Sizer{querier: querier, providers: providers, usage: usage}
}

// Size picks the provider and amount for borrowing asset. It returns
// domain.ErrNoLiquidity when no provider answers or the usable amount is
// zero; callers treat that as "skip this opportunity".
func (s *Sizer) Size(ctx context.Context, asset common.Address) (Selection, error) {
	if len(s.providers) == 0 {
		return Selection{}, fmt.Errorf("flashloan: no providers configured: %w", domain.ErrNoLiquidity)
	}
	candidates := s.querier.Query(ctx, s.providers, asset)
	sel, ok := ChooseBest(candidates, s.usage())
	if !ok || sel.Amount.Sign() == 0 {
		return Selection{}, fmt.Errorf("flashloan: asset %s: %w", asset.Hex(), domain.ErrNoLiquidity)
	}
	return sel, nil
}

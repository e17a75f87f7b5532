package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Observer receives pool events. The metrics recorder implements it.
type Observer interface {
	ProviderSelected(chain, name string)
	ProviderExhausted(chain string)
	ProviderFailed(chain, name string)
}

// Dialer opens a client for url.
type Dialer func(ctx context.Context, url string) (*ethclient.Client, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Chain string
	// Cooldown applied to an entry after a transport failure.
	Backoff time.Duration
	// Window is the length of the per-minute quota window, shared with the
	// distributed guard.
	Window time.Duration
}

// Pool hands out ethclient connections for one chain, rotating across the
// configured providers. Connections are dialled once per URL and reused.
type Pool struct {
	cfg      PoolConfig
	rotation *Rotation
	guard    domain.RateLimiter
	observer Observer
	dial     Dialer
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithGuard enables the distributed quota check. Each entry is checked
// against its PerMinute quota under the key "rpc:<chain>:<name>".
func WithGuard(g domain.RateLimiter) PoolOption {
	return func(p *Pool) { p.guard = g }
}

// WithObserver installs an event observer.
func WithObserver(o Observer) PoolOption {
	return func(p *Pool) { p.observer = o }
}

// WithDialer overrides ethclient.DialContext.
func WithDialer(d Dialer) PoolOption {
	return func(p *Pool) { p.dial = d }
}

// NewPool wraps rotation for chain.
func NewPool(cfg PoolConfig, rotation *Rotation, logger *slog.Logger, opts ...PoolOption) *Pool {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	p := &Pool{
		cfg:      cfg,
		rotation: rotation,
		dial:     ethclient.DialContext,
		logger:   logger.With(slog.String("component", "rpcpool"), slog.String("chain", cfg.Chain)),
		clients:  make(map[string]*ethclient.Client),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Chain returns the chain this pool serves.
func (p *Pool) Chain() string { return p.cfg.Chain }

// Rotation exposes the underlying rotation for status reporting.
func (p *Pool) Rotation() *Rotation { return p.rotation }

// Client returns a connection to the next available provider together with
// the provider's name. It returns domain.ErrNoProvider when every provider
// is exhausted, cooling down or refused by the distributed guard.
func (p *Pool) Client(ctx context.Context) (*ethclient.Client, string, error) {
	for range max(p.rotation.Len(), 1) {
		e, ok := p.rotation.Next()
		if !ok {
			break
		}
		if !p.guardAllows(ctx, e) {
			continue
		}
		c, err := p.client(ctx, e)
		if err != nil {
			p.logger.WarnContext(ctx, "dial failed",
				slog.String("provider", e.Name),
				slog.String("error", err.Error()),
			)
			p.markFailure(e.Name)
			continue
		}
		if p.observer != nil {
			p.observer.ProviderSelected(p.cfg.Chain, e.Name)
		}
		return c, e.Name, nil
	}
	if p.observer != nil {
		p.observer.ProviderExhausted(p.cfg.Chain)
	}
	return nil, "", fmt.Errorf("rpcpool %s: %w", p.cfg.Chain, domain.ErrNoProvider)
}

// Do runs fn against the next available provider. Transport failures put
// that provider into cooldown; errors returned by the node itself, such as
// a reverted call, do not. Neither does running out the caller's own
// deadline.
func (p *Pool) Do(ctx context.Context, fn func(*ethclient.Client) error) error {
	c, name, err := p.Client(ctx)
	if err != nil {
		return err
	}
	err = fn(c)
	if err != nil && ctx.Err() == nil && IsTransportError(err) {
		p.logger.WarnContext(ctx, "provider failed, cooling down",
			slog.String("provider", name),
			slog.Duration("cooldown", p.cfg.Backoff),
			slog.String("error", err.Error()),
		)
		p.markFailure(name)
	}
	return err
}

// Close closes every cached connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}

func (p *Pool) markFailure(name string) {
	p.rotation.MarkFailure(name, p.cfg.Backoff)
	if p.observer != nil {
		p.observer.ProviderFailed(p.cfg.Chain, name)
	}
}

func (p *Pool) guardAllows(ctx context.Context, e Entry) bool {
	if p.guard == nil || e.Quota.PerMinute <= 0 {
		return true
	}
	ok, err := p.guard.Allow(ctx, "rpc:"+p.cfg.Chain+":"+e.Name, e.Quota.PerMinute, p.cfg.Window)
	if err != nil {
		// Fall back to the local quota when the shared store is unreachable.
		p.logger.WarnContext(ctx, "quota guard unavailable",
			slog.String("provider", e.Name),
			slog.String("error", err.Error()),
		)
		return true
	}
	if !ok {
		p.logger.DebugContext(ctx, "provider over shared quota", slog.String("provider", e.Name))
	}
	return ok
}

func (p *Pool) client(ctx context.Context, e Entry) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[e.URL]; ok {
		return c, nil
	}
	c, err := p.dial(ctx, e.URL)
	if err != nil {
		return nil, err
	}
	p.clients[e.URL] = c
	return c, nil
}

// limitExceeded is the JSON-RPC code hosted providers return when throttling.
const limitExceeded = -32005

// IsTransportError reports whether err came from reaching the provider
// rather than from executing the request.
func IsTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() == limitExceeded
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Pools indexes the per-chain pools.
type Pools map[string]*Pool

// Get returns the pool for chain.
func (ps Pools) Get(chain string) (*Pool, error) {
	p, ok := ps[chain]
	if !ok {
		return nil, fmt.Errorf("rpcpool: no pool for chain %q: %w", chain, domain.ErrNoProvider)
	}
	return p, nil
}

// Close closes every pool.
func (ps Pools) Close() {
	for _, p := range ps {
		p.Close()
	}
}

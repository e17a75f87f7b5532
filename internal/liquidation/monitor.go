package liquidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

// Backend runs a call against an RPC endpoint chosen by the provider pool.
type Backend interface {
	Do(ctx context.Context, fn func(*ethclient.Client) error) error
}

// Publisher broadcasts dashboard notices.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Observer receives scan statistics. The metrics recorder implements it.
type Observer interface {
	AccountsScanned(protocol string, n int)
	LiquidationDetected(protocol string)
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// Concurrency bounds the accounts checked at once.
	Concurrency int64
	// CheckTimeout bounds a single account check.
	CheckTimeout time.Duration
}

// Monitor runs the scan loop of one protocol.
type Monitor struct {
	protocol Protocol
	source   AccountSource
	backend  Backend
	tunables *tunables.Tunables
	events   chan<- domain.LiquidationEvent
	cfg      MonitorConfig
	logger   *slog.Logger

	publisher Publisher
	observer  Observer
}

// NewMonitor creates a monitor that sends detected events on events.
func NewMonitor(
	protocol Protocol,
	source AccountSource,
	backend Backend,
	tu *tunables.Tunables,
	events chan<- domain.LiquidationEvent,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 15 * time.Second
	}
	return &Monitor{
		protocol: protocol,
		source:   source,
		backend:  backend,
		tunables: tu,
		events:   events,
		cfg:      cfg,
		logger: logger.With(
			slog.String("component", "liquidation"),
			slog.String("protocol", protocol.Name()),
			slog.String("chain", protocol.Chain()),
		),
	}
}

// SetPublisher enables LiquidationNotice broadcasts for detected accounts.
func (m *Monitor) SetPublisher(p Publisher) { m.publisher = p }

// SetObserver installs a statistics observer.
func (m *Monitor) SetObserver(o Observer) { m.observer = o }

// Run scans until ctx is cancelled. The wait between cycles is read from
// the tunables each time, so controller changes apply to the next cycle.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("liquidation monitor started")
	defer m.logger.Info("liquidation monitor stopped")

	for {
		if _, err := m.Scan(ctx); err != nil && ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "scan failed", slog.String("error", err.Error()))
		}

		interval := m.tunables.Interval(m.protocol.Name())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Scan runs one cycle and returns how many events were sent.
func (m *Monitor) Scan(ctx context.Context) (int, error) {
	accounts, err := m.source.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	if m.observer != nil {
		m.observer.AccountsScanned(m.protocol.Name(), len(accounts))
	}
	m.logger.DebugContext(ctx, "scanning accounts", slog.Int("accounts", len(accounts)))

	sem := semaphore.NewWeighted(m.cfg.Concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for _, acct := range accounts {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(acct common.Address) {
			defer wg.Done()
			defer sem.Release(1)
			if m.check(ctx, acct) {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}(acct)
	}
	wg.Wait()
	return sent, ctx.Err()
}

// check evaluates one account and forwards it when liquidatable.
func (m *Monitor) check(ctx context.Context, acct common.Address) bool {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	var (
		ev         domain.LiquidationEvent
		liquidable bool
	)
	err := m.backend.Do(cctx, func(c *ethclient.Client) error {
		var err error
		ev, liquidable, err = m.protocol.CheckAccount(cctx, c, acct)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			m.logger.WarnContext(ctx, "account check failed",
				slog.String("account", acct.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if !liquidable {
		return false
	}

	m.logger.InfoContext(ctx, "liquidatable account",
		slog.String("account", ev.Account),
		slog.Float64("debt_usd", ev.DebtUSD),
		slog.Float64("collateral_usd", ev.CollateralUSD),
	)
	if m.observer != nil {
		m.observer.LiquidationDetected(m.protocol.Name())
	}
	m.publish(ctx, ev)

	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Monitor) publish(ctx context.Context, ev domain.LiquidationEvent) {
	if m.publisher == nil {
		return
	}
	notice := domain.NewLiquidationNotice(ev.Account, domain.StatusDetected,
		fmt.Sprintf("%s: debt $%.2f, collateral $%.2f", ev.Protocol, ev.DebtUSD, ev.CollateralUSD))
	payload, err := json.Marshal(notice)
	if err != nil {
		return
	}
	if err := m.publisher.Publish(ctx, domain.ChannelLiquidation, payload); err != nil {
		m.logger.WarnContext(ctx, "publish notice failed", slog.String("error", err.Error()))
	}
}

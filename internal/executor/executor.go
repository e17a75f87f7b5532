// Package executor is the single consumer of detected opportunities. It
// gates each one on the shared tunables, submits it on-chain (or records a
// simulation in dry-run mode) and appends the outcome to the execution log.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/execlog"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

// Publisher broadcasts execution outcomes to dashboard listeners.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Observer receives execution statistics. The metrics recorder implements it.
type Observer interface {
	ExecutionRecorded(rec domain.ExecutionRecord)
	ExecutionSkipped(protocol, reason string)
}

// Notification event types.
const (
	EventExecutionSuccess = "execution_success"
	EventExecutionFailed  = "execution_failed"
)

// Config configures an Executor.
type Config struct {
	// DryRun records simulated outcomes instead of submitting transactions.
	DryRun bool
	// LockTTL bounds how long a target stays locked across replicas.
	LockTTL time.Duration
	// DedupTTL suppresses repeats of the same target within the window.
	DedupTTL time.Duration
	// SubmitTimeout bounds one on-chain submission including the wait for
	// its receipt.
	SubmitTimeout time.Duration
}

// Executor drains the opportunity and liquidation channels and handles each
// item in its own goroutine.
type Executor struct {
	cfg       Config
	submitter Submitter
	tunables  *tunables.Tunables
	log       *execlog.Log
	dedup     *Dedup
	logger    *slog.Logger

	store     domain.ExecutionStore
	locks     domain.LockManager
	publisher Publisher
	notifier  Notifier
	observer  Observer

	cleanupInterval time.Duration
	now             func() time.Time
	wg              sync.WaitGroup
}

// NewExecutor creates an Executor that appends outcomes to log.
func NewExecutor(cfg Config, submitter Submitter, tu *tunables.Tunables, log *execlog.Log, logger *slog.Logger) *Executor {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 90 * time.Second
	}
	return &Executor{
		cfg:             cfg,
		submitter:       submitter,
		tunables:        tu,
		log:             log,
		dedup:           NewDedup(cfg.DedupTTL),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		now:             time.Now,
	}
}

// SetStore persists every record in addition to the in-memory log.
func (e *Executor) SetStore(s domain.ExecutionStore) { e.store = s }

// SetLocks enables per-target exclusivity across replicas.
func (e *Executor) SetLocks(l domain.LockManager) { e.locks = l }

// SetPublisher enables outcome broadcasts.
func (e *Executor) SetPublisher(p Publisher) { e.publisher = p }

// SetNotifier enables operator alerts.
func (e *Executor) SetNotifier(n Notifier) { e.notifier = n }

// SetObserver installs a statistics observer.
func (e *Executor) SetObserver(o Observer) { e.observer = o }

// DryRun reports whether transactions are simulated.
func (e *Executor) DryRun() bool { return e.cfg.DryRun }

// Run consumes both channels until ctx is cancelled or both are closed.
// Either channel may be nil. In-flight work is awaited before returning.
func (e *Executor) Run(ctx context.Context, opps <-chan domain.Opportunity, liqs <-chan domain.LiquidationEvent) error {
	e.logger.Info("executor started", slog.Bool("dry_run", e.cfg.DryRun))
	defer e.logger.Info("executor stopped")
	defer e.wg.Wait()

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for opps != nil || liqs != nil {
		select {
		case <-ctx.Done():
			e.drain(opps, liqs)
			return ctx.Err()

		case opp, ok := <-opps:
			if !ok {
				opps = nil
				continue
			}
			e.dispatch(ctx, opp)

		case ev, ok := <-liqs:
			if !ok {
				liqs = nil
				continue
			}
			e.dispatch(ctx, domain.Opportunity{Liquidation: &ev})

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, opp domain.Opportunity) {
	if opp.Arbitrage == nil && opp.Liquidation == nil {
		return
	}
	if e.dedup.IsDuplicate(opp.Key()) {
		e.logger.DebugContext(ctx, "opportunity deduplicated", slog.String("key", opp.Key()))
		e.skipped(protocolOf(opp), "duplicate")
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Process(ctx, opp)
	}()
}

// Process runs one opportunity through the gate, the lock and submission.
// It returns the appended record, or false when the opportunity was skipped.
// Skipped targets are released from dedup so the next scan can bring them
// back.
func (e *Executor) Process(ctx context.Context, opp domain.Opportunity) (domain.ExecutionRecord, bool) {
	protocol := protocolOf(opp)
	log := e.logger.With(
		slog.String("kind", string(opp.Kind())),
		slog.String("protocol", protocol),
		slog.String("key", opp.Key()),
	)

	estimate := EstimateProfit(opp)
	weighted := estimate * e.tunables.Weight(protocol)
	if threshold := e.tunables.MinProfitThreshold(); weighted < threshold {
		log.DebugContext(ctx, "below profit threshold",
			slog.Float64("estimate", estimate),
			slog.Float64("weighted", weighted),
			slog.Float64("threshold", threshold),
		)
		e.skipped(protocol, "threshold")
		e.dedup.Forget(opp.Key())
		return domain.ExecutionRecord{}, false
	}

	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "exec:"+opp.Key(), e.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				log.InfoContext(ctx, "target locked by another executor")
				e.skipped(protocol, "locked")
				e.dedup.Forget(opp.Key())
				return domain.ExecutionRecord{}, false
			}
			log.WarnContext(ctx, "lock unavailable, continuing", slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}

	rec := e.newRecord(opp, protocol)
	if e.cfg.DryRun {
		rec.DryRun = true
		rec.Success = true
		rec.Profit = estimate
		log.InfoContext(ctx, "dry run: simulated execution", slog.Float64("estimated_profit", estimate))
	} else {
		e.submit(ctx, opp, &rec, estimate, log)
	}

	e.record(ctx, opp, rec)
	return rec, true
}

func (e *Executor) submit(ctx context.Context, opp domain.Opportunity, rec *domain.ExecutionRecord, estimate float64, log *slog.Logger) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	var (
		rcpt Receipt
		err  error
	)
	if opp.Liquidation != nil {
		rcpt, err = e.submitter.ExecuteLiquidation(sctx, *opp.Liquidation)
	} else {
		rcpt, err = e.submitter.ExecuteArbitrage(sctx, *opp.Arbitrage)
	}

	if rcpt.TxHash != "" {
		rec.TxHash = &rcpt.TxHash
	}
	if rcpt.GasUsed > 0 {
		gas := rcpt.GasUsed
		rec.GasUsed = &gas
	}
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
		log.ErrorContext(ctx, "execution failed",
			slog.String("tx_hash", rcpt.TxHash),
			slog.String("error", msg),
		)
		return
	}
	rec.Success = true
	rec.Profit = estimate
	log.InfoContext(ctx, "execution succeeded",
		slog.String("tx_hash", rcpt.TxHash),
		slog.Uint64("gas_used", rcpt.GasUsed),
	)
}

func (e *Executor) newRecord(opp domain.Opportunity, protocol string) domain.ExecutionRecord {
	rec := domain.ExecutionRecord{
		ID:        uuid.New().String(),
		Timestamp: e.now().UTC(),
		Kind:      opp.Kind(),
		Protocol:  protocol,
	}
	if l := opp.Liquidation; l != nil {
		rec.Account = l.Account
		rec.Debt = l.DebtUSD
		rec.Collateral = l.CollateralUSD
	} else {
		a := opp.Arbitrage
		rec.Account = fmt.Sprintf("%s %s->%s", a.Asset, a.BuyDex, a.SellDex)
		rec.Debt = notional(*a)
	}
	return rec
}

// record appends rec to the log and fans it out to the optional sinks.
// Sink failures are logged and never undo the append.
func (e *Executor) record(ctx context.Context, opp domain.Opportunity, rec domain.ExecutionRecord) {
	e.log.Append(rec)
	if e.observer != nil {
		e.observer.ExecutionRecorded(rec)
	}

	// Sinks run on a detached context so shutdown does not lose the record.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if e.store != nil {
		if err := e.store.Create(sctx, rec); err != nil {
			e.logger.WarnContext(ctx, "persist execution failed",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publish(sctx, opp, rec)
	e.notify(sctx, rec)
}

func (e *Executor) publish(ctx context.Context, opp domain.Opportunity, rec domain.ExecutionRecord) {
	if e.publisher == nil {
		return
	}
	channel := domain.ChannelExecution
	var v any = rec
	if opp.Liquidation != nil {
		channel = domain.ChannelLiquidation
		v = domain.NewLiquidationNotice(rec.Account, statusOf(rec), summary(rec))
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := e.publisher.Publish(ctx, channel, payload); err != nil {
		e.logger.DebugContext(ctx, "publish execution failed", slog.String("error", err.Error()))
	}
}

func (e *Executor) notify(ctx context.Context, rec domain.ExecutionRecord) {
	if e.notifier == nil {
		return
	}
	event, title := EventExecutionSuccess, "Execution succeeded"
	if !rec.Success {
		event, title = EventExecutionFailed, "Execution failed"
	}
	if rec.DryRun {
		title += " (dry run)"
	}
	if err := e.notifier.Notify(ctx, event, title, summary(rec)); err != nil {
		e.logger.DebugContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (e *Executor) skipped(protocol, reason string) {
	if e.observer != nil {
		e.observer.ExecutionSkipped(protocol, reason)
	}
}

// drain handles whatever is already buffered after cancellation on a short
// detached deadline so detected work is not silently dropped.
func (e *Executor) drain(opps <-chan domain.Opportunity, liqs <-chan domain.LiquidationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case opp, ok := <-opps:
			if !ok {
				opps = nil
				continue
			}
			e.logger.Warn("draining opportunity after shutdown", slog.String("key", opp.Key()))
			e.dispatch(ctx, opp)
		case ev, ok := <-liqs:
			if !ok {
				liqs = nil
				continue
			}
			e.logger.Warn("draining liquidation after shutdown", slog.String("account", ev.Account))
			e.dispatch(ctx, domain.Opportunity{Liquidation: &ev})
		default:
			return
		}
	}
}

func protocolOf(opp domain.Opportunity) string {
	if opp.Liquidation != nil {
		return opp.Liquidation.Protocol
	}
	if opp.Arbitrage != nil {
		return domain.ArbitrageProtocol(opp.Arbitrage.Chain)
	}
	return ""
}

func statusOf(rec domain.ExecutionRecord) string {
	switch {
	case rec.DryRun:
		return domain.StatusDryRun
	case rec.Success:
		return domain.StatusSuccess
	default:
		return domain.StatusFailed
	}
}

func summary(rec domain.ExecutionRecord) string {
	s := fmt.Sprintf("%s %s debt=%.2f collateral=%.2f profit=%.2f",
		rec.Protocol, rec.Account, rec.Debt, rec.Collateral, rec.Profit)
	if rec.TxHash != nil {
		s += " tx=" + *rec.TxHash
	}
	if rec.Error != nil {
		s += " error=" + *rec.Error
	}
	return s
}

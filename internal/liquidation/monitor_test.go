package liquidation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm/evmtest"
	"github.com/alanyoungcy/fusionbot/internal/rpcpool"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func poolFor(t *testing.T, caller *evmtest.Caller) *rpcpool.Pool {
	t.Helper()
	srv := evmtest.NewServer(caller, 1)
	t.Cleanup(srv.Close)
	rot, err := rpcpool.NewRotation([]rpcpool.Entry{{Name: "local", URL: srv.URL, Quota: rpcpool.Quota{PerMinute: 10000}}})
	require.NoError(t, err)
	p := rpcpool.NewPool(rpcpool.PoolConfig{Chain: "ETH"}, rot, discard())
	t.Cleanup(p.Close)
	return p
}

type memBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = make(map[string][][]byte)
	}
	b.msgs[channel] = append(b.msgs[channel], payload)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	scanned  int
	detected int
}

func (o *countingObserver) AccountsScanned(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scanned += n
}

func (o *countingObserver) LiquidationDetected(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detected++
}

// gaugedBackend records the peak number of concurrent calls.
type gaugedBackend struct {
	Backend
	inflight atomic.Int64
	peak     atomic.Int64
}

func (g *gaugedBackend) Do(ctx context.Context, fn func(*ethclient.Client) error) error {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return g.Backend.Do(ctx, fn)
}

type countingSource struct {
	AccountSource
	calls atomic.Int64
}

func (c *countingSource) Accounts(ctx context.Context) ([]common.Address, error) {
	c.calls.Add(1)
	return c.AccountSource.Accounts(ctx)
}

func TestMonitorScan_SendsOnlyLiquidatableAccounts(t *testing.T) {
	events := make(chan domain.LiquidationEvent, 10)
	bus := &memBus{}
	obs := &countingObserver{}

	m := NewMonitor(
		NewAave("aave", "ETH", aavePoolAddr),
		StaticSource{underwater, healthy, broken},
		poolFor(t, aaveFixture()),
		tunables.New(0, time.Second),
		events,
		MonitorConfig{Concurrency: 2},
		discard(),
	)
	m.SetPublisher(bus)
	m.SetObserver(obs)

	sent, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, underwater.Hex(), ev.Account)

	assert.Equal(t, 3, obs.scanned)
	assert.Equal(t, 1, obs.detected)

	require.Len(t, bus.msgs[domain.ChannelLiquidation], 1)
	var notice domain.LiquidationNotice
	require.NoError(t, json.Unmarshal(bus.msgs[domain.ChannelLiquidation][0], &notice))
	assert.Equal(t, underwater.Hex(), notice.Account)
	assert.Equal(t, domain.StatusDetected, notice.Status)
}

func TestMonitorScan_ManyAccountsBounded(t *testing.T) {
	accounts := make(StaticSource, 50)
	for i := range accounts {
		accounts[i] = common.BigToAddress(common.Big1)
	}
	accounts[7] = underwater

	events := make(chan domain.LiquidationEvent, 50)
	backend := &gaugedBackend{Backend: poolFor(t, aaveFixture())}
	m := NewMonitor(NewAave("aave", "ETH", aavePoolAddr), accounts, backend,
		tunables.New(0, time.Second), events, MonitorConfig{Concurrency: 4}, discard())

	sent, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.LessOrEqual(t, backend.peak.Load(), int64(4))
	assert.GreaterOrEqual(t, backend.peak.Load(), int64(2))
	assert.Zero(t, backend.inflight.Load())
}

func TestMonitorRun_StopsOnCancel(t *testing.T) {
	tu := tunables.New(0, time.Hour)
	tu.SetInterval("aave", 5*time.Millisecond)

	events := make(chan domain.LiquidationEvent, 100)
	m := NewMonitor(NewAave("aave", "ETH", aavePoolAddr), StaticSource{underwater}, poolFor(t, aaveFixture()),
		tu, events, MonitorConfig{}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return len(events) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitorRun_ReadsIntervalEachCycle(t *testing.T) {
	tu := tunables.New(0, time.Hour)
	tu.SetInterval("aave", 5*time.Millisecond)
	source := &countingSource{AccountSource: StaticSource{healthy}}

	m := NewMonitor(NewAave("aave", "ETH", aavePoolAddr), source, poolFor(t, aaveFixture()),
		tu, make(chan domain.LiquidationEvent, 1), MonitorConfig{}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return source.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)

	tu.Apply(tunables.Update{ScanIntervals: map[string]time.Duration{"aave": time.Hour}})
	// let the cycle already in flight finish and pick up the new wait
	time.Sleep(50 * time.Millisecond)
	settled := source.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, source.calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMultiSource_Dedupes(t *testing.T) {
	got, err := MultiSource{StaticSource{underwater, healthy}, StaticSource{healthy, broken}}.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{underwater, healthy, broken}, got)
}

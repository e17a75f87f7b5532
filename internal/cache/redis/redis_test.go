package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

func newClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPriceCache_RoundTripAndExpiry(t *testing.T) {
	c, mr := newClient(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()
	ts := time.Unix(1700000000, 42)

	require.NoError(t, pc.SetPrice(ctx, "ETH:uniswap:WETH", 3012.5, ts))
	price, got, err := pc.GetPrice(ctx, "ETH:uniswap:WETH")
	require.NoError(t, err)
	assert.Equal(t, 3012.5, price)
	assert.True(t, ts.Equal(got))
	assert.True(t, mr.Exists("test:price:ETH:uniswap:WETH"))

	prices, err := pc.GetPrices(ctx, []string{"ETH:uniswap:WETH", "ETH:sushiswap:WETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH:uniswap:WETH": 3012.5}, prices)

	mr.FastForward(2 * time.Minute)
	_, _, err = pc.GetPrice(ctx, "ETH:uniswap:WETH")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	c, _ := newClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "rpc:ETH:infura", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "rpc:ETH:infura", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Separate keys have separate budgets.
	ok, err = rl.Allow(ctx, "rpc:ETH:alchemy", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "rpc:ETH:infura", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	c, _ := newClient(t)
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx, "k"), context.DeadlineExceeded)
}

func TestLockManager(t *testing.T) {
	c, _ := newClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "venus:0xabc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "venus:0xabc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "venus:0xabc", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	c, _ := newClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "ch:*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelDex, []byte(`{"dex":"uniswap"}`)))
	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"dex":"uniswap"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestOptions_URLAndOverrides(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "rediss://:s3cret@cache:6380/2", PoolSize: 20, Password: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "s3cret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.NotNil(t, opts.TLSConfig)
	assert.Equal(t, clientName, opts.ClientName)

	opts, err = options(ClientConfig{Addr: "localhost:6379", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
	assert.Nil(t, opts.TLSConfig)
}

package rpcpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rpcServer answers eth_chainId with 0x38.
func rpcServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0x38"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func brokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingObserver struct {
	selected, failed []string
	exhausted        int
}

func (o *recordingObserver) ProviderSelected(_, name string) { o.selected = append(o.selected, name) }
func (o *recordingObserver) ProviderExhausted(string)        { o.exhausted++ }
func (o *recordingObserver) ProviderFailed(_, name string)   { o.failed = append(o.failed, name) }

func TestPoolDo_TransportFailureCoolsDownProvider(t *testing.T) {
	bad, good := brokenServer(t), rpcServer(t)
	rot, err := NewRotation([]Entry{
		{Name: "bad", URL: bad.URL, Quota: Quota{PerMinute: 100}},
		{Name: "good", URL: good.URL, Quota: Quota{PerMinute: 100}},
	})
	require.NoError(t, err)
	obs := &recordingObserver{}
	p := NewPool(PoolConfig{Chain: "BSC", Backoff: time.Hour}, rot, discard(), WithObserver(obs))
	defer p.Close()

	ctx := context.Background()
	err = p.Do(ctx, func(c *ethclient.Client) error {
		_, err := c.ChainID(ctx)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, []string{"bad"}, obs.failed)

	for i := 0; i < 3; i++ {
		err = p.Do(ctx, func(c *ethclient.Client) error {
			id, err := c.ChainID(ctx)
			if err == nil {
				assert.Equal(t, int64(56), id.Int64())
			}
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"bad", "good", "good", "good"}, obs.selected)
}

func TestPoolDo_NodeErrorDoesNotCoolDown(t *testing.T) {
	good := rpcServer(t)
	rot, err := NewRotation([]Entry{{Name: "good", URL: good.URL, Quota: Quota{PerMinute: 100}}})
	require.NoError(t, err)
	p := NewPool(PoolConfig{Chain: "ETH"}, rot, discard())
	defer p.Close()

	err = p.Do(context.Background(), func(*ethclient.Client) error { return errors.New("execution reverted") })
	require.Error(t, err)

	_, name, err := p.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", name)
}

func TestPoolDo_CallerDeadlineDoesNotCoolDown(t *testing.T) {
	good := rpcServer(t)
	rot, err := NewRotation([]Entry{{Name: "only", URL: good.URL, Quota: Quota{PerMinute: 100}}})
	require.NoError(t, err)
	obs := &recordingObserver{}
	p := NewPool(PoolConfig{Chain: "BSC", Backoff: time.Hour}, rot, discard(), WithObserver(obs))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Do(ctx, func(*ethclient.Client) error {
		<-ctx.Done()
		return fmt.Errorf("wait mined: %w", ctx.Err())
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, obs.failed)

	_, name, err := p.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "only", name)
}

func TestPoolClient_ExhaustedReturnsErrNoProvider(t *testing.T) {
	good := rpcServer(t)
	rot, err := NewRotation([]Entry{{Name: "only", URL: good.URL, Quota: Quota{PerMinute: 1}}})
	require.NoError(t, err)
	obs := &recordingObserver{}
	p := NewPool(PoolConfig{Chain: "ETH"}, rot, discard(), WithObserver(obs))
	defer p.Close()

	_, _, err = p.Client(context.Background())
	require.NoError(t, err)
	_, _, err = p.Client(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoProvider)
	assert.Equal(t, 1, obs.exhausted)
}

type denyGuard struct{ deny string }

func (g denyGuard) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	return key != g.deny, nil
}

func (denyGuard) Wait(context.Context, string) error { return nil }

func TestPoolClient_GuardSkipsProvider(t *testing.T) {
	srv := rpcServer(t)
	rot, err := NewRotation([]Entry{
		{Name: "a", URL: srv.URL + "/a", Quota: Quota{PerMinute: 10}},
		{Name: "b", URL: srv.URL + "/b", Quota: Quota{PerMinute: 10}},
	})
	require.NoError(t, err)
	p := NewPool(PoolConfig{Chain: "ETH"}, rot, discard(), WithGuard(denyGuard{deny: "rpc:ETH:a"}))
	defer p.Close()

	for i := 0; i < 3; i++ {
		_, name, err := p.Client(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "b", name)
	}
}

func TestIsTransportError(t *testing.T) {
	assert.False(t, IsTransportError(nil))
	assert.False(t, IsTransportError(context.Canceled))
	assert.False(t, IsTransportError(errors.New("execution reverted")))
	assert.True(t, IsTransportError(context.DeadlineExceeded))
}

func TestPools_Get(t *testing.T) {
	_, err := Pools{}.Get("ETH")
	assert.ErrorIs(t, err, domain.ErrNoProvider)
}

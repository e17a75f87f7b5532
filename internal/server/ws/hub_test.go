package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// memBus hands each Subscribe its own channel and closes them all when the
// subscriber's context ends.
type memBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newMemBus() *memBus { return &memBus{subs: make(map[string]chan []byte)} }

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[channel] = ch
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, channel)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *memBus) subscribed(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) == n
}

func startHub(t *testing.T, cfg Config) (*Hub, *memBus, *httptest.Server, context.CancelFunc) {
	t.Helper()
	bus := newMemBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return bus.subscribed(len(hub.channels)) }, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, bus, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHub_StatusThenRelayedEvent(t *testing.T) {
	hub, bus, srv, _ := startHub(t, Config{Mode: "Full", DryRun: true})
	conn := dial(t, srv, nil)

	status := readJSON(t, conn)
	assert.Equal(t, "bot_status", status["type"])
	payload := status["payload"].(map[string]any)
	assert.Equal(t, "full", payload["mode"])
	assert.Equal(t, true, payload["dry_run"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelOpportunity, []byte(`{"chain":"ETH"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, domain.ChannelOpportunity, env.Channel)
	assert.JSONEq(t, `{"chain":"ETH"}`, string(env.Payload))
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub, bus, srv, _ := startHub(t, Config{Channels: []string{domain.ChannelDex, domain.ChannelExecution}})
	conn := dial(t, srv, nil)
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(control{Action: "unsubscribe", Channels: []string{domain.ChannelDex}}))
	var c *client
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for cl := range hub.clients {
			c = cl
		}
		return c != nil && !c.wants(domain.ChannelDex)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelDex, []byte(`{"dex":"uniswap"}`)))
	require.NoError(t, bus.Publish(context.Background(), domain.ChannelExecution, []byte(`{"ok":true}`)))

	msg := readJSON(t, conn)
	assert.Equal(t, domain.ChannelExecution, msg["channel"])
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, _, srv, _ := startHub(t, Config{Origins: []string{"http://localhost:3000"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := dial(t, srv, http.Header{"Origin": {"http://localhost:3000"}})
	assert.Equal(t, "bot_status", readJSON(t, conn)["type"])
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, _, srv, cancel := startHub(t, Config{})
	conn := dial(t, srv, nil)
	readJSON(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, hub.ClientCount())
}

func TestWrap_RejectsNonJSON(t *testing.T) {
	_, err := wrap(domain.ChannelDex, []byte("not json"))
	assert.ErrorIs(t, err, errInvalidPayload)

	frame, err := wrap(domain.ChannelDex, []byte(`{"a":1}`))
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, domain.ChannelDex, env.Channel)
}

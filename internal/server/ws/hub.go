// Package ws fans signal-bus events out to dashboard WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// pingPeriod must stay below pongWait.
	pingPeriod = pongWait * 9 / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// DefaultChannels are the signal-bus channels the hub relays.
var DefaultChannels = []string{
	domain.ChannelDex,
	domain.ChannelLiquidation,
	domain.ChannelOpportunity,
	domain.ChannelExecution,
}

// Envelope wraps every relayed event so clients can route by channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// control is what a client sends to change its channel set, e.g.
// {"action":"unsubscribe","channels":["ch:dex"]}.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Config captures the runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	DryRun    bool
	StartedAt time.Time
	// Channels overrides DefaultChannels.
	Channels []string
	// Origins restricts browser clients. Empty or "*" accepts any origin.
	Origins []string
}

// Hub relays bus events to the WebSocket clients subscribed to each
// channel. Slow clients lose events rather than stall the relay.
type Hub struct {
	bus       domain.SignalBus
	channels  []string
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	mode      string
	dryRun    bool
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	h := &Hub{
		bus:       bus,
		channels:  cfg.Channels,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      strings.ToLower(strings.TrimSpace(cfg.Mode)),
		dryRun:    cfg.DryRun,
		startedAt: cfg.StartedAt,
		clients:   make(map[*client]struct{}),
	}
	if len(h.channels) == 0 {
		h.channels = DefaultChannels
	}
	if h.mode == "" {
		h.mode = "unknown"
	}
	if h.startedAt.IsZero() {
		h.startedAt = time.Now().UTC()
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Origins),
	}
	return h
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(allowed) == 0 || allowed[strings.ToLower(origin)]
	}
}

// Run relays every configured channel until ctx is cancelled, then
// disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range h.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.relay(ctx, ch)
		}()
	}
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	wg.Wait()
	h.logger.Info("ws: hub stopped")
	return ctx.Err()
}

func (h *Hub) relay(ctx context.Context, channel string) {
	events, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying channel", slog.String("channel", channel))

	for payload := range events {
		frame, err := wrap(channel, payload)
		if err != nil {
			h.logger.Warn("ws: dropping payload",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.fanOut(channel, frame)
	}
}

// fanOut holds the read lock while sending so Run and remove cannot close
// a send channel underneath it.
func (h *Hub) fanOut(channel string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: client too slow, event dropped", slog.String("channel", channel))
		}
	}
}

var errInvalidPayload = errors.New("payload is not valid JSON")

func wrap(channel string, payload []byte) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, errInvalidPayload
	}
	return json.Marshal(Envelope{Channel: channel, Payload: payload})
}

// HandleWS upgrades the request and registers a client subscribed to every
// relayed channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.channels)),
	}
	for _, ch := range h.channels {
		c.subs[ch] = true
	}
	c.send <- h.statusFrame()

	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("total_clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", len(h.clients)))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// statusFrame lets clients mark the connection healthy before any event
// arrives.
func (h *Hub) statusFrame() []byte {
	frame, _ := json.Marshal(map[string]any{
		"type": "bot_status",
		"payload": map[string]any{
			"mode":           h.mode,
			"dry_run":        h.dryRun,
			"ws_connected":   true,
			"uptime_seconds": max(int64(time.Since(h.startedAt).Seconds()), 0),
			"channels":       h.channels,
		},
	})
	return frame
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// wants reports whether the client follows channel. A subscription ending
// in "*" matches by prefix.
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

// writeLoop owns all writes to the connection. It exits when send is
// closed or a write fails.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]string
}

func (c *captured) server(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTelegramSender(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusOK)
	s := NewTelegramSender("T0KEN", "42")
	s.apiBase = srv.URL

	require.NoError(t, s.Send(context.Background(), "Execution succeeded", "venus 0xabc"))
	assert.Equal(t, []string{"/botT0KEN/sendMessage"}, c.paths)
	assert.Equal(t, "42", c.bodies[0]["chat_id"])
	assert.Equal(t, "*Execution succeeded*\nvenus 0xabc", c.bodies[0]["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusBadRequest)

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	assert.ErrorContains(t, err, "unexpected status 400")
}

func TestNotifier_FiltersEvents(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusNoContent)
	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, []string{"execution_failed"}, discard())

	require.NoError(t, n.Notify(context.Background(), "execution_success", "ok", "m"))
	require.NoError(t, n.Notify(context.Background(), "execution_failed", "failed", "m"))
	require.NoError(t, n.NotifyAll(context.Background(), "started", "m"))

	require.Len(t, c.bodies, 2)
	assert.Equal(t, "**failed**\nm", c.bodies[0]["content"])
	assert.Equal(t, "**started**\nm", c.bodies[1]["content"])
}

func TestNotifier_OneSenderFailingDoesNotStopOthers(t *testing.T) {
	var good, bad captured
	goodSrv := good.server(t, http.StatusNoContent)
	badSrv := bad.server(t, http.StatusInternalServerError)
	n := NewNotifier([]Sender{NewDiscordSender(badSrv.URL), NewDiscordSender(goodSrv.URL)}, nil, discard())

	err := n.Notify(context.Background(), "anything", "t", "m")
	assert.ErrorContains(t, err, "1 sender(s) failed")
	assert.Len(t, good.bodies, 1)
}

func TestDiscordSender_TruncatesLongMessages(t *testing.T) {
	var c captured
	srv := c.server(t, http.StatusNoContent)

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "big", string(long)))
	require.Len(t, c.bodies, 1)
	assert.Equal(t, discordContentLimit, utf8.RuneCountInString(c.bodies[0]["content"]))
	assert.Equal(t, "fusionbot", c.bodies[0]["username"])
}

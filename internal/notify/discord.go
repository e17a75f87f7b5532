package notify

import (
	"context"
	"net/http"
	"unicode/utf8"
)

// discordContentLimit is the webhook's maximum message length in characters.
const discordContentLimit = 2000

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "fusionbot",
		client:     defaultHTTPClient,
	}
}

// Send posts "**title**\nmessage", cut to the webhook limit. Discord answers
// 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"username": d.username,
		"content":  truncate("**"+title+"**\n"+message, discordContentLimit),
	})
}

func (d *DiscordSender) Name() string { return "discord" }

// truncate cuts s to at most limit runes, marking the cut with "…".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}

package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

const defaultBusBuffer = 128

// SignalBus implements domain.SignalBus on Redis Pub/Sub. Channel names are
// not prefixed so dashboards can subscribe with the documented names.
type SignalBus struct {
	rdb    *redis.Client
	buffer int
}

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb, buffer: defaultBusBuffer}
}

// Publish fires payload at channel. Delivery is at-most-once; nobody
// listening is not an error.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams payloads from channel, or from every matching channel
// when it contains glob characters ("ch:*"). The returned channel closes
// once ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.open(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, b.buffer)
	go pump(ctx, sub, out, b.buffer)
	return out, nil
}

func (b *SignalBus) open(ctx context.Context, channel string) *redis.PubSub {
	if strings.ContainsAny(channel, "*?[") {
		return b.rdb.PSubscribe(ctx, channel)
	}
	return b.rdb.Subscribe(ctx, channel)
}

// pump copies messages from sub to out until ctx ends or the subscription
// is torn down, then closes both.
func pump(ctx context.Context, sub *redis.PubSub, out chan<- []byte, size int) {
	defer close(out)
	defer sub.Close()

	in := sub.Channel(redis.WithChannelSize(size))
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)

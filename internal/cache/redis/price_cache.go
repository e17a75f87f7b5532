package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// PriceCache mirrors matrix cells into Redis hashes at "price:{chain:dex:asset}"
// with fields "price" and "ts" (Unix nanoseconds). Entries expire after ttl
// so a stopped poller does not leave stale prices behind.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price and timestamp for a cell.
func (pc *PriceCache) SetPrice(ctx context.Context, key string, price float64, ts time.Time) error {
	k := pc.c.key("price", key)
	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			"price", strconv.FormatFloat(price, 'f', -1, 64),
			"ts", strconv.FormatInt(ts.UnixNano(), 10),
		)
		if pc.ttl > 0 {
			pipe.Expire(ctx, k, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

// GetPrice returns the cached price of a cell, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, key string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", key)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	price, ts, ok := parsePrice(vals)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, ts, nil
}

// GetPrices reads several cells in one pipeline. Missing or malformed cells
// are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, keys []string) (map[string]float64, error) {
	result := make(map[string]float64, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(keys))
	for _, k := range keys {
		cmds[k] = pipe.HGetAll(ctx, pc.c.key("price", k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	for k, cmd := range cmds {
		if price, _, ok := parsePrice(cmd.Val()); ok {
			result[k] = price
		}
	}
	return result, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool) {
	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return price, time.Unix(0, nanos), true
}

var _ domain.PriceCache = (*PriceCache)(nil)

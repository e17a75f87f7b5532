package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest matrix cells for readers outside the process.
type PriceCache interface {
	SetPrice(ctx context.Context, key string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, key string) (float64, time.Time, error)
	GetPrices(ctx context.Context, keys []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting. The provider pool uses it
// to share per-minute quotas between replicas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus fans dashboard events out across processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

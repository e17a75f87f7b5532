package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/fusionbot/internal/blob/s3"
	"github.com/alanyoungcy/fusionbot/internal/cache/redis"
	"github.com/alanyoungcy/fusionbot/internal/config"
	"github.com/alanyoungcy/fusionbot/internal/crypto"
	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/metrics"
	"github.com/alanyoungcy/fusionbot/internal/notify"
	"github.com/alanyoungcy/fusionbot/internal/rpcpool"
	"github.com/alanyoungcy/fusionbot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Caches
	Redis       *redis.Client
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Persistence; nil when postgres is disabled.
	Postgres       *postgres.Client
	ExecutionStore *postgres.ExecutionStore

	// Blob storage; nil when s3 is disabled.
	Blob     *s3blob.Client
	Archiver domain.Archiver

	// RPC provider pools keyed by chain id.
	Pools rpcpool.Pools

	// Signer is nil when no wallet key is configured.
	Signer *crypto.Signer

	Notifier *notify.Notifier
	Metrics  *metrics.Recorder
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		TLSEnabled:  cfg.Redis.TLSEnabled,
		KeyPrefix:   cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: 10 * time.Second,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Postgres = pgClient
		deps.ExecutionStore = postgres.NewExecutionStore(pgClient.Pool())
	}

	// --- S3 (archives come out of postgres, so both must be on) ---
	if cfg.S3.Enabled && deps.ExecutionStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blob = s3Client
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.ExecutionStore, cfg.S3.Prune, logger)
	}

	// --- RPC provider pools ---
	deps.Pools = make(rpcpool.Pools)
	closers = append(closers, deps.Pools.Close)
	for _, id := range cfg.EnabledChains() {
		pool, err := buildPool(id, cfg.Chains[id], deps, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain %s: %w", id, err)
		}
		deps.Pools[id] = pool
	}

	// --- Wallet ---
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Signer = signer
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildPool expands a chain's provider keys and raw URLs into a rotation
// guarded by the shared Redis quota.
func buildPool(id string, ch config.ChainConfig, deps *Dependencies, logger *slog.Logger) (*rpcpool.Pool, error) {
	quota := rpcpool.Quota{
		PerMinute: ch.Quota.PerMinute,
		PerHour:   ch.Quota.PerHour,
		PerDay:    ch.Quota.PerDay,
	}
	raw := make([]rpcpool.Entry, 0, len(ch.RPC))
	for i, ep := range ch.RPC {
		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("%s-rpc-%d", id, i)
		}
		raw = append(raw, rpcpool.Entry{
			Name: name,
			URL:  ep.URL,
			Quota: rpcpool.Quota{
				PerMinute: ep.Quota.PerMinute,
				PerHour:   ep.Quota.PerHour,
				PerDay:    ep.Quota.PerDay,
			},
		})
	}

	entries, err := rpcpool.BuildEntries(id, ch.ProviderKeys, raw, quota)
	if err != nil {
		return nil, err
	}
	rotation, err := rpcpool.NewRotation(entries, rpcpool.WithMinuteWindow(ch.QuotaWindow.Duration))
	if err != nil {
		return nil, err
	}
	return rpcpool.NewPool(
		rpcpool.PoolConfig{Chain: id, Backoff: ch.Cooldown.Duration, Window: ch.QuotaWindow.Duration},
		rotation,
		logger,
		rpcpool.WithGuard(deps.RateLimiter),
		rpcpool.WithObserver(deps.Metrics),
	), nil
}

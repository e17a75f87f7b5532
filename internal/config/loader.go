package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. An empty path skips the file. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads the unprefixed legacy variables first and then the
// FUSION_* variables, so a FUSION_* value wins when both are set.
func applyEnvOverrides(cfg *Config) {
	applyLegacyEnv(cfg)

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FUSION_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FUSION_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FUSION_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.ProfitWallet, "FUSION_WALLET_PROFIT_WALLET")
	setStr(&cfg.Wallet.ReserveWei, "FUSION_WALLET_RESERVE_WEI")
	setStr(&cfg.Wallet.SweepChain, "FUSION_WALLET_SWEEP_CHAIN")

	// ── Chains ──
	for _, id := range chainIDs(cfg) {
		ch := cfg.Chains[id]
		prefix := "FUSION_CHAINS_" + strings.ToUpper(id) + "_"
		setBool(&ch.Enabled, prefix+"ENABLED")
		setInt64(&ch.ChainID, prefix+"CHAIN_ID")
		for _, brand := range []string{"infura", "alchemy", "nodereal"} {
			setMapStr(&ch.ProviderKeys, brand, prefix+strings.ToUpper(brand)+"_API_KEY")
		}
		setInt(&ch.Quota.PerMinute, prefix+"QUOTA_PER_MINUTE")
		setInt(&ch.Quota.PerHour, prefix+"QUOTA_PER_HOUR")
		setInt(&ch.Quota.PerDay, prefix+"QUOTA_PER_DAY")
		setDuration(&ch.Cooldown, prefix+"COOLDOWN")
		setDuration(&ch.PollInterval, prefix+"POLL_INTERVAL")
		setDuration(&ch.ScanInterval, prefix+"SCAN_INTERVAL")
		setStringSlice(&ch.FlashloanProviders, prefix+"FLASHLOAN_PROVIDERS")
		setStr(&ch.ExecutorContract, prefix+"EXECUTOR_CONTRACT")
		cfg.Chains[id] = ch
	}

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "FUSION_ARBITRAGE_ENABLED")
	setFloat64(&cfg.Arbitrage.ThresholdPct, "FUSION_ARBITRAGE_THRESHOLD_PCT")
	setFloat64(&cfg.Arbitrage.Usage, "FUSION_ARBITRAGE_USAGE")
	setBool(&cfg.Arbitrage.Pairwise, "FUSION_ARBITRAGE_PAIRWISE")
	setDuration(&cfg.Arbitrage.LiquidityTimeout, "FUSION_ARBITRAGE_LIQUIDITY_TIMEOUT")

	// ── Liquidation ──
	setBool(&cfg.Liquidation.Enabled, "FUSION_LIQUIDATION_ENABLED")
	setInt(&cfg.Liquidation.Concurrency, "FUSION_LIQUIDATION_CONCURRENCY")
	setDuration(&cfg.Liquidation.CheckTimeout, "FUSION_LIQUIDATION_CHECK_TIMEOUT")
	setDuration(&cfg.Liquidation.BaseInterval, "FUSION_LIQUIDATION_BASE_INTERVAL")
	setInt(&cfg.Liquidation.PageSize, "FUSION_LIQUIDATION_PAGE_SIZE")
	for _, name := range protocolNames(cfg) {
		p := cfg.Liquidation.Protocols[name]
		prefix := "FUSION_LIQUIDATION_" + strings.ToUpper(name) + "_"
		setBool(&p.Enabled, prefix+"ENABLED")
		setStr(&p.Address, prefix+"ADDRESS")
		setStr(&p.Oracle, prefix+"ORACLE")
		setStr(&p.SubgraphURL, prefix+"SUBGRAPH_URL")
		setStr(&p.SubgraphAPIKey, prefix+"SUBGRAPH_API_KEY")
		setStringSlice(&p.Accounts, prefix+"ACCOUNTS")
		setDuration(&p.Interval, prefix+"INTERVAL")
		cfg.Liquidation.Protocols[name] = p
	}

	// ── Controller ──
	setBool(&cfg.Controller.Enabled, "FUSION_CONTROLLER_ENABLED")
	setDuration(&cfg.Controller.Period, "FUSION_CONTROLLER_PERIOD")
	setInt(&cfg.Controller.Window, "FUSION_CONTROLLER_WINDOW")
	setDuration(&cfg.Controller.BaseInterval, "FUSION_CONTROLLER_BASE_INTERVAL")
	setFloat64(&cfg.Controller.MinProfit, "FUSION_CONTROLLER_MIN_PROFIT")

	// ── Executor ──
	setBool(&cfg.Executor.DryRun, "FUSION_EXECUTOR_DRY_RUN")
	setUint64(&cfg.Executor.GasLimit, "FUSION_EXECUTOR_GAS_LIMIT")
	setDuration(&cfg.Executor.LockTTL, "FUSION_EXECUTOR_LOCK_TTL")
	setDuration(&cfg.Executor.DedupTTL, "FUSION_EXECUTOR_DEDUP_TTL")
	setDuration(&cfg.Executor.SubmitTimeout, "FUSION_EXECUTOR_SUBMIT_TIMEOUT")
	setInt(&cfg.Executor.QueueSize, "FUSION_EXECUTOR_QUEUE_SIZE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUSION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUSION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUSION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUSION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUSION_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "FUSION_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "FUSION_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "FUSION_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.PriceTTL, "FUSION_REDIS_PRICE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FUSION_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FUSION_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUSION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUSION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUSION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUSION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUSION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUSION_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUSION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUSION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUSION_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.Hydrate, "FUSION_POSTGRES_HYDRATE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUSION_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUSION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUSION_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUSION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUSION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUSION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUSION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUSION_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveRetention, "FUSION_S3_ARCHIVE_RETENTION")
	setDuration(&cfg.S3.ArchiveInterval, "FUSION_S3_ARCHIVE_INTERVAL")
	setBool(&cfg.S3.Prune, "FUSION_S3_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUSION_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUSION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUSION_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUSION_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FUSION_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUSION_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUSION_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUSION_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUSION_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUSION_MODE")
	setStr(&cfg.LogLevel, "FUSION_LOG_LEVEL")
}

// applyLegacyEnv honours the variable names of earlier deployments. The
// provider keys and flash-loan providers apply to every configured chain.
func applyLegacyEnv(cfg *Config) {
	setBool(&cfg.Executor.DryRun, "DRY_RUN")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.ProfitWallet, "PROFIT_WALLET")
	setFloat64(&cfg.Arbitrage.ThresholdPct, "MARGINAL_OPTIMIZER")
	setFloat64(&cfg.Arbitrage.Usage, "LIQUIDITY_USAGE_PERCENTAGE")

	for _, id := range chainIDs(cfg) {
		ch := cfg.Chains[id]
		setMapStr(&ch.ProviderKeys, "infura", "INFURA_API_KEY")
		setMapStr(&ch.ProviderKeys, "alchemy", "ALCHEMY_API_KEY")
		setMapStr(&ch.ProviderKeys, "nodereal", "NODEREAL_API_KEY")
		setStringSlice(&ch.FlashloanProviders, "FLASH_LOAN_PROVIDERS")
		cfg.Chains[id] = ch
	}
}

func chainIDs(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Chains))
	for id := range cfg.Chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func protocolNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Liquidation.Protocols))
	for n := range cfg.Liquidation.Protocols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setMapStr(dst *map[string]string, field, key string) {
	if v := os.Getenv(key); v != "" {
		if *dst == nil {
			*dst = make(map[string]string)
		}
		(*dst)[field] = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// Package config defines the top-level configuration for fusionbot and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUSION_* environment variables.
type Config struct {
	Wallet      WalletConfig           `toml:"wallet"`
	Chains      map[string]ChainConfig `toml:"chains"`
	Arbitrage   ArbitrageConfig        `toml:"arbitrage"`
	Liquidation LiquidationConfig      `toml:"liquidation"`
	Controller  ControllerConfig       `toml:"controller"`
	Executor    ExecutorConfig         `toml:"executor"`
	Redis       RedisConfig            `toml:"redis"`
	Postgres    PostgresConfig         `toml:"postgres"`
	S3          S3Config               `toml:"s3"`
	Server      ServerConfig           `toml:"server"`
	Notify      NotifyConfig           `toml:"notify"`
	Mode        string                 `toml:"mode"`
	LogLevel    string                 `toml:"log_level"`
}

// WalletConfig holds the bot wallet credentials and the profit sweep target.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ProfitWallet     string `toml:"profit_wallet"`
	// ReserveWei is left behind on every sweep, as a base-10 integer.
	ReserveWei string `toml:"reserve_wei"`
	// SweepChain is the chain the wallet endpoints use by default.
	SweepChain string `toml:"sweep_chain"`
}

// ChainConfig describes one chain: its RPC providers, the market priced on
// it and where flash loans come from.
type ChainConfig struct {
	Enabled bool  `toml:"enabled"`
	ChainID int64 `toml:"chain_id"`

	// ProviderKeys maps a hosted brand (infura, alchemy, nodereal) to its
	// API key.
	ProviderKeys map[string]string `toml:"provider_keys"`
	// RPC lists raw endpoints, used after the branded ones.
	RPC         []EndpointConfig `toml:"rpc"`
	Quota       QuotaConfig      `toml:"quota"`
	Cooldown    duration         `toml:"cooldown"`
	QuotaWindow duration         `toml:"quota_window"`

	PollInterval duration `toml:"poll_interval"`
	ScanInterval duration `toml:"scan_interval"`

	Quote  AssetConfig   `toml:"quote"`
	Assets []AssetConfig `toml:"assets"`
	Dexes  []DexConfig   `toml:"dexes"`

	// FlashloanProviders are "name:address" entries.
	FlashloanProviders []string `toml:"flashloan_providers"`
	// ExecutorContract is the deployed arbitrage/liquidation executor.
	ExecutorContract string `toml:"executor_contract"`
}

// EndpointConfig is a raw RPC URL.
type EndpointConfig struct {
	Name  string      `toml:"name"`
	URL   string      `toml:"url"`
	Quota QuotaConfig `toml:"quota"`
}

// QuotaConfig caps requests per window. Zero is unlimited.
type QuotaConfig struct {
	PerMinute int `toml:"per_minute"`
	PerHour   int `toml:"per_hour"`
	PerDay    int `toml:"per_day"`
}

// AssetConfig is one ERC-20 token.
type AssetConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals uint8  `toml:"decimals"`
}

// DexConfig is one UniswapV2-style router.
type DexConfig struct {
	Name   string `toml:"name"`
	Router string `toml:"router"`
}

// ArbitrageConfig holds the spread scan parameters.
type ArbitrageConfig struct {
	Enabled bool `toml:"enabled"`
	// ThresholdPct is the minimum spread in percent (marginal optimizer).
	ThresholdPct float64 `toml:"threshold_pct"`
	// Usage is the fraction of lender liquidity a loan may take.
	Usage            float64  `toml:"usage"`
	Pairwise         bool     `toml:"pairwise"`
	LiquidityTimeout duration `toml:"liquidity_timeout"`
}

// LiquidationConfig holds the liquidation scanner parameters.
type LiquidationConfig struct {
	Enabled      bool                      `toml:"enabled"`
	Concurrency  int                       `toml:"concurrency"`
	CheckTimeout duration                  `toml:"check_timeout"`
	BaseInterval duration                  `toml:"base_interval"`
	PageSize     int                       `toml:"page_size"`
	Protocols    map[string]ProtocolConfig `toml:"protocols"`
}

// Protocol kinds.
const (
	KindComptroller = "comptroller"
	KindAave        = "aave"
)

// ProtocolConfig describes one lending market to watch.
type ProtocolConfig struct {
	Enabled bool   `toml:"enabled"`
	Kind    string `toml:"kind"`
	Chain   string `toml:"chain"`
	// Address is the comptroller or the Aave pool.
	Address string `toml:"address"`
	// Oracle overrides the comptroller's own oracle. Comptroller kind only.
	Oracle string `toml:"oracle"`

	SubgraphURL    string   `toml:"subgraph_url"`
	SubgraphAPIKey string   `toml:"subgraph_api_key"`
	Entity         string   `toml:"entity"`
	Where          string   `toml:"where"`
	Accounts       []string `toml:"accounts"`
	Interval       duration `toml:"interval"`
}

// ControllerConfig holds the adaptive controller parameters.
type ControllerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Period       duration `toml:"period"`
	Window       int      `toml:"window"`
	BaseInterval duration `toml:"base_interval"`
	// MinProfit seeds the profit threshold before the first adjustment.
	MinProfit float64 `toml:"min_profit"`
}

// ExecutorConfig holds the execution pipeline parameters.
type ExecutorConfig struct {
	DryRun        bool     `toml:"dry_run"`
	GasLimit      uint64   `toml:"gas_limit"`
	LockTTL       duration `toml:"lock_ttl"`
	DedupTTL      duration `toml:"dedup_ttl"`
	SubmitTimeout duration `toml:"submit_timeout"`
	QueueSize     int      `toml:"queue_size"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	PriceTTL    duration `toml:"price_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// Hydrate is how many recent records seed the execution log at startup.
	Hydrate int `toml:"hydrate"`
}

// S3Config holds S3-compatible object storage parameters and the archive
// schedule.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveRetention duration `toml:"archive_retention"`
	ArchiveInterval  duration `toml:"archive_interval"`
	Prune            bool     `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values: BSC
// and Ethereum mainnet markets, Venus, Aave v3 and Compound watched, and dry
// run on.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ReserveWei: "10000000000000000", // 0.01 native
			SweepChain: "BSC",
		},
		Chains: map[string]ChainConfig{
			"BSC": {
				Enabled:      true,
				ChainID:      56,
				Quota:        QuotaConfig{PerMinute: 60},
				Cooldown:     duration{30 * time.Second},
				QuotaWindow:  duration{time.Minute},
				PollInterval: duration{15 * time.Second},
				ScanInterval: duration{15 * time.Second},
				Quote:        AssetConfig{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
				Assets: []AssetConfig{
					{Symbol: "WBNB", Address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", Decimals: 18},
					{Symbol: "CAKE", Address: "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", Decimals: 18},
					{Symbol: "ETH", Address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", Decimals: 18},
				},
				Dexes: []DexConfig{
					{Name: "pancakeswap", Router: "0x10ED43C718714eb63d5aA57B78B54704E256024E"},
					{Name: "biswap", Router: "0x3a6d8cA21D1CF76F653A67577FA0D27453350dD8"},
					{Name: "apeswap", Router: "0xcF0feBd3f17CEf5b47b0cD257aCf6025c5BFf3b7"},
				},
			},
			"ETH": {
				Enabled:      true,
				ChainID:      1,
				Quota:        QuotaConfig{PerMinute: 60},
				Cooldown:     duration{30 * time.Second},
				QuotaWindow:  duration{time.Minute},
				PollInterval: duration{15 * time.Second},
				ScanInterval: duration{15 * time.Second},
				Quote:        AssetConfig{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				Assets: []AssetConfig{
					{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
					{Symbol: "LINK", Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Decimals: 18},
				},
				Dexes: []DexConfig{
					{Name: "uniswap_v2", Router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"},
					{Name: "sushiswap", Router: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"},
				},
				FlashloanProviders: []string{"balancer:0xBA12222222228d8Ba445958a75a0704d566BF2C8"},
			},
		},
		Arbitrage: ArbitrageConfig{
			Enabled:          true,
			ThresholdPct:     0.5,
			Usage:            0.8,
			LiquidityTimeout: duration{10 * time.Second},
		},
		Liquidation: LiquidationConfig{
			Enabled:      true,
			Concurrency:  20,
			CheckTimeout: duration{15 * time.Second},
			BaseInterval: duration{30 * time.Second},
			PageSize:     1000,
			// Protocols stay off until an account source is configured.
			Protocols: map[string]ProtocolConfig{
				"venus": {
					Kind:    KindComptroller,
					Chain:   "BSC",
					Address: "0xfD36E2c2a6789Db23113685031d7F16329158384",
					Entity:  "accounts",
					Where:   "hasBorrowed: true",
				},
				"aave": {
					Kind:    KindAave,
					Chain:   "ETH",
					Address: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
					Entity:  "users",
					Where:   "borrowedReservesCount_gt: 0",
				},
				"compound": {
					Kind:    KindComptroller,
					Chain:   "ETH",
					Address: "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B",
					Entity:  "accounts",
					Where:   "hasBorrowed: true",
				},
			},
		},
		Controller: ControllerConfig{
			Enabled:      true,
			Period:       duration{5 * time.Minute},
			Window:       100,
			BaseInterval: duration{15 * time.Second},
			MinProfit:    0,
		},
		Executor: ExecutorConfig{
			DryRun:        true,
			GasLimit:      1_500_000,
			LockTTL:       duration{2 * time.Minute},
			DedupTTL:      duration{time.Minute},
			SubmitTimeout: duration{90 * time.Second},
			QueueSize:     256,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			KeyPrefix:   "fusion:",
			PriceTTL:    duration{10 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Hydrate:       100,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "fusionbot-archive",
			ForcePathStyle:   true,
			ArchiveRetention: duration{30 * 24 * time.Hour},
			ArchiveInterval:  duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"execution_success", "execution_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"arbitrage":   true,
	"liquidation": true,
	"server":      true,
	"full":        true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// EnabledChains returns the ids of the enabled chains, sorted.
func (c *Config) EnabledChains() []string {
	out := make([]string, 0, len(c.Chains))
	for id, ch := range c.Chains {
		if ch.Enabled {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// EnabledProtocols returns the names of the enabled liquidation protocols
// whose chain is enabled, sorted.
func (c *Config) EnabledProtocols() []string {
	out := make([]string, 0, len(c.Liquidation.Protocols))
	for name, p := range c.Liquidation.Protocols {
		if p.Enabled && c.Chains[p.Chain].Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RunsArbitrage reports whether the mode includes the spread scanners.
func (c *Config) RunsArbitrage() bool {
	return c.Arbitrage.Enabled && (c.Mode == "arbitrage" || c.Mode == "full")
}

// RunsLiquidation reports whether the mode includes the liquidation
// monitors.
func (c *Config) RunsLiquidation() bool {
	return c.Liquidation.Enabled && (c.Mode == "liquidation" || c.Mode == "full")
}

// Reserve parses Wallet.ReserveWei. An empty value is zero.
func (c *Config) Reserve() (*big.Int, error) {
	if strings.TrimSpace(c.Wallet.ReserveWei) == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(c.Wallet.ReserveWei), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("wallet: reserve_wei %q is not a non-negative integer", c.Wallet.ReserveWei)
	}
	return v, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	addr := func(field, v string) {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a hex address", field, v))
		}
	}

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: arbitrage, liquidation, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: a key is needed for live execution and for the wallet endpoints.
	if !c.Executor.DryRun && c.Mode != "server" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when executor.dry_run is false")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.ProfitWallet != "" {
		addr("wallet: profit_wallet", c.Wallet.ProfitWallet)
	}
	if _, err := c.Reserve(); err != nil {
		errs = append(errs, err.Error())
	}

	// Chains
	enabled := c.EnabledChains()
	if len(enabled) == 0 && c.Mode != "server" {
		errs = append(errs, "chains: at least one chain must be enabled")
	}
	for _, id := range enabled {
		errs = append(errs, c.Chains[id].validate(id, c.RunsArbitrage())...)
	}

	// Arbitrage
	if c.Arbitrage.ThresholdPct < 0 {
		errs = append(errs, "arbitrage: threshold_pct must be >= 0")
	}
	if c.Arbitrage.Usage <= 0 || c.Arbitrage.Usage > 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: usage must be in (0, 1], got %v", c.Arbitrage.Usage))
	}

	// Liquidation
	if c.RunsLiquidation() {
		if c.Liquidation.Concurrency < 1 {
			errs = append(errs, "liquidation: concurrency must be >= 1")
		}
		for _, name := range c.EnabledProtocols() {
			p := c.Liquidation.Protocols[name]
			field := "liquidation.protocols." + name
			if p.Kind != KindComptroller && p.Kind != KindAave {
				errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: comptroller, aave)", field, p.Kind))
			}
			addr(field+": address", p.Address)
			if p.Oracle != "" {
				addr(field+": oracle", p.Oracle)
			}
			if p.SubgraphURL == "" && len(p.Accounts) == 0 {
				errs = append(errs, field+": subgraph_url or accounts must be set")
			}
			for _, a := range p.Accounts {
				addr(field+": accounts", a)
			}
		}
	}

	// Controller
	if c.Controller.Enabled {
		if c.Controller.Period.Duration <= 0 {
			errs = append(errs, "controller: period must be > 0")
		}
		if c.Controller.Window < 1 {
			errs = append(errs, "controller: window must be >= 1")
		}
	}

	// Executor
	if c.Executor.QueueSize < 1 {
		errs = append(errs, "executor: queue_size must be >= 1")
	}
	if !c.Executor.DryRun && c.Executor.GasLimit == 0 {
		errs = append(errs, "executor: gas_limit must be > 0 for live execution")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Mode == "server" && !c.Server.Enabled {
		errs = append(errs, "server: mode server requires server.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (ch ChainConfig) validate(id string, arbitrage bool) []string {
	var errs []string
	field := "chains." + id
	if ch.ChainID <= 0 {
		errs = append(errs, field+": chain_id must be positive")
	}
	if len(ch.ProviderKeys) == 0 && len(ch.RPC) == 0 {
		errs = append(errs, field+": no RPC provider (set provider_keys or rpc)")
	}
	for _, e := range ch.RPC {
		if e.Name == "" || e.URL == "" {
			errs = append(errs, field+": rpc entries need a name and a url")
		}
	}
	if ch.Cooldown.Duration < 0 {
		errs = append(errs, field+": cooldown must be >= 0")
	}
	if !arbitrage {
		return errs
	}
	if len(ch.Dexes) == 0 {
		errs = append(errs, field+": at least one dex is required for arbitrage")
	}
	for _, d := range ch.Dexes {
		if !common.IsHexAddress(d.Router) {
			errs = append(errs, fmt.Sprintf("%s: dex %q router is not a hex address", field, d.Name))
		}
	}
	for _, a := range append([]AssetConfig{ch.Quote}, ch.Assets...) {
		if a.Symbol == "" || !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("%s: asset %q needs a symbol and a hex address", field, a.Symbol))
		}
	}
	for _, p := range ch.FlashloanProviders {
		_, a, found := strings.Cut(p, ":")
		if !found {
			a = p
		}
		if !common.IsHexAddress(strings.TrimSpace(a)) {
			errs = append(errs, fmt.Sprintf("%s: flashloan provider %q is not name:address", field, p))
		}
	}
	if ch.ExecutorContract != "" && !common.IsHexAddress(ch.ExecutorContract) {
		errs = append(errs, field+": executor_contract is not a hex address")
	}
	if ch.PollInterval.Duration <= 0 {
		errs = append(errs, field+": poll_interval must be > 0")
	}
	return errs
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withKeys(cfg Config) Config {
	for id, ch := range cfg.Chains {
		ch.ProviderKeys = map[string]string{"infura": "k-" + id}
		cfg.Chains[id] = ch
	}
	return cfg
}

func TestDefaults_ValidWithProviderKeys(t *testing.T) {
	cfg := withKeys(Defaults())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"BSC", "ETH"}, cfg.EnabledChains())
	assert.Empty(t, cfg.EnabledProtocols())
	assert.True(t, cfg.Executor.DryRun)
}

func TestLoad_ProtocolEnabledWithAccountSource(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FUSION_CHAINS_BSC_INFURA_API_KEY", "inf")
	t.Setenv("FUSION_CHAINS_ETH_INFURA_API_KEY", "inf")
	t.Setenv("FUSION_LIQUIDATION_VENUS_ENABLED", "true")
	t.Setenv("FUSION_LIQUIDATION_VENUS_SUBGRAPH_URL", "https://gateway.example/subgraphs/venus")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"venus"}, cfg.EnabledProtocols())

	t.Setenv("FUSION_LIQUIDATION_AAVE_ENABLED", "true")
	cfg, err = Load("")
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liquidation.protocols.aave: subgraph_url or accounts must be set")
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Arbitrage.Usage = 1.5
	cfg.Executor.DryRun = false

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"arbitrage: usage must be in (0, 1]",
		"wallet: either private_key or encrypted_key_path",
		"chains.BSC: no RPC provider",
		"chains.ETH: no RPC provider",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Addresses(t *testing.T) {
	cfg := withKeys(Defaults())
	bsc := cfg.Chains["BSC"]
	bsc.FlashloanProviders = []string{"pancake:nothex"}
	cfg.Chains["BSC"] = bsc
	venus := cfg.Liquidation.Protocols["venus"]
	venus.Enabled = true
	venus.Accounts = []string{"0x123"}
	cfg.Liquidation.Protocols["venus"] = venus
	cfg.Wallet.ReserveWei = "-1"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `flashloan provider "pancake:nothex"`)
	assert.Contains(t, err.Error(), "liquidation.protocols.venus: accounts")
	assert.Contains(t, err.Error(), "reserve_wei")
}

func TestLoad_TOMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "fusion.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "liquidation"

[arbitrage]
threshold_pct = 1.5

[chains.BSC]
enabled = true
chain_id = 56
poll_interval = "5s"

[[chains.BSC.rpc]]
name = "local"
url = "http://127.0.0.1:8545"
`), 0o600))

	t.Setenv("FUSION_LOG_LEVEL", "debug")
	t.Setenv("FUSION_EXECUTOR_LOCK_TTL", "45s")
	t.Setenv("FUSION_CHAINS_ETH_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "liquidation", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1.5, cfg.Arbitrage.ThresholdPct)
	assert.Equal(t, 45*time.Second, cfg.Executor.LockTTL.Duration)
	assert.Equal(t, 5*time.Second, cfg.Chains["BSC"].PollInterval.Duration)
	require.Len(t, cfg.Chains["BSC"].RPC, 1)
	assert.Equal(t, "local", cfg.Chains["BSC"].RPC[0].Name)
	assert.False(t, cfg.Chains["ETH"].Enabled)
	assert.Equal(t, []string{"BSC"}, cfg.EnabledChains())
}

func TestLoad_LegacyNamesAndPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DRY_RUN", "false")
	t.Setenv("PRIVATE_KEY", "0xabc")
	t.Setenv("PROFIT_WALLET", "0x000000000000000000000000000000000000dEaD")
	t.Setenv("INFURA_API_KEY", "inf")
	t.Setenv("NODEREAL_API_KEY", "nr")
	t.Setenv("FLASH_LOAN_PROVIDERS", "aave:0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2, dodo:0x0000000000000000000000000000000000000001")
	t.Setenv("MARGINAL_OPTIMIZER", "2.5")
	t.Setenv("LIQUIDITY_USAGE_PERCENTAGE", "0.6")
	t.Setenv("FUSION_ARBITRAGE_USAGE", "0.7")
	t.Setenv("FUSION_CHAINS_BSC_INFURA_API_KEY", "inf-bsc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Executor.DryRun)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	assert.Equal(t, 2.5, cfg.Arbitrage.ThresholdPct)
	assert.Equal(t, 0.7, cfg.Arbitrage.Usage)
	assert.Equal(t, map[string]string{"infura": "inf-bsc", "nodereal": "nr"}, cfg.Chains["BSC"].ProviderKeys)
	assert.Equal(t, map[string]string{"infura": "inf", "nodereal": "nr"}, cfg.Chains["ETH"].ProviderKeys)
	assert.Len(t, cfg.Chains["ETH"].FlashloanProviders, 2)
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := withKeys(Defaults())
	cfg.Wallet.PrivateKey = "secret"
	cfg.Server.APIKey = "api"
	bsc := cfg.Chains["BSC"]
	bsc.RPC = []EndpointConfig{{Name: "quicknode", URL: "https://x.quiknode.pro/token/"}}
	cfg.Chains["BSC"] = bsc

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Chains["BSC"].ProviderKeys["infura"])
	assert.Equal(t, redacted, out.Chains["BSC"].RPC[0].URL)
	assert.Empty(t, out.Wallet.KeyPassword)

	// the original is untouched
	assert.Equal(t, "secret", cfg.Wallet.PrivateKey)
	assert.Equal(t, "k-BSC", cfg.Chains["BSC"].ProviderKeys["infura"])
	assert.Equal(t, "https://x.quiknode.pro/token/", cfg.Chains["BSC"].RPC[0].URL)
}

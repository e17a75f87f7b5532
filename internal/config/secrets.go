package config

import "slices"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed. Maps and slices
// are copied so the redacted value cannot alias the original.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Chains: provider keys, and raw URLs, which often embed a key.
	out.Chains = make(map[string]ChainConfig, len(cfg.Chains))
	for id, ch := range cfg.Chains {
		keys := make(map[string]string, len(ch.ProviderKeys))
		for brand, k := range ch.ProviderKeys {
			redact(&k)
			keys[brand] = k
		}
		ch.ProviderKeys = keys
		ch.RPC = slices.Clone(ch.RPC)
		for i := range ch.RPC {
			redact(&ch.RPC[i].URL)
		}
		ch.Assets = slices.Clone(ch.Assets)
		ch.Dexes = slices.Clone(ch.Dexes)
		ch.FlashloanProviders = slices.Clone(ch.FlashloanProviders)
		out.Chains[id] = ch
	}

	// Liquidation
	out.Liquidation.Protocols = make(map[string]ProtocolConfig, len(cfg.Liquidation.Protocols))
	for name, p := range cfg.Liquidation.Protocols {
		redact(&p.SubgraphAPIKey)
		p.Accounts = slices.Clone(p.Accounts)
		out.Liquidation.Protocols[name] = p
	}

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

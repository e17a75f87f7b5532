package rpcpool

import (
	"fmt"
	"strings"
)

// Provider brands with hosted endpoints built from an API key.
const (
	BrandInfura   = "infura"
	BrandAlchemy  = "alchemy"
	BrandNodeReal = "nodereal"
)

var urlTemplates = map[string]map[string]string{
	BrandInfura: {
		"ETH": "https://mainnet.infura.io/v3/%s",
		"BSC": "https://bsc-mainnet.infura.io/v3/%s",
	},
	BrandAlchemy: {
		"ETH": "https://eth-mainnet.g.alchemy.com/v2/%s",
		"BSC": "https://bnb-mainnet.g.alchemy.com/v2/%s",
	},
	BrandNodeReal: {
		"ETH": "https://eth-mainnet.nodereal.io/v1/%s",
		"BSC": "https://bsc-mainnet.nodereal.io/v1/%s",
	},
}

// BrandURL returns the hosted endpoint of brand on chain for apiKey.
func BrandURL(brand, chain, apiKey string) (string, error) {
	chains, ok := urlTemplates[strings.ToLower(brand)]
	if !ok {
		return "", fmt.Errorf("rpcpool: unsupported provider %q", brand)
	}
	tmpl, ok := chains[strings.ToUpper(chain)]
	if !ok {
		return "", fmt.Errorf("rpcpool: provider %q has no endpoint for chain %q", brand, chain)
	}
	if apiKey == "" {
		return "", fmt.Errorf("rpcpool: provider %q: empty api key", brand)
	}
	return fmt.Sprintf(tmpl, apiKey), nil
}

// BuildEntries expands API keys (brand → key) and raw URLs (name → url) into
// rotation entries sharing one quota. Brands are emitted in a fixed order
// followed by raw URLs in the order given; brands without a key are skipped.
func BuildEntries(chain string, apiKeys map[string]string, raw []Entry, quota Quota) ([]Entry, error) {
	var out []Entry
	for _, brand := range []string{BrandInfura, BrandAlchemy, BrandNodeReal} {
		key := apiKeys[brand]
		if key == "" {
			continue
		}
		u, err := BrandURL(brand, chain, key)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: chain + "-" + brand, URL: u, Quota: quota})
	}
	for _, e := range raw {
		if e.Quota == (Quota{}) {
			e.Quota = quota
		}
		out = append(out, e)
	}
	return out, nil
}

// Package flashloan picks the flash-loan lender with the most usable
// liquidity for an asset and sizes the loan against it.
package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Provider is a flash-loan lender contract.
type Provider struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// ParseProvider parses "name:address". Without a colon the whole entry is
// the address and doubles as the name.
func ParseProvider(entry string) (Provider, error) {
	entry = strings.TrimSpace(entry)
	name, addr, found := strings.Cut(entry, ":")
	if !found {
		addr = entry
		name = entry
	}
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return Provider{}, fmt.Errorf("flashloan: provider %q: invalid address %q", entry, addr)
	}
	return Provider{Name: strings.TrimSpace(name), Address: common.HexToAddress(addr)}, nil
}

// ParseProviders parses every entry and fails on the first invalid one.
func ParseProviders(entries []string) ([]Provider, error) {
	out := make([]Provider, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		p, err := ParseProvider(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Candidate is a provider together with the liquidity it holds.
type Candidate struct {
	Provider  Provider
	Liquidity *big.Int
}

// Selection is the chosen provider and the amount to borrow from it.
type Selection struct {
	Provider  Provider `json:"provider"`
	Amount    *big.Int `json:"amount"`
	Liquidity *big.Int `json:"liquidity"`
}

// UsableAmount returns floor(usage × liquidity).
func UsableAmount(liquidity *big.Int, usage float64) *big.Int {
	if liquidity == nil || liquidity.Sign() <= 0 || usage <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(liquidity, 0).
		Mul(decimal.NewFromFloat(usage)).
		Floor().
		BigInt()
}

// ChooseBest returns the candidate with the largest usable amount. The first
// candidate wins ties. It reports false for an empty list.
func ChooseBest(candidates []Candidate, usage float64) (Selection, bool) {
	var best Selection
	found := false
	for _, c := range candidates {
		amount := UsableAmount(c.Liquidity, usage)
		if !found || amount.Cmp(best.Amount) > 0 {
			best = Selection{Provider: c.Provider, Amount: amount, Liquidity: c.Liquidity}
			found = true
		}
	}
	return best, found
}

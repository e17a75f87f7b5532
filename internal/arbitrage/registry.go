package arbitrage

import (
	"slices"
	"sort"
	"sync"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Latest holds the opportunities found by the most recent scan of each
// chain, for the API.
type Latest struct {
	byChain map[string][]domain.ArbitrageOpportunity
	mu      sync.RWMutex
}

// NewLatest returns an empty store.
func NewLatest() *Latest {
	return &Latest{byChain: make(map[string][]domain.ArbitrageOpportunity)}
}

// Set replaces the opportunities of chain.
func (l *Latest) Set(chain string, opps []domain.ArbitrageOpportunity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byChain[chain] = slices.Clone(opps)
}

// Get returns a copy of the opportunities of chain.
func (l *Latest) Get(chain string) []domain.ArbitrageOpportunity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.byChain[chain])
}

// All returns every chain's opportunities keyed by chain.
func (l *Latest) All() map[string][]domain.ArbitrageOpportunity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]domain.ArbitrageOpportunity, len(l.byChain))
	for c, opps := range l.byChain {
		out[c] = slices.Clone(opps)
	}
	return out
}

// Chains returns the chains scanned so far, sorted.
func (l *Latest) Chains() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.byChain))
	for n := range l.byChain {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

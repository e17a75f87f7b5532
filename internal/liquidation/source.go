package liquidation

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fusionbot/internal/platform/subgraph"
)

// AccountSource enumerates the borrowers to check each cycle.
type AccountSource interface {
	Accounts(ctx context.Context) ([]common.Address, error)
}

// SubgraphSource lists borrowers from an indexer.
type SubgraphSource struct {
	client   *subgraph.Client
	listing  subgraph.Listing
	pageSize int
}

// NewSubgraphSource pages through listing on client.
func NewSubgraphSource(client *subgraph.Client, listing subgraph.Listing, pageSize int) *SubgraphSource {
	return &SubgraphSource{client: client, listing: listing, pageSize: pageSize}
}

// Accounts returns every listed id that is a valid address. Ids that are
// not addresses are dropped.
func (s *SubgraphSource) Accounts(ctx context.Context) ([]common.Address, error) {
	ids, err := s.client.ListIDs(ctx, s.listing, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("liquidation: list borrowers: %w", err)
	}
	out := make([]common.Address, 0, len(ids))
	for _, id := range ids {
		if common.IsHexAddress(id) {
			out = append(out, common.HexToAddress(id))
		}
	}
	return out, nil
}

// StaticSource is a fixed watch list.
type StaticSource []common.Address

// Accounts returns the list.
func (s StaticSource) Accounts(context.Context) ([]common.Address, error) {
	return s, nil
}

// MultiSource concatenates sources, dropping duplicates. A failing source
// fails the whole listing.
type MultiSource []AccountSource

// Accounts merges all sources in order.
func (m MultiSource) Accounts(ctx context.Context) ([]common.Address, error) {
	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, src := range m {
		accts, err := src.Accounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range accts {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// Package matrix holds the per-chain DEX × asset price grids and the spread
// scanners that read them.
package matrix

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Matrix is the price grid of one chain. Rows are DEXes and columns are
// assets; the dimensions are fixed at construction. One mutex guards the
// whole grid.
type Matrix struct {
	id     string
	chain  string
	dexes  []string
	assets []string

	dexIdx   map[string]int
	assetIdx map[string]int

	mu    sync.Mutex
	cells [][]domain.PriceObservation
	now   func() time.Time
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithClock overrides the timestamp source used by UpdatePrice.
func WithClock(now func() time.Time) Option {
	return func(m *Matrix) { m.now = now }
}

// New creates a zero-initialised matrix. Duplicate DEX or asset names keep
// their first position.
func New(id, chain string, dexes, assets []string, opts ...Option) *Matrix {
	m := &Matrix{
		id:       id,
		chain:    chain,
		dexIdx:   make(map[string]int, len(dexes)),
		assetIdx: make(map[string]int, len(assets)),
		now:      time.Now,
	}
	for _, d := range dexes {
		if _, ok := m.dexIdx[d]; ok {
			continue
		}
		m.dexIdx[d] = len(m.dexes)
		m.dexes = append(m.dexes, d)
	}
	for _, a := range assets {
		if _, ok := m.assetIdx[a]; ok {
			continue
		}
		m.assetIdx[a] = len(m.assets)
		m.assets = append(m.assets, a)
	}
	for _, o := range opts {
		o(m)
	}

	m.cells = make([][]domain.PriceObservation, len(m.dexes))
	for i, d := range m.dexes {
		row := make([]domain.PriceObservation, len(m.assets))
		for j := range row {
			row[j].Dex = d
		}
		m.cells[i] = row
	}
	return m
}

// ID returns the matrix identifier.
func (m *Matrix) ID() string { return m.id }

// Chain returns the chain the matrix prices.
func (m *Matrix) Chain() string { return m.chain }

// Dimensions returns the number of DEX rows and asset columns.
func (m *Matrix) Dimensions() (dexes, assets int) {
	return len(m.dexes), len(m.assets)
}

// Set overwrites one cell with price and a fresh timestamp. Cell timestamps
// never move backwards: if the clock reads earlier than the stored
// timestamp, the stored one is kept.
func (m *Matrix) Set(dex, asset string, price float64) error {
	i, ok := m.dexIdx[dex]
	if !ok {
		return fmt.Errorf("matrix %s: dex %q: %w", m.id, dex, domain.ErrUnknownCell)
	}
	j, ok := m.assetIdx[asset]
	if !ok {
		return fmt.Errorf("matrix %s: asset %q: %w", m.id, asset, domain.ErrUnknownCell)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fmt.Errorf("matrix %s: invalid price %v for %s/%s", m.id, price, dex, asset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()
	cell := &m.cells[i][j]
	if ts.Before(cell.Timestamp) {
		ts = cell.Timestamp
	}
	cell.Price = price
	cell.Timestamp = ts
	return nil
}

// UpdatePrice is Set without the error: unknown names and invalid prices
// are dropped. It reports whether the cell was written.
func (m *Matrix) UpdatePrice(dex, asset string, price float64) bool {
	return m.Set(dex, asset, price) == nil
}

// Price returns the current observation of one cell.
func (m *Matrix) Price(dex, asset string) (domain.PriceObservation, bool) {
	i, ok := m.dexIdx[dex]
	if !ok {
		return domain.PriceObservation{}, false
	}
	j, ok := m.assetIdx[asset]
	if !ok {
		return domain.PriceObservation{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cells[i][j], true
}

// Snapshot copies the grid under the lock so callers can scan it without
// racing writers.
func (m *Matrix) Snapshot() domain.MatrixSnapshot {
	m.mu.Lock()
	cells := make([][]domain.PriceObservation, len(m.cells))
	for i, row := range m.cells {
		cells[i] = append([]domain.PriceObservation(nil), row...)
	}
	m.mu.Unlock()

	return domain.MatrixSnapshot{
		ID:      m.id,
		Chain:   m.chain,
		Dexes:   append([]string(nil), m.dexes...),
		Assets:  append([]string(nil), m.assets...),
		Cells:   cells,
		TakenAt: m.now(),
	}
}

// Registry holds one matrix per chain id ("ETH", "BSC", ...).
type Registry struct {
	mu       sync.RWMutex
	matrices map[string]*Matrix
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{matrices: make(map[string]*Matrix)}
}

// Add registers m under its id, replacing any previous matrix with that id.
func (r *Registry) Add(m *Matrix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matrices[m.ID()] = m
}

// Get returns the matrix for id.
func (r *Registry) Get(id string) (*Matrix, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matrices[id]
	return m, ok
}

// UpdatePrice routes a price to the matrix for chain. Unknown chains are
// ignored like unknown cells.
func (r *Registry) UpdatePrice(chain, dex, asset string, price float64) bool {
	m, ok := r.Get(chain)
	if !ok {
		return false
	}
	return m.UpdatePrice(dex, asset, price)
}

// IDs returns the registered matrix ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.matrices))
	for id := range r.matrices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshots returns a snapshot of every matrix ordered by id.
func (r *Registry) Snapshots() []domain.MatrixSnapshot {
	ids := r.IDs()
	out := make([]domain.MatrixSnapshot, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.Get(id); ok {
			out = append(out, m.Snapshot())
		}
	}
	return out
}

// ScanChain snapshots the matrix for chain and scans it. Pairwise selects
// ScanPairwise instead of the best/worst scan. Unknown chains yield nothing.
func (r *Registry) ScanChain(chain string, thresholdPct float64, pairwise bool) []domain.ArbitrageOpportunity {
	m, ok := r.Get(chain)
	if !ok {
		return nil
	}
	snap := m.Snapshot()
	if pairwise {
		return ScanPairwise(snap, thresholdPct)
	}
	return Scan(snap, thresholdPct)
}

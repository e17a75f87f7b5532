package arbitrage

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Settings are the operator-adjustable scan parameters. They are separate
// from the controller-owned tunables and are safe for concurrent use.
type Settings struct {
	threshold atomic.Uint64 // float64 bits, percent
	usage     atomic.Uint64 // float64 bits, fraction in (0, 1]
	pairwise  atomic.Bool
}

// NewSettings validates and stores the initial values.
func NewSettings(thresholdPct, usage float64, pairwise bool) (*Settings, error) {
	s := &Settings{}
	if err := s.SetThresholdPct(thresholdPct); err != nil {
		return nil, err
	}
	if err := s.SetUsage(usage); err != nil {
		return nil, err
	}
	s.pairwise.Store(pairwise)
	return s, nil
}

// ThresholdPct returns the minimum spread, in percent, worth reporting.
func (s *Settings) ThresholdPct() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// SetThresholdPct replaces the spread threshold.
func (s *Settings) SetThresholdPct(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("arbitrage: threshold must be a non-negative percentage, got %v", v)
	}
	s.threshold.Store(math.Float64bits(v))
	return nil
}

// Usage returns the fraction of lender liquidity a loan may take.
func (s *Settings) Usage() float64 {
	return math.Float64frombits(s.usage.Load())
}

// SetUsage replaces the liquidity usage fraction.
func (s *Settings) SetUsage(v float64) error {
	if v <= 0 || v > 1 || math.IsNaN(v) {
		return fmt.Errorf("arbitrage: liquidity usage must be in (0, 1], got %v", v)
	}
	s.usage.Store(math.Float64bits(v))
	return nil
}

// Pairwise reports whether every DEX pair is scanned instead of only the
// cheapest and dearest venue.
func (s *Settings) Pairwise() bool { return s.pairwise.Load() }

// SetPairwise switches the scan mode.
func (s *Settings) SetPairwise(v bool) { s.pairwise.Store(v) }

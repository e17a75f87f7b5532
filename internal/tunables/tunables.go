// Package tunables holds the runtime parameters that the adaptive controller
// rewrites and the scanners read every cycle.
package tunables

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Snapshot is a deep copy of the tunables at one instant.
type Snapshot struct {
	MinProfitThreshold float64                  `json:"min_profit_threshold"`
	ProtocolWeights    map[string]float64       `json:"protocol_weights"`
	ScanIntervals      map[string]time.Duration `json:"scan_intervals"`
}

// Update is a batch of changes applied atomically. Nil fields are left
// untouched; map entries are merged into the current values.
type Update struct {
	MinProfitThreshold *float64
	ProtocolWeights    map[string]float64
	ScanIntervals      map[string]time.Duration
}

// Tunables is shared by handle between the controller, which writes it, and
// every scanner, which reads it.
type Tunables struct {
	mu              sync.Mutex
	minProfit       float64
	weights         map[string]float64
	intervals       map[string]time.Duration
	defaultInterval time.Duration
	onChange        []func(Snapshot)
}

// New creates tunables seeded with an initial threshold. Protocols without
// an explicit interval fall back to defaultInterval.
func New(minProfit float64, defaultInterval time.Duration) *Tunables {
	return &Tunables{
		minProfit:       minProfit,
		weights:         make(map[string]float64),
		intervals:       make(map[string]time.Duration),
		defaultInterval: defaultInterval,
	}
}

// SetInterval seeds the scan interval of one protocol. It is meant for
// startup; at runtime the controller goes through Apply.
func (t *Tunables) SetInterval(protocol string, d time.Duration) {
	t.Apply(Update{ScanIntervals: map[string]time.Duration{protocol: d}})
}

// OnChange registers fn to be called with the new snapshot after every
// Apply. Callbacks run outside the lock.
func (t *Tunables) OnChange(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Apply writes all fields of u in one critical section.
func (t *Tunables) Apply(u Update) {
	t.mu.Lock()
	if u.MinProfitThreshold != nil {
		t.minProfit = *u.MinProfitThreshold
	}
	maps.Copy(t.weights, u.ProtocolWeights)
	maps.Copy(t.intervals, u.ScanIntervals)
	snap := t.snapshotLocked()
	hooks := slices.Clone(t.onChange)
	t.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

// MinProfitThreshold returns the current profit threshold.
func (t *Tunables) MinProfitThreshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.minProfit
}

// Weight returns the weight of protocol, 1.0 when none has been assigned.
func (t *Tunables) Weight(protocol string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.weights[protocol]; ok {
		return w
	}
	return 1.0
}

// Interval returns the scan interval for protocol.
func (t *Tunables) Interval(protocol string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.intervals[protocol]; ok && d > 0 {
		return d
	}
	return t.defaultInterval
}

// Snapshot returns a deep copy of all values.
func (t *Tunables) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tunables) snapshotLocked() Snapshot {
	return Snapshot{
		MinProfitThreshold: t.minProfit,
		ProtocolWeights:    maps.Clone(t.weights),
		ScanIntervals:      maps.Clone(t.intervals),
	}
}

// Package rpcpool rotates RPC calls across several providers while keeping
// each one inside its per-minute, per-hour and per-day request quotas.
package rpcpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Quota caps the requests sent to one provider. A zero field is unlimited.
type Quota struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// Entry is one configured RPC endpoint.
type Entry struct {
	Name  string `json:"name"`
	URL   string `json:"-"`
	Quota Quota  `json:"quota"`
}

// EntryStatus is a read-only view of an entry's counters for the API.
type EntryStatus struct {
	Name          string    `json:"name"`
	Quota         Quota     `json:"quota"`
	Used          [3]int    `json:"used"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Available     bool      `json:"available"`
}

const (
	winMinute = iota
	winHour
	winDay
)

type slot struct {
	Entry
	counts        [3]int
	starts        [3]time.Time
	cooldownUntil time.Time
}

func (s *slot) limits() [3]int {
	return [3]int{s.Quota.PerMinute, s.Quota.PerHour, s.Quota.PerDay}
}

// Rotation is a round-robin queue of entries. Next and MarkFailure are the
// only mutators; both take the same lock.
type Rotation struct {
	mu      sync.Mutex
	slots   []*slot
	windows [3]time.Duration
	now     func() time.Time
}

// RotationOption configures a Rotation.
type RotationOption func(*Rotation)

// WithRotationClock replaces the wall clock.
func WithRotationClock(now func() time.Time) RotationOption {
	return func(r *Rotation) { r.now = now }
}

// WithMinuteWindow changes the length of the rotation window (default 60s)
// that PerMinute applies to.
func WithMinuteWindow(d time.Duration) RotationOption {
	return func(r *Rotation) {
		if d > 0 {
			r.windows[winMinute] = d
		}
	}
}

// NewRotation validates entries and returns a rotation that starts with the
// first one.
func NewRotation(entries []Entry, opts ...RotationOption) (*Rotation, error) {
	r := &Rotation{
		windows: [3]time.Duration{time.Minute, time.Hour, 24 * time.Hour},
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.URL == "" {
			return nil, fmt.Errorf("rpcpool: entry %q: %w", e.Name, domain.ErrInvalidEntry)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("rpcpool: duplicate entry %q: %w", e.Name, domain.ErrInvalidEntry)
		}
		if e.Quota.PerMinute < 0 || e.Quota.PerHour < 0 || e.Quota.PerDay < 0 {
			return nil, fmt.Errorf("rpcpool: entry %q: negative quota: %w", e.Name, domain.ErrInvalidEntry)
		}
		seen[e.Name] = true
		r.slots = append(r.slots, &slot{Entry: e})
	}
	return r, nil
}

// Next returns the first entry, in rotation order, that is not cooling down
// and has room in every quota window. The returned entry is charged one
// request and moved to the back. It reports false when every entry is
// exhausted or cooling down.
func (r *Rotation) Next() (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for range len(r.slots) {
		s := r.slots[0]
		copy(r.slots, r.slots[1:])
		r.slots[len(r.slots)-1] = s

		r.resetWindows(s, now)
		if !r.available(s, now) {
			continue
		}
		for w := range s.counts {
			s.counts[w]++
		}
		return s.Entry, true
	}
	return Entry{}, false
}

// MarkFailure puts the named entry into cooldown until now+cooldown. Unknown
// names are ignored.
func (r *Rotation) MarkFailure(name string, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.Name == name {
			s.cooldownUntil = r.now().Add(cooldown)
			return
		}
	}
}

// Len returns the number of entries.
func (r *Rotation) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Status reports every entry in current rotation order.
func (r *Rotation) Status() []EntryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]EntryStatus, 0, len(r.slots))
	for _, s := range r.slots {
		r.resetWindows(s, now)
		st := EntryStatus{
			Name:      s.Name,
			Quota:     s.Quota,
			Used:      s.counts,
			Available: r.available(s, now),
		}
		if now.Before(s.cooldownUntil) {
			st.CooldownUntil = s.cooldownUntil
		}
		out = append(out, st)
	}
	return out
}

func (r *Rotation) resetWindows(s *slot, now time.Time) {
	for w, length := range r.windows {
		if s.starts[w].IsZero() || now.Sub(s.starts[w]) >= length {
			s.starts[w] = now
			s.counts[w] = 0
		}
	}
}

func (r *Rotation) available(s *slot, now time.Time) bool {
	if now.Before(s.cooldownUntil) {
		return false
	}
	for w, limit := range s.limits() {
		if limit > 0 && s.counts[w] >= limit {
			return false
		}
	}
	return true
}

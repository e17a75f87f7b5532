package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func entries(quota int, names ...string) []Entry {
	out := make([]Entry, 0, len(names))
	for _, n := range names {
		out = append(out, Entry{Name: n, URL: "http://" + n, Quota: Quota{PerMinute: quota}})
	}
	return out
}

func TestNext_RoundRobinUntilExhausted(t *testing.T) {
	clk := newClock()
	r, err := NewRotation(entries(2, "A", "B"), WithRotationClock(clk.now))
	require.NoError(t, err)

	var got []string
	for {
		e, ok := r.Next()
		if !ok {
			break
		}
		got = append(got, e.Name)
	}
	assert.Equal(t, []string{"A", "B", "A", "B"}, got)
}

func TestNext_QuotaResetsAfterWindow(t *testing.T) {
	clk := newClock()
	r, err := NewRotation(entries(1, "A"), WithRotationClock(clk.now), WithMinuteWindow(10*time.Second))
	require.NoError(t, err)

	_, ok := r.Next()
	require.True(t, ok)
	_, ok = r.Next()
	require.False(t, ok)

	clk.advance(10 * time.Second)
	e, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, "A", e.Name)
}

func TestNext_KTimesQSuccessesPerWindow(t *testing.T) {
	for _, tc := range []struct{ k, q int }{{1, 1}, {3, 5}, {4, 2}} {
		clk := newClock()
		names := make([]string, tc.k)
		for i := range names {
			names[i] = string(rune('A' + i))
		}
		r, err := NewRotation(entries(tc.q, names...), WithRotationClock(clk.now))
		require.NoError(t, err)

		for round := 0; round < 2; round++ {
			n := 0
			for {
				if _, ok := r.Next(); !ok {
					break
				}
				n++
			}
			assert.Equal(t, tc.k*tc.q, n, "k=%d q=%d", tc.k, tc.q)
			clk.advance(time.Minute)
		}
	}
}

func TestNext_HourAndDayQuotas(t *testing.T) {
	clk := newClock()
	r, err := NewRotation([]Entry{{Name: "A", URL: "u", Quota: Quota{PerMinute: 10, PerHour: 3}}}, WithRotationClock(clk.now))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok := r.Next()
		require.True(t, ok)
		clk.advance(time.Minute)
	}
	_, ok := r.Next()
	assert.False(t, ok, "hour quota exhausted")

	clk.advance(time.Hour)
	_, ok = r.Next()
	assert.True(t, ok)
}

func TestMarkFailure_CooldownExcludesEntry(t *testing.T) {
	clk := newClock()
	r, err := NewRotation(entries(100, "A", "B"), WithRotationClock(clk.now))
	require.NoError(t, err)

	r.MarkFailure("A", 30*time.Second)
	for i := 0; i < 5; i++ {
		e, ok := r.Next()
		require.True(t, ok)
		assert.Equal(t, "B", e.Name)
	}

	clk.advance(30 * time.Second)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		e, _ := r.Next()
		seen[e.Name] = true
	}
	assert.True(t, seen["A"])
}

func TestMarkFailure_AllCooling(t *testing.T) {
	clk := newClock()
	r, err := NewRotation(entries(100, "A"), WithRotationClock(clk.now))
	require.NoError(t, err)
	r.MarkFailure("A", time.Minute)
	r.MarkFailure("missing", time.Minute)

	_, ok := r.Next()
	assert.False(t, ok)

	st := r.Status()
	require.Len(t, st, 1)
	assert.False(t, st[0].Available)
	assert.Equal(t, clk.t.Add(time.Minute), st[0].CooldownUntil)
}

func TestNewRotation_RejectsInvalidEntries(t *testing.T) {
	_, err := NewRotation([]Entry{{Name: "A"}})
	assert.ErrorIs(t, err, domain.ErrInvalidEntry)

	_, err = NewRotation(entries(1, "A", "A"))
	assert.ErrorIs(t, err, domain.ErrInvalidEntry)
}

func TestBuildEntries(t *testing.T) {
	got, err := BuildEntries("BSC",
		map[string]string{BrandNodeReal: "nr", BrandInfura: "inf"},
		[]Entry{{Name: "own", URL: "http://node:8545"}},
		Quota{PerMinute: 60},
	)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://bsc-mainnet.infura.io/v3/inf", got[0].URL)
	assert.Equal(t, "https://bsc-mainnet.nodereal.io/v1/nr", got[1].URL)
	assert.Equal(t, "own", got[2].Name)
	assert.Equal(t, 60, got[2].Quota.PerMinute)

	_, err = BrandURL("quicknode", "ETH", "k")
	assert.Error(t, err)
}

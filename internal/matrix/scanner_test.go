package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_SingleSpreadAboveThreshold(t *testing.T) {
	r := NewRegistry()
	r.Add(New("ETH", "ETH", []string{"A", "B"}, []string{"WETH"}))
	r.UpdatePrice("ETH", "A", "WETH", 100)
	r.UpdatePrice("ETH", "B", "WETH", 103)

	opps := r.ScanChain("ETH", 2.0, false)
	require.Len(t, opps, 1)
	o := opps[0]
	assert.Equal(t, "A", o.BuyDex)
	assert.Equal(t, "B", o.SellDex)
	assert.Equal(t, 100.0, o.BuyPrice)
	assert.Equal(t, 103.0, o.SellPrice)
	assert.InDelta(t, 3.0, o.SpreadPct, 1e-9)
	assert.Equal(t, "WETH", o.Asset)
	assert.Equal(t, "ETH", o.Chain)
}

func TestScan_BelowThreshold(t *testing.T) {
	m := New("ETH", "ETH", []string{"A", "B"}, []string{"WETH"})
	m.UpdatePrice("A", "WETH", 100)
	m.UpdatePrice("B", "WETH", 101)

	assert.Empty(t, Scan(m.Snapshot(), 2.0))
	assert.Len(t, Scan(m.Snapshot(), 0.5), 1)
}

func TestScan_EqualPricesNeverEmit(t *testing.T) {
	m := New("ETH", "ETH", []string{"A", "B", "C"}, []string{"WETH"})
	for _, d := range []string{"A", "B", "C"} {
		m.UpdatePrice(d, "WETH", 42)
	}
	for _, th := range []float64{0, 0.1, 5} {
		assert.Empty(t, Scan(m.Snapshot(), th))
		assert.Empty(t, ScanPairwise(m.Snapshot(), th))
	}
}

func TestScan_EmptyAndZeroMatrix(t *testing.T) {
	assert.Empty(t, Scan(New("E", "E", nil, nil).Snapshot(), 0))
	assert.Empty(t, Scan(New("E", "E", []string{"A", "B"}, []string{"X"}).Snapshot(), 0))
}

func TestScan_IgnoresZeroCells(t *testing.T) {
	m := New("ETH", "ETH", []string{"A", "B", "C"}, []string{"WETH"})
	m.UpdatePrice("A", "WETH", 100)
	m.UpdatePrice("C", "WETH", 110)

	opps := Scan(m.Snapshot(), 1)
	require.Len(t, opps, 1)
	assert.Equal(t, "A", opps[0].BuyDex)
	assert.Equal(t, "C", opps[0].SellDex)
}

func TestScan_TiesGoToFirstDex(t *testing.T) {
	m := New("ETH", "ETH", []string{"A", "B", "C", "D"}, []string{"WETH"})
	m.UpdatePrice("A", "WETH", 100)
	m.UpdatePrice("B", "WETH", 100)
	m.UpdatePrice("C", "WETH", 120)
	m.UpdatePrice("D", "WETH", 120)

	opps := Scan(m.Snapshot(), 1)
	require.Len(t, opps, 1)
	assert.Equal(t, "A", opps[0].BuyDex)
	assert.Equal(t, "C", opps[0].SellDex)
}

func TestScan_SpreadProperty(t *testing.T) {
	prices := [][]float64{
		{100, 100.5, 99},
		{50, 60, 55},
		{1, 1, 1.02},
		{3000, 2900, 3100},
	}
	for _, row := range prices {
		m := New("ETH", "ETH", []string{"A", "B", "C"}, []string{"X"})
		lo, hi := row[0], row[0]
		for i, p := range row {
			m.UpdatePrice([]string{"A", "B", "C"}[i], "X", p)
			lo = min(lo, p)
			hi = max(hi, p)
		}
		for _, th := range []float64{0, 0.5, 1, 2, 5, 10, 25} {
			opps := Scan(m.Snapshot(), th)
			want := hi > lo && (hi-lo)/lo*100 >= th
			if want {
				require.Len(t, opps, 1, "prices %v threshold %v", row, th)
				assert.Less(t, opps[0].BuyPrice, opps[0].SellPrice)
			} else {
				assert.Empty(t, opps, "prices %v threshold %v", row, th)
			}
		}
	}
}

func TestScanPairwise_EmitsEveryQualifyingPair(t *testing.T) {
	m := New("ETH", "ETH", []string{"A", "B", "C"}, []string{"WETH"})
	m.UpdatePrice("A", "WETH", 100)
	m.UpdatePrice("B", "WETH", 103)
	m.UpdatePrice("C", "WETH", 101)

	opps := ScanPairwise(m.Snapshot(), 1.5)
	require.Len(t, opps, 2)
	for _, o := range opps {
		assert.Less(t, o.BuyPrice, o.SellPrice)
		assert.GreaterOrEqual(t, o.SpreadPct, 1.5)
	}
	assert.Equal(t, "A", opps[0].BuyDex)
	assert.Equal(t, "B", opps[0].SellDex)
	assert.Equal(t, "C", opps[1].BuyDex)
	assert.Equal(t, "B", opps[1].SellDex)
}

func TestScanChain_UnknownChain(t *testing.T) {
	assert.Nil(t, NewRegistry().ScanChain("SOL", 0, false))
}

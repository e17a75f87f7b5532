package matrix

import "github.com/alanyoungcy/fusionbot/internal/domain"

// Scan finds, per asset, the cheapest and the most expensive DEX and emits an
// opportunity when the spread between them reaches thresholdPct. Zero cells
// are ignored. Ties go to the DEX listed first.
func Scan(snap domain.MatrixSnapshot, thresholdPct float64) []domain.ArbitrageOpportunity {
	var out []domain.ArbitrageOpportunity
	for j, asset := range snap.Assets {
		buy, sell := -1, -1
		for i := range snap.Dexes {
			p := cellPrice(snap, i, j)
			if p <= 0 {
				continue
			}
			if buy < 0 || p < cellPrice(snap, buy, j) {
				buy = i
			}
			if sell < 0 || p > cellPrice(snap, sell, j) {
				sell = i
			}
		}
		if buy < 0 {
			continue
		}
		if opp, ok := spread(snap, asset, j, buy, sell, thresholdPct); ok {
			out = append(out, opp)
		}
	}
	return out
}

// ScanPairwise applies the Scan rule to every unordered pair of DEXes and
// emits one opportunity per qualifying pair, buying on the cheaper side.
func ScanPairwise(snap domain.MatrixSnapshot, thresholdPct float64) []domain.ArbitrageOpportunity {
	var out []domain.ArbitrageOpportunity
	for j, asset := range snap.Assets {
		for a := 0; a < len(snap.Dexes); a++ {
			pa := cellPrice(snap, a, j)
			if pa <= 0 {
				continue
			}
			for b := a + 1; b < len(snap.Dexes); b++ {
				pb := cellPrice(snap, b, j)
				if pb <= 0 {
					continue
				}
				buy, sell := a, b
				if pb < pa {
					buy, sell = b, a
				}
				if opp, ok := spread(snap, asset, j, buy, sell, thresholdPct); ok {
					out = append(out, opp)
				}
			}
		}
	}
	return out
}

func spread(snap domain.MatrixSnapshot, asset string, j, buy, sell int, thresholdPct float64) (domain.ArbitrageOpportunity, bool) {
	buyCell := snap.Cells[buy][j]
	sellCell := snap.Cells[sell][j]
	if sellCell.Price <= buyCell.Price {
		return domain.ArbitrageOpportunity{}, false
	}
	pct := (sellCell.Price - buyCell.Price) / buyCell.Price * 100
	if pct < thresholdPct {
		return domain.ArbitrageOpportunity{}, false
	}
	ts := buyCell.Timestamp
	if sellCell.Timestamp.After(ts) {
		ts = sellCell.Timestamp
	}
	return domain.ArbitrageOpportunity{
		MatrixID:  snap.ID,
		Chain:     snap.Chain,
		Asset:     asset,
		BuyDex:    snap.Dexes[buy],
		SellDex:   snap.Dexes[sell],
		BuyPrice:  buyCell.Price,
		SellPrice: sellCell.Price,
		SpreadPct: pct,
		Timestamp: ts,
	}, true
}

func cellPrice(snap domain.MatrixSnapshot, i, j int) float64 {
	if i >= len(snap.Cells) || j >= len(snap.Cells[i]) {
		return 0
	}
	return snap.Cells[i][j].Price
}

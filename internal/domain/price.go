package domain

import "time"

// Asset is a tradable token on one chain. Assets are loaded from
// configuration and never change at runtime.
type Asset struct {
	Symbol   string
	Address  string
	Decimals uint8
}

// PriceObservation is the latest price a DEX reported for one asset.
// A zero Price means the cell has not been written yet.
type PriceObservation struct {
	Dex       string    `json:"dex"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// MatrixSnapshot is a point-in-time copy of one chain's price grid.
// Cells[i][j] is the observation of Dexes[i] for Assets[j].
type MatrixSnapshot struct {
	ID      string               `json:"id"`
	Chain   string               `json:"chain"`
	Dexes   []string             `json:"dexes"`
	Assets  []string             `json:"assets"`
	Cells   [][]PriceObservation `json:"cells"`
	TakenAt time.Time            `json:"taken_at"`
}

// Dex is a UniswapV2-style venue on one chain.
type Dex struct {
	Name   string
	Router string
}

// Market describes what is priced on one chain: every asset is quoted in
// Quote on every DEX.
type Market struct {
	Chain  string
	Quote  Asset
	Assets []Asset
	Dexes  []Dex
}

// Asset returns the asset with the given symbol.
func (m Market) Asset(symbol string) (Asset, bool) {
	for _, a := range m.Assets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

// Dex returns the venue with the given name.
func (m Market) Dex(name string) (Dex, bool) {
	for _, d := range m.Dexes {
		if d.Name == name {
			return d, true
		}
	}
	return Dex{}, false
}

// DexNames lists venue names in configuration order.
func (m Market) DexNames() []string {
	out := make([]string, len(m.Dexes))
	for i, d := range m.Dexes {
		out[i] = d.Name
	}
	return out
}

// AssetSymbols lists asset symbols in configuration order.
func (m Market) AssetSymbols() []string {
	out := make([]string, len(m.Assets))
	for i, a := range m.Assets {
		out[i] = a.Symbol
	}
	return out
}

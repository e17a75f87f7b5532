package domain

import (
	"math/big"
	"time"
)

// ArbitrageOpportunity is a cross-DEX spread found in a matrix snapshot.
// Opportunities are derived fresh on every scan and are not deduplicated.
type ArbitrageOpportunity struct {
	MatrixID          string    `json:"matrix_id"`
	Chain             string    `json:"chain"`
	Asset             string    `json:"asset"`
	BuyDex            string    `json:"buy_dex"`
	SellDex           string    `json:"sell_dex"`
	BuyPrice          float64   `json:"buy_price"`
	SellPrice         float64   `json:"sell_price"`
	SpreadPct         float64   `json:"spread_pct"`
	Timestamp         time.Time `json:"timestamp"`
	FlashloanProvider string    `json:"flashloan_provider,omitempty"`
	FlashloanAmount   *big.Int  `json:"flashloan_amount,omitempty"`

	// Execution routing, filled in by the chain scanner.
	AssetAddress string `json:"asset_address,omitempty"`
	QuoteAddress string `json:"quote_address,omitempty"`
	Decimals     uint8  `json:"decimals,omitempty"`
	BuyRouter    string `json:"buy_router,omitempty"`
	SellRouter   string `json:"sell_router,omitempty"`
}

// LiquidationEvent reports an under-collateralised borrower. It is produced
// by a protocol scanner and consumed exactly once by the execution pipeline.
type LiquidationEvent struct {
	Protocol      string    `json:"protocol"`
	Chain         string    `json:"chain"`
	Account       string    `json:"account"`
	DebtUSD       float64   `json:"debt_usd"`
	CollateralUSD float64   `json:"collateral_usd"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Opportunity is the unit of work handed to the execution pipeline. Exactly
// one of Arbitrage or Liquidation is set.
type Opportunity struct {
	Arbitrage   *ArbitrageOpportunity
	Liquidation *LiquidationEvent
}

// Kind reports which stream produced the opportunity.
func (o Opportunity) Kind() ExecutionKind {
	if o.Liquidation != nil {
		return ExecutionLiquidation
	}
	return ExecutionArbitrage
}

// Key identifies the target of an opportunity for exclusivity checks:
// "protocol:account" for liquidations and "chain:asset:buy:sell" for spreads.
func (o Opportunity) Key() string {
	switch {
	case o.Liquidation != nil:
		return o.Liquidation.Protocol + ":" + o.Liquidation.Account
	case o.Arbitrage != nil:
		a := o.Arbitrage
		return a.Chain + ":" + a.Asset + ":" + a.BuyDex + ":" + a.SellDex
	default:
		return ""
	}
}

// ArbitrageProtocol is the tunables/execution-log name of the spread scanner
// for a chain, e.g. "arb:ETH".
func ArbitrageProtocol(chain string) string {
	return "arb:" + chain
}

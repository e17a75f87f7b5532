package executor

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

const (
	// closeFactor is the share of a borrower's debt one liquidation repays.
	closeFactor = 0.5
	// liquidationBonus is the collateral premium paid to the liquidator.
	liquidationBonus = 0.08
)

// EstimateProfit returns the quote-denominated profit expected from opp
// before gas.
func EstimateProfit(opp domain.Opportunity) float64 {
	switch {
	case opp.Liquidation != nil:
		return estimateLiquidation(*opp.Liquidation)
	case opp.Arbitrage != nil:
		return estimateArbitrage(*opp.Arbitrage)
	default:
		return 0
	}
}

// estimateArbitrage is the loan size in tokens times the price gap.
func estimateArbitrage(a domain.ArbitrageOpportunity) float64 {
	if a.FlashloanAmount == nil || a.FlashloanAmount.Sign() <= 0 || a.SellPrice <= a.BuyPrice {
		return 0
	}
	tokens := decimal.NewFromBigInt(a.FlashloanAmount, -int32(a.Decimals))
	gap := decimal.NewFromFloat(a.SellPrice).Sub(decimal.NewFromFloat(a.BuyPrice))
	return tokens.Mul(gap).InexactFloat64()
}

// estimateLiquidation is the bonus on the repayable debt, capped by the
// seizable collateral.
func estimateLiquidation(ev domain.LiquidationEvent) float64 {
	repay := math.Min(ev.DebtUSD*closeFactor, ev.CollateralUSD)
	if repay <= 0 {
		return 0
	}
	return repay * liquidationBonus
}

// notional is the quote value borrowed for an arbitrage.
func notional(a domain.ArbitrageOpportunity) float64 {
	if a.FlashloanAmount == nil {
		return 0
	}
	tokens := decimal.NewFromBigInt(a.FlashloanAmount, -int32(a.Decimals))
	return tokens.Mul(decimal.NewFromFloat(a.BuyPrice)).InexactFloat64()
}

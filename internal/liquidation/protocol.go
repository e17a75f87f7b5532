// Package liquidation watches lending-protocol borrowers and reports the
// under-collateralised ones to the execution pipeline.
package liquidation

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Protocol checks one lending protocol's accounts.
type Protocol interface {
	Name() string
	Chain() string
	// CheckAccount reports whether account can be liquidated and, if so,
	// its debt and collateral valued in USD.
	CheckAccount(ctx context.Context, caller bind.ContractCaller, account common.Address) (domain.LiquidationEvent, bool, error)
}

// scaledUSD returns amount × price / 10^exp.
func scaledUSD(amount, price *big.Int, exp int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).
		Mul(decimal.NewFromBigInt(price, 0)).
		Shift(-exp)
}

// scaled returns amount / 10^exp.
func scaled(amount *big.Int, exp int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -exp)
}

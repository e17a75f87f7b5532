package liquidation

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm"
)

// aaveBaseDecimals is the precision of Aave v3's USD base currency.
const aaveBaseDecimals = 8

// healthFactorOne is a health factor of 1.0 in Aave's 1e18 fixed point.
var healthFactorOne = big.NewInt(1e18)

// Aave checks an Aave v3 pool. An account is liquidatable when its health
// factor drops below 1.
type Aave struct {
	name  string
	chain string
	pool  common.Address
	now   func() time.Time
}

// NewAave creates a checker for the pool at addr.
func NewAave(name, chain string, pool common.Address) *Aave {
	return &Aave{name: name, chain: chain, pool: pool, now: time.Now}
}

func (a *Aave) Name() string  { return a.name }
func (a *Aave) Chain() string { return a.chain }

func (a *Aave) CheckAccount(ctx context.Context, caller bind.ContractCaller, account common.Address) (domain.LiquidationEvent, bool, error) {
	out, err := evm.Call(ctx, caller, a.pool, evm.AavePool, "getUserAccountData", account)
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	collateral, err := evm.BigAt(out, 0, "getUserAccountData")
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	debt, err := evm.BigAt(out, 1, "getUserAccountData")
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	health, err := evm.BigAt(out, 5, "getUserAccountData")
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	if debt.Sign() == 0 || health.Cmp(healthFactorOne) >= 0 {
		return domain.LiquidationEvent{}, false, nil
	}

	return domain.LiquidationEvent{
		Protocol:      a.name,
		Chain:         a.chain,
		Account:       account.Hex(),
		DebtUSD:       scaled(debt, aaveBaseDecimals).InexactFloat64(),
		CollateralUSD: scaled(collateral, aaveBaseDecimals).InexactFloat64(),
		DetectedAt:    a.now().UTC(),
	}, true, nil
}

var _ Protocol = (*Aave)(nil)

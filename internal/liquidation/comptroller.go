package liquidation

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm"
)

// Comptroller checks Compound-style markets (Compound v2, Venus). An
// account is liquidatable when getAccountLiquidity reports a shortfall.
// Oracle prices are scaled by 1e(36 - underlying decimals), so
// amount × price / 1e36 is always USD.
type Comptroller struct {
	name        string
	chain       string
	comptroller common.Address

	mu     sync.Mutex
	oracle common.Address
	now    func() time.Time
}

// NewComptroller creates a checker. A zero oracle address is resolved from
// comptroller.oracle() on first use.
func NewComptroller(name, chain string, comptroller, oracle common.Address) *Comptroller {
	return &Comptroller{
		name:        name,
		chain:       chain,
		comptroller: comptroller,
		oracle:      oracle,
		now:         time.Now,
	}
}

func (c *Comptroller) Name() string  { return c.name }
func (c *Comptroller) Chain() string { return c.chain }

var expScale = big.NewInt(1e18)

func (c *Comptroller) CheckAccount(ctx context.Context, caller bind.ContractCaller, account common.Address) (domain.LiquidationEvent, bool, error) {
	out, err := evm.Call(ctx, caller, c.comptroller, evm.Comptroller, "getAccountLiquidity", account)
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	code, err := evm.BigAt(out, 0, "getAccountLiquidity")
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	if code.Sign() != 0 {
		return domain.LiquidationEvent{}, false, fmt.Errorf("%s: getAccountLiquidity(%s): error code %s", c.name, account.Hex(), code)
	}
	shortfall, err := evm.BigAt(out, 2, "getAccountLiquidity")
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	if shortfall.Sign() <= 0 {
		return domain.LiquidationEvent{}, false, nil
	}

	out, err = evm.Call(ctx, caller, c.comptroller, evm.Comptroller, "getAssetsIn", account)
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}
	markets, ok := out[0].([]common.Address)
	if !ok {
		return domain.LiquidationEvent{}, false, fmt.Errorf("%s: getAssetsIn: unexpected output %T", c.name, out[0])
	}

	oracle, err := c.oracleAddress(ctx, caller)
	if err != nil {
		return domain.LiquidationEvent{}, false, err
	}

	debt, collateral := decimal.Zero, decimal.Zero
	for _, market := range markets {
		d, s, err := c.position(ctx, caller, oracle, market, account)
		if err != nil {
			return domain.LiquidationEvent{}, false, fmt.Errorf("%s: market %s: %w", c.name, market.Hex(), err)
		}
		debt = debt.Add(d)
		collateral = collateral.Add(s)
	}

	return domain.LiquidationEvent{
		Protocol:      c.name,
		Chain:         c.chain,
		Account:       account.Hex(),
		DebtUSD:       debt.InexactFloat64(),
		CollateralUSD: collateral.InexactFloat64(),
		DetectedAt:    c.now().UTC(),
	}, true, nil
}

// position values the account's borrow and supply in one market.
func (c *Comptroller) position(ctx context.Context, caller bind.ContractCaller, oracle, market, account common.Address) (debt, supply decimal.Decimal, err error) {
	borrow, err := evm.CallBig(ctx, caller, market, evm.CToken, "borrowBalanceStored", account)
	if err != nil {
		return debt, supply, err
	}
	shares, err := evm.CallBig(ctx, caller, market, evm.CToken, "balanceOf", account)
	if err != nil {
		return debt, supply, err
	}
	rate, err := evm.CallBig(ctx, caller, market, evm.CToken, "exchangeRateStored")
	if err != nil {
		return debt, supply, err
	}
	price, err := evm.CallBig(ctx, caller, oracle, evm.PriceOracle, "getUnderlyingPrice", market)
	if err != nil {
		return debt, supply, err
	}

	underlying := new(big.Int).Mul(shares, rate)
	underlying.Quo(underlying, expScale)

	return scaledUSD(borrow, price, 36), scaledUSD(underlying, price, 36), nil
}

func (c *Comptroller) oracleAddress(ctx context.Context, caller bind.ContractCaller) (common.Address, error) {
	c.mu.Lock()
	oracle := c.oracle
	c.mu.Unlock()
	if oracle != (common.Address{}) {
		return oracle, nil
	}

	out, err := evm.Call(ctx, caller, c.comptroller, evm.Comptroller, "oracle")
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: oracle: unexpected output %T", c.name, out[0])
	}
	c.mu.Lock()
	c.oracle = addr
	c.mu.Unlock()
	return addr, nil
}

var _ Protocol = (*Comptroller)(nil)

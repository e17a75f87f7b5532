package liquidation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/platform/evm"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm/evmtest"
)

// e returns n × 10^exp.
func e(n int64, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

var (
	comptrollerAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	oracleAddr      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	marketA         = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	marketB         = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	aavePoolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	underwater      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	healthy         = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	broken          = common.HexToAddress("0x0000000000000000000000000000000000000b03")
)

// comptrollerFixture prices marketA at $1 and marketB at $2. The underwater
// account borrows 100 A and supplies 1000 B.
func comptrollerFixture() *evmtest.Caller {
	c := evmtest.NewCaller()
	c.Handle(comptrollerAddr, evm.Comptroller, "getAccountLiquidity", func(args []any) ([]any, error) {
		switch args[0].(common.Address) {
		case underwater:
			return []any{big.NewInt(0), big.NewInt(0), e(5, 18)}, nil
		case broken:
			return nil, errors.New("boom")
		default:
			return []any{big.NewInt(0), e(10, 18), big.NewInt(0)}, nil
		}
	})
	c.Returns(comptrollerAddr, evm.Comptroller, "getAssetsIn", []common.Address{marketA, marketB})
	c.Returns(comptrollerAddr, evm.Comptroller, "oracle", oracleAddr)

	c.Returns(marketA, evm.CToken, "borrowBalanceStored", e(100, 18))
	c.Returns(marketA, evm.CToken, "balanceOf", big.NewInt(0))
	c.Returns(marketA, evm.CToken, "exchangeRateStored", e(2, 26))

	c.Returns(marketB, evm.CToken, "borrowBalanceStored", big.NewInt(0))
	c.Returns(marketB, evm.CToken, "balanceOf", e(50000, 8))
	c.Returns(marketB, evm.CToken, "exchangeRateStored", e(2, 26))

	c.Handle(oracleAddr, evm.PriceOracle, "getUnderlyingPrice", func(args []any) ([]any, error) {
		if args[0].(common.Address) == marketB {
			return []any{e(2, 18)}, nil
		}
		return []any{e(1, 18)}, nil
	})
	return c
}

func TestComptroller_ShortfallIsLiquidatable(t *testing.T) {
	c := comptrollerFixture()
	p := NewComptroller("venus", "BSC", comptrollerAddr, common.Address{})

	ev, ok, err := p.CheckAccount(context.Background(), c, underwater)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "venus", ev.Protocol)
	assert.Equal(t, "BSC", ev.Chain)
	assert.Equal(t, underwater.Hex(), ev.Account)
	assert.InDelta(t, 100.0, ev.DebtUSD, 1e-9)
	assert.InDelta(t, 2000.0, ev.CollateralUSD, 1e-9)
	assert.False(t, ev.DetectedAt.IsZero())

	_, _, err = p.CheckAccount(context.Background(), c, underwater)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Calls("oracle"), "oracle address is cached")
}

func TestComptroller_HealthyAccount(t *testing.T) {
	c := comptrollerFixture()
	p := NewComptroller("compound", "ETH", comptrollerAddr, oracleAddr)

	_, ok, err := p.CheckAccount(context.Background(), c, healthy)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Calls("getAssetsIn"))
}

func TestComptroller_ErrorCode(t *testing.T) {
	c := evmtest.NewCaller()
	c.Returns(comptrollerAddr, evm.Comptroller, "getAccountLiquidity", big.NewInt(3), big.NewInt(0), big.NewInt(0))
	p := NewComptroller("venus", "BSC", comptrollerAddr, oracleAddr)

	_, _, err := p.CheckAccount(context.Background(), c, underwater)
	assert.Error(t, err)
}

func aaveFixture() *evmtest.Caller {
	c := evmtest.NewCaller()
	c.Handle(aavePoolAddr, evm.AavePool, "getUserAccountData", func(args []any) ([]any, error) {
		zero := big.NewInt(0)
		switch args[0].(common.Address) {
		case underwater:
			return []any{e(150, 8), e(120, 8), zero, zero, zero, e(9, 17)}, nil
		case broken:
			return nil, errors.New("boom")
		default:
			return []any{e(300, 8), e(100, 8), zero, zero, zero, e(15, 17)}, nil
		}
	})
	return c
}

func TestAave_HealthFactorBelowOne(t *testing.T) {
	p := NewAave("aave", "ETH", aavePoolAddr)
	c := aaveFixture()

	ev, ok, err := p.CheckAccount(context.Background(), c, underwater)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 120.0, ev.DebtUSD, 1e-9)
	assert.InDelta(t, 150.0, ev.CollateralUSD, 1e-9)

	_, ok, err = p.CheckAccount(context.Background(), c, healthy)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = p.CheckAccount(context.Background(), c, broken)
	assert.Error(t, err)
}

func TestAave_NoDebtIsNotLiquidatable(t *testing.T) {
	c := evmtest.NewCaller()
	zero := big.NewInt(0)
	c.Returns(aavePoolAddr, evm.AavePool, "getUserAccountData", e(1, 8), zero, zero, zero, zero, zero)

	_, ok, err := NewAave("aave", "ETH", aavePoolAddr).CheckAccount(context.Background(), c, healthy)
	require.NoError(t, err)
	assert.False(t, ok)
}

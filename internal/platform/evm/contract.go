package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Call invokes a view method and returns its decoded outputs.
func Call(ctx context.Context, caller bind.ContractCaller, addr common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	contract := bind.NewBoundContract(addr, parsed, caller, nil, nil)
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("evm: call %s on %s: %w", method, addr.Hex(), err)
	}
	return out, nil
}

// CallBig invokes a view method whose first output is a uint256.
func CallBig(ctx context.Context, caller bind.ContractCaller, addr common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := Call(ctx, caller, addr, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	return BigAt(out, 0, method)
}

// BigAt extracts the i-th output as a *big.Int.
func BigAt(out []any, i int, method string) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("evm: %s: missing output %d", method, i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: %s: output %d is %T, not uint256", method, i, out[i])
	}
	return v, nil
}

// BalanceOf returns the ERC-20 balance of holder in token.
func BalanceOf(ctx context.Context, caller bind.ContractCaller, token, holder common.Address) (*big.Int, error) {
	return CallBig(ctx, caller, token, ERC20, "balanceOf", holder)
}

// AmountsOut quotes a swap of amountIn along path on a UniswapV2-style router.
func AmountsOut(ctx context.Context, caller bind.ContractCaller, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	out, err := Call(ctx, caller, router, RouterV2, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("evm: getAmountsOut: empty result")
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: getAmountsOut: unexpected output %T", out[0])
	}
	return amounts, nil
}

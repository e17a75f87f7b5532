package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/fusionbot/internal/crypto"
	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/platform/evm"
)

// ErrReverted is returned when a submitted transaction was mined with a
// failure status.
var ErrReverted = errors.New("executor: transaction reverted")

// Receipt is what the pipeline keeps from a mined transaction.
type Receipt struct {
	TxHash  string
	GasUsed uint64
}

// Submitter sends opportunities to the on-chain executor contract.
type Submitter interface {
	ExecuteArbitrage(ctx context.Context, opp domain.ArbitrageOpportunity) (Receipt, error)
	ExecuteLiquidation(ctx context.Context, ev domain.LiquidationEvent) (Receipt, error)
}

// Backend runs a call against an RPC endpoint chosen by the provider pool.
type Backend interface {
	Do(ctx context.Context, fn func(*ethclient.Client) error) error
}

// ContractSubmitter signs and submits executor contract calls through the
// provider pool of each chain.
type ContractSubmitter struct {
	signer    *crypto.Signer
	backends  map[string]Backend
	contracts map[string]common.Address
	targets   map[string]common.Address
	gasLimit  uint64
}

// NewContractSubmitter creates a submitter. backends and contracts are keyed
// by chain id; targets maps a liquidation protocol name to the address the
// contract liquidates against.
func NewContractSubmitter(
	signer *crypto.Signer,
	backends map[string]Backend,
	contracts map[string]common.Address,
	targets map[string]common.Address,
	gasLimit uint64,
) *ContractSubmitter {
	return &ContractSubmitter{
		signer:    signer,
		backends:  backends,
		contracts: contracts,
		targets:   targets,
		gasLimit:  gasLimit,
	}
}

var _ Submitter = (*ContractSubmitter)(nil)

// ExecuteArbitrage flash-borrows the loan, buys on the cheaper router and
// sells on the dearer one in a single contract call.
func (s *ContractSubmitter) ExecuteArbitrage(ctx context.Context, opp domain.ArbitrageOpportunity) (Receipt, error) {
	if opp.FlashloanAmount == nil || opp.FlashloanProvider == "" {
		return Receipt{}, fmt.Errorf("executor: %s: opportunity has no flash loan", opp.Asset)
	}
	asset := common.HexToAddress(opp.AssetAddress)
	quote := common.HexToAddress(opp.QuoteAddress)

	routers := []common.Address{common.HexToAddress(opp.SellRouter), common.HexToAddress(opp.BuyRouter)}
	paths := [][]common.Address{{asset, quote}, {quote, asset}}
	amountsIn := []*big.Int{opp.FlashloanAmount, big.NewInt(0)}
	amountsOutMin := []*big.Int{big.NewInt(0), big.NewInt(0)}

	return s.transact(ctx, opp.Chain, "executeArbitrage",
		common.HexToAddress(opp.FlashloanProvider), asset, opp.FlashloanAmount,
		routers, paths, amountsIn, amountsOutMin,
	)
}

// ExecuteLiquidation asks the contract to liquidate account on the protocol.
func (s *ContractSubmitter) ExecuteLiquidation(ctx context.Context, ev domain.LiquidationEvent) (Receipt, error) {
	target, ok := s.targets[ev.Protocol]
	if !ok {
		return Receipt{}, fmt.Errorf("executor: no liquidation target for %s", ev.Protocol)
	}
	return s.transact(ctx, ev.Chain, "executeLiquidation", target, common.HexToAddress(ev.Account))
}

func (s *ContractSubmitter) transact(ctx context.Context, chain, method string, args ...any) (Receipt, error) {
	backend, ok := s.backends[chain]
	if !ok {
		return Receipt{}, fmt.Errorf("executor: %s: %w", chain, domain.ErrNoProvider)
	}
	contract, ok := s.contracts[chain]
	if !ok {
		return Receipt{}, fmt.Errorf("executor: no executor contract on %s", chain)
	}

	var tx *types.Transaction
	err := backend.Do(ctx, func(c *ethclient.Client) error {
		chainID, err := c.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("executor: chain id: %w", err)
		}
		opts, err := s.signer.TransactOpts(ctx, chainID, s.gasLimit)
		if err != nil {
			return err
		}
		if opts.GasPrice, err = c.SuggestGasPrice(ctx); err != nil {
			return fmt.Errorf("executor: gas price: %w", err)
		}

		bound := bind.NewBoundContract(contract, evm.Executor, c, c, c)
		if tx, err = bound.Transact(opts, method, args...); err != nil {
			return fmt.Errorf("executor: %s: %w", method, err)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	rcpt := Receipt{TxHash: tx.Hash().Hex()}

	// The receipt lookup may land on another provider.
	err = backend.Do(ctx, func(c *ethclient.Client) error {
		receipt, err := bind.WaitMined(ctx, c, tx)
		if err != nil {
			return fmt.Errorf("executor: wait mined %s: %w", rcpt.TxHash, err)
		}
		rcpt.GasUsed = receipt.GasUsed
		if receipt.Status != types.ReceiptStatusSuccessful {
			return ErrReverted
		}
		return nil
	})
	return rcpt, err
}

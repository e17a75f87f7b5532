// Package wallet reports the bot wallet balance and sweeps profits to the
// configured profit wallet.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fusionbot/internal/crypto"
	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// ErrNothingToSweep is returned when the balance does not cover the reserve
// plus the transfer fee.
var ErrNothingToSweep = errors.New("wallet: balance below reserve")

const transferGas = 21_000

// Backend runs a call against an RPC endpoint chosen by the provider pool.
type Backend interface {
	Do(ctx context.Context, fn func(*ethclient.Client) error) error
}

// Status is the wallet view served to the dashboard.
type Status struct {
	Chain      string `json:"chain"`
	Address    string `json:"address"`
	BalanceWei string `json:"balance_wei"`
	Balance    string `json:"balance"`
}

// Transfer is the outcome of a sweep.
type Transfer struct {
	Chain     string `json:"chain"`
	To        string `json:"to"`
	AmountWei string `json:"amount_wei"`
	TxHash    string `json:"tx_hash,omitempty"`
	DryRun    bool   `json:"dry_run"`
}

// Manager reads balances and sweeps profits on every configured chain.
type Manager struct {
	signer   *crypto.Signer
	backends map[string]Backend
	profit   common.Address
	reserve  *big.Int
	dryRun   bool
	logger   *slog.Logger
}

// NewManager creates a Manager. reserve is left in the wallet on every sweep
// to pay for gas.
func NewManager(signer *crypto.Signer, backends map[string]Backend, profitWallet common.Address, reserve *big.Int, dryRun bool, logger *slog.Logger) *Manager {
	if reserve == nil {
		reserve = new(big.Int)
	}
	return &Manager{
		signer:   signer,
		backends: backends,
		profit:   profitWallet,
		reserve:  reserve,
		dryRun:   dryRun,
		logger:   logger.With(slog.String("component", "wallet")),
	}
}

// Address is the bot wallet address.
func (m *Manager) Address() common.Address { return m.signer.Address() }

// Status returns the native balance on chain.
func (m *Manager) Status(ctx context.Context, chain string) (Status, error) {
	backend, err := m.backend(chain)
	if err != nil {
		return Status{}, err
	}
	var bal *big.Int
	err = backend.Do(ctx, func(c *ethclient.Client) error {
		var err error
		bal, err = c.BalanceAt(ctx, m.signer.Address(), nil)
		return err
	})
	if err != nil {
		return Status{}, fmt.Errorf("wallet: balance on %s: %w", chain, err)
	}
	return Status{
		Chain:      chain,
		Address:    m.signer.Address().Hex(),
		BalanceWei: bal.String(),
		Balance:    decimal.NewFromBigInt(bal, -18).String(),
	}, nil
}

// Sweep sends the balance above reserve and the transfer fee to the profit
// wallet. In dry-run mode the amount is computed and logged only.
func (m *Manager) Sweep(ctx context.Context, chain string) (Transfer, error) {
	if m.profit == (common.Address{}) {
		return Transfer{}, errors.New("wallet: no profit wallet configured")
	}
	backend, err := m.backend(chain)
	if err != nil {
		return Transfer{}, err
	}

	out := Transfer{Chain: chain, To: m.profit.Hex(), DryRun: m.dryRun}
	err = backend.Do(ctx, func(c *ethclient.Client) error {
		from := m.signer.Address()
		bal, err := c.BalanceAt(ctx, from, nil)
		if err != nil {
			return fmt.Errorf("wallet: balance: %w", err)
		}
		gasPrice, err := c.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("wallet: gas price: %w", err)
		}
		fee := new(big.Int).Mul(gasPrice, big.NewInt(transferGas))
		amount := new(big.Int).Sub(bal, m.reserve)
		amount.Sub(amount, fee)
		if amount.Sign() <= 0 {
			return ErrNothingToSweep
		}
		out.AmountWei = amount.String()
		if m.dryRun {
			return nil
		}

		chainID, err := c.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("wallet: chain id: %w", err)
		}
		nonce, err := c.PendingNonceAt(ctx, from)
		if err != nil {
			return fmt.Errorf("wallet: nonce: %w", err)
		}
		tx, err := m.signer.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &m.profit,
			Value:    amount,
			Gas:      transferGas,
			GasPrice: gasPrice,
		}), chainID)
		if err != nil {
			return err
		}
		if err := c.SendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("wallet: send: %w", err)
		}
		out.TxHash = tx.Hash().Hex()
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	m.logger.InfoContext(ctx, "profit sweep",
		slog.String("chain", chain),
		slog.String("amount_wei", out.AmountWei),
		slog.String("tx_hash", out.TxHash),
		slog.Bool("dry_run", out.DryRun),
	)
	return out, nil
}

func (m *Manager) backend(chain string) (Backend, error) {
	b, ok := m.backends[chain]
	if !ok {
		return nil, fmt.Errorf("wallet: %s: %w", chain, domain.ErrNoProvider)
	}
	return b, nil
}

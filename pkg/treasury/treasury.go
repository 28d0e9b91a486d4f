// Package treasury moves the treasury share of a claim to a fixed destination
// wallet. The amount lives on the claim record; no record of its own.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/emberlabs/furnace/pkg/ledger"
)

// Ledger is the subset of the ledger client the treasury transfer uses.
type Ledger interface {
	WalletAddress() solana.PublicKey
	Submit(ctx context.Context, op string, tx *solana.Transaction) (solana.Signature, error)
}

type Config struct {
	Logger *slog.Logger
	Ledger Ledger

	// Destination is the treasury wallet.
	Destination solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Destination.IsZero() {
		return errors.New("treasury destination is required")
	}
	return nil
}

type Transferer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Transferer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transferer{log: cfg.Logger, cfg: cfg}, nil
}

// Transfer sends lamports from the operating wallet to the treasury and waits
// for confirmation. Errors propagate unchanged to the caller.
func (t *Transferer) Transfer(ctx context.Context, lamports uint64) (solana.Signature, error) {
	if lamports == 0 {
		return solana.Signature{}, errors.New("treasury transfer amount must be greater than 0")
	}

	wallet := t.cfg.Ledger.WalletAddress()
	ix := system.NewTransferInstruction(lamports, wallet, t.cfg.Destination).Build()

	// The blockhash is refreshed at submission time.
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		solana.Hash{},
		solana.TransactionPayer(wallet),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build treasury transfer: %w", err)
	}

	sig, err := t.cfg.Ledger.Submit(ctx, "treasury", tx)
	if err != nil {
		return solana.Signature{}, err
	}

	t.log.Info("treasury: transfer confirmed",
		"signature", sig,
		"amount_sol", ledger.LamportsToSOL(lamports),
		"destination", t.cfg.Destination)
	return sig, nil
}

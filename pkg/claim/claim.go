// Package claim executes the creator-fee claim and settles it from measured
// wallet-balance deltas. The pre-claim estimate never reaches any persisted
// amount.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/emberlabs/furnace/pkg/ledger"
	"github.com/emberlabs/furnace/pkg/metrics"
	"github.com/emberlabs/furnace/pkg/pipeline"
)

// Ledger is the subset of the ledger client the claim stage uses.
type Ledger interface {
	WalletAddress() solana.PublicKey
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	SignAndSend(ctx context.Context, op, serializedTx string) (solana.Signature, error)
}

// TxBuilder builds the unsigned claim transaction.
type TxBuilder interface {
	BuildClaimTransaction(ctx context.Context, wallet string) (string, error)
}

// Store persists claim records.
type Store interface {
	InsertClaim(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error)
	MarkClaimConfirmed(ctx context.Context, id int64) error
	MarkClaimFailed(ctx context.Context, id int64, msg string) error
}

type Config struct {
	Logger *slog.Logger
	Ledger Ledger
	Trade  TxBuilder
	Store  Store

	// TreasuryPercent and BuybackPercent must sum to 100.
	TreasuryPercent uint64
	BuybackPercent  uint64

	// MinReserveLamports is the balance the wallet must retain after the
	// split, covering future transaction costs.
	MinReserveLamports uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Trade == nil {
		return errors.New("transaction builder is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.TreasuryPercent+cfg.BuybackPercent != 100 {
		return fmt.Errorf("treasury and buyback percentages must sum to 100, got %d+%d",
			cfg.TreasuryPercent, cfg.BuybackPercent)
	}
	return nil
}

type Claimer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Claimer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Claimer{log: cfg.Logger, cfg: cfg}, nil
}

// Execute runs the claim: snapshot the wallet balance, submit the claim
// transaction, settle the claimed amount from the balance delta, split it and
// persist the claim row. The returned amounts are all measured.
func (c *Claimer) Execute(ctx context.Context) (*pipeline.ClaimResult, error) {
	wallet := c.cfg.Ledger.WalletAddress()

	before, err := c.cfg.Ledger.Balance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-claim balance: %w", err)
	}

	serialized, err := c.cfg.Trade.BuildClaimTransaction(ctx, wallet.String())
	if err != nil {
		return nil, fmt.Errorf("failed to build claim transaction: %w", err)
	}

	sig, err := c.cfg.Ledger.SignAndSend(ctx, "claim", serialized)
	if err != nil {
		return nil, err
	}

	after, err := c.cfg.Ledger.Balance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-claim balance: %w", err)
	}

	if after <= before {
		c.recordFailed(ctx, sig.String(), 0, pipeline.ErrNoFundsReceived.Error())
		return nil, fmt.Errorf("claim %s: %w", sig, pipeline.ErrNoFundsReceived)
	}
	claimed := after - before

	treasury, buyback := c.split(claimed, after)
	if treasury == 0 || buyback == 0 {
		c.recordFailed(ctx, sig.String(), claimed, pipeline.ErrInvalidSplit.Error())
		return nil, fmt.Errorf("claim %s settled %d lamports: %w", sig, claimed, pipeline.ErrInvalidSplit)
	}

	id, err := c.cfg.Store.InsertClaim(ctx, sig.String(), claimed, treasury, buyback)
	if err != nil {
		return nil, fmt.Errorf("failed to persist claim: %w", err)
	}
	if err := c.cfg.Store.MarkClaimConfirmed(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to confirm claim record: %w", err)
	}

	metrics.ClaimedLamportsTotal.Add(float64(claimed))
	c.log.Info("claim: settled",
		"signature", sig,
		"claimed_sol", ledger.LamportsToSOL(claimed),
		"treasury_sol", ledger.LamportsToSOL(treasury),
		"buyback_sol", ledger.LamportsToSOL(buyback))

	return &pipeline.ClaimResult{
		ClaimID:          id,
		Signature:        sig.String(),
		ClaimedLamports:  claimed,
		TreasuryLamports: treasury,
		BuybackLamports:  buyback,
	}, nil
}

// split computes the treasury and buyback shares. When distributing the full
// claimed amount would leave the wallet below the reserve, both shares shrink
// proportionally so at least MinReserveLamports stays behind.
func (c *Claimer) split(claimed, after uint64) (treasury, buyback uint64) {
	distributable := claimed
	if after < c.cfg.MinReserveLamports+claimed {
		if after <= c.cfg.MinReserveLamports {
			return 0, 0
		}
		distributable = after - c.cfg.MinReserveLamports
		c.log.Warn("claim: shrinking split to preserve reserve",
			"claimed_sol", ledger.LamportsToSOL(claimed),
			"distributable_sol", ledger.LamportsToSOL(distributable),
			"reserve_sol", ledger.LamportsToSOL(c.cfg.MinReserveLamports))
	}
	treasury = distributable * c.cfg.TreasuryPercent / 100
	buyback = distributable * c.cfg.BuybackPercent / 100
	return treasury, buyback
}

// recordFailed persists a failed claim row for audit. Best-effort: the
// original error is what the caller sees.
func (c *Claimer) recordFailed(ctx context.Context, signature string, claimed uint64, msg string) {
	id, err := c.cfg.Store.InsertClaim(ctx, signature, claimed, 0, 0)
	if err != nil {
		c.log.Warn("claim: failed to persist failed claim", "signature", signature, "error", err)
		return
	}
	if err := c.cfg.Store.MarkClaimFailed(ctx, id, msg); err != nil {
		c.log.Warn("claim: failed to mark claim failed", "signature", signature, "error", err)
	}
}

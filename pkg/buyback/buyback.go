// Package buyback spends a claim's buyback share purchasing tokens. The
// persisted spend and token quantity come from balance deltas measured around
// the buy transaction, never from the requested budget.
package buyback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/furnace/pkg/ledger"
	"github.com/emberlabs/furnace/pkg/pipeline"
)

// Ledger is the subset of the ledger client the buyback stage uses.
type Ledger interface {
	WalletAddress() solana.PublicKey
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	SignAndSend(ctx context.Context, op, serializedTx string) (solana.Signature, error)
}

// TxBuilder builds the unsigned buy transaction.
type TxBuilder interface {
	BuildBuyTransaction(ctx context.Context, wallet, mint string, lamports uint64) (string, error)
}

// Store persists buyback records.
type Store interface {
	InsertBuyback(ctx context.Context, claimID int64, signature, tokensPurchased string, solSpent uint64) (int64, error)
	MarkBuybackConfirmed(ctx context.Context, id int64) error
	MarkBuybackFailed(ctx context.Context, id int64, msg string) error
}

type Config struct {
	Logger *slog.Logger
	Ledger Ledger
	Trade  TxBuilder
	Store  Store

	// Mint is the token being bought back.
	Mint solana.PublicKey
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
	if cfg.Mint.IsZero() {
		return errors.New("token mint is required")
	}
	return nil
}

type Buyer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Buyer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Buyer{log: cfg.Logger, cfg: cfg}, nil
}

// Execute buys tokens with exactly budgetLamports, measures the actual SOL
// spent and tokens received from balance deltas, and persists a buyback row
// linked to the claim.
func (b *Buyer) Execute(ctx context.Context, claimID int64, budgetLamports uint64) (*pipeline.BuybackResult, error) {
	if budgetLamports == 0 {
		return nil, errors.New("buyback budget must be greater than 0")
	}

	wallet := b.cfg.Ledger.WalletAddress()
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(wallet, b.cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet token account: %w", err)
	}

	solBefore, err := b.cfg.Ledger.Balance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-buy balance: %w", err)
	}
	tokensBefore, err := b.cfg.Ledger.TokenBalance(ctx, tokenAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-buy token balance: %w", err)
	}

	serialized, err := b.cfg.Trade.BuildBuyTransaction(ctx, wallet.String(), b.cfg.Mint.String(), budgetLamports)
	if err != nil {
		return nil, fmt.Errorf("failed to build buy transaction: %w", err)
	}

	sig, err := b.cfg.Ledger.SignAndSend(ctx, "buyback", serialized)
	if err != nil {
		return nil, err
	}

	solAfter, err := b.cfg.Ledger.Balance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-buy balance: %w", err)
	}
	tokensAfter, err := b.cfg.Ledger.TokenBalance(ctx, tokenAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-buy token balance: %w", err)
	}

	// Actual spend includes the transaction cost.
	var spent uint64
	if solBefore > solAfter {
		spent = solBefore - solAfter
	}

	if tokensAfter <= tokensBefore {
		msg := fmt.Sprintf("buy %s confirmed but no tokens received", sig)
		b.recordFailed(ctx, claimID, sig.String(), spent, msg)
		return nil, errors.New(msg)
	}
	purchased := tokensAfter - tokensBefore

	id, err := b.cfg.Store.InsertBuyback(ctx, claimID, sig.String(), strconv.FormatUint(purchased, 10), spent)
	if err != nil {
		return nil, fmt.Errorf("failed to persist buyback: %w", err)
	}
	if err := b.cfg.Store.MarkBuybackConfirmed(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to confirm buyback record: %w", err)
	}

	display, err := b.displayAmount(ctx, purchased)
	if err != nil {
		return nil, err
	}

	b.log.Info("buyback: settled",
		"signature", sig,
		"spent_sol", ledger.LamportsToSOL(spent),
		"tokens_purchased", display)

	return &pipeline.BuybackResult{
		BuybackID:       id,
		Signature:       sig.String(),
		TokensPurchased: purchased,
		TokensDisplay:   display,
		LamportsSpent:   spent,
	}, nil
}

// displayAmount converts a raw base-unit quantity to its display-format
// decimal string using the mint's precision.
func (b *Buyer) displayAmount(ctx context.Context, raw uint64) (string, error) {
	decimals, err := b.cfg.Ledger.MintDecimals(ctx, b.cfg.Mint)
	if err != nil {
		return "", fmt.Errorf("failed to read mint decimals: %w", err)
	}
	return decimal.NewFromUint64(raw).Shift(-int32(decimals)).String(), nil
}

func (b *Buyer) recordFailed(ctx context.Context, claimID int64, signature string, spent uint64, msg string) {
	id, err := b.cfg.Store.InsertBuyback(ctx, claimID, signature, "0", spent)
	if err != nil {
		b.log.Warn("buyback: failed to persist failed buyback", "signature", signature, "error", err)
		return
	}
	if err := b.cfg.Store.MarkBuybackFailed(ctx, id, msg); err != nil {
		b.log.Warn("buyback: failed to mark buyback failed", "signature", signature, "error", err)
	}
}

// Package burn transfers purchased tokens to the incinerator address,
// destroying them permanently. Display-format amounts convert to base units by
// flooring, never rounding up.
package burn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"

	"github.com/emberlabs/furnace/pkg/metrics"
	"github.com/emberlabs/furnace/pkg/pipeline"
)

// Incinerator is the fixed destination with no controlling key. Tokens sent
// there are unrecoverable.
var Incinerator = solana.MustPublicKeyFromBase58("1nc1nerator11111111111111111111111111111111")

// Ledger is the subset of the ledger client the burn stage uses.
type Ledger interface {
	WalletAddress() solana.PublicKey
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	Submit(ctx context.Context, op string, tx *solana.Transaction) (solana.Signature, error)
}

// Store persists burn records.
type Store interface {
	InsertBurn(ctx context.Context, buybackID int64, signature, tokensBurned string) (int64, error)
	MarkBurnConfirmed(ctx context.Context, id int64) error
	MarkBurnFailed(ctx context.Context, id int64, msg string) error
}

type Config struct {
	Logger *slog.Logger
	Ledger Ledger
	Store  Store

	// Mint is the token being burned.
	Mint solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("token mint is required")
	}
	return nil
}

type Burner struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Burner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Burner{log: cfg.Logger, cfg: cfg}, nil
}

// RawAmount converts a display-format decimal string to base units given the
// mint's precision. The conversion floors: a burn may destroy slightly less
// than requested, never more. Amounts that floor to zero are rejected.
func RawAmount(display string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(display)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", display, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("token amount %q must be positive", display)
	}

	raw := d.Shift(int32(decimals)).Floor()
	if raw.IsZero() {
		return 0, fmt.Errorf("token amount %q is below the smallest unit at %d decimals", display, decimals)
	}
	bi := raw.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("token amount %q exceeds the representable range", display)
	}
	return bi.Uint64(), nil
}

// Execute transfers tokenAmount (display-format decimal string) to the
// incinerator and persists a burn row linked to the buyback. When the
// incinerator has no token account for the mint yet, the transaction carries
// the create-account instruction; subsequent burns of the same mint omit it.
func (b *Burner) Execute(ctx context.Context, buybackID int64, tokenAmount string) (*pipeline.BurnResult, error) {
	decimals, err := b.cfg.Ledger.MintDecimals(ctx, b.cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to read mint decimals: %w", err)
	}

	raw, err := RawAmount(tokenAmount, decimals)
	if err != nil {
		return nil, err
	}

	wallet := b.cfg.Ledger.WalletAddress()
	source, _, err := solana.FindAssociatedTokenAddress(wallet, b.cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(Incinerator, b.cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive incinerator token account: %w", err)
	}

	var instructions []solana.Instruction

	exists, err := b.cfg.Ledger.AccountExists(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to check incinerator token account: %w", err)
	}
	if !exists {
		b.log.Info("burn: creating incinerator token account", "account", dest, "mint", b.cfg.Mint)
		createIx, err := associatedtokenaccount.NewCreateInstruction(wallet, Incinerator, b.cfg.Mint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build create-account instruction: %w", err)
		}
		instructions = append(instructions, createIx)
	}

	transferIx := token.NewTransferInstruction(raw, source, dest, wallet, nil).Build()
	instructions = append(instructions, transferIx)

	// The blockhash is refreshed at submission time.
	tx, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to build burn transaction: %w", err)
	}

	sig, err := b.cfg.Ledger.Submit(ctx, "burn", tx)
	if err != nil {
		return nil, err
	}

	id, err := b.cfg.Store.InsertBurn(ctx, buybackID, sig.String(), tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to persist burn: %w", err)
	}
	if err := b.cfg.Store.MarkBurnConfirmed(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to confirm burn record: %w", err)
	}

	burned, _ := decimal.NewFromUint64(raw).Shift(-int32(decimals)).Float64()
	metrics.TokensBurnedTotal.Add(burned)
	b.log.Info("burn: tokens incinerated",
		"signature", sig,
		"tokens", tokenAmount,
		"raw_amount", raw)

	return &pipeline.BurnResult{
		BurnID:       id,
		Signature:    sig.String(),
		TokensBurned: tokenAmount,
	}, nil
}

// Package ledger wraps the Solana JSON-RPC client with the narrow surface the
// claim pipeline needs: balance reads, token metadata, and signed transaction
// submission with bounded retries and time-bounded confirmation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"

	"github.com/emberlabs/furnace/pkg/pipeline"
	"github.com/emberlabs/furnace/utils/pkg/retry"
)

const (
	// LamportsPerSOL is the number of base units in one SOL.
	LamportsPerSOL = 1_000_000_000

	confirmPollInterval = 2 * time.Second
)

// RPCClient is the subset of the solana-go RPC client the ledger client uses.
type RPCClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type Config struct {
	Logger *slog.Logger
	RPC    RPCClient
	Wallet solana.PrivateKey

	Retry          retry.Config
	ConfirmTimeout time.Duration
	// RequestsPerSecond bounds outbound RPC calls. Zero means no limit.
	RequestsPerSecond float64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if cfg.Wallet == nil {
		return errors.New("wallet private key is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	return nil
}

type Client struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// WalletAddress returns the public key of the operating wallet.
func (c *Client) WalletAddress() solana.PublicKey {
	return c.cfg.Wallet.PublicKey()
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.cfg.RPC.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for %s: %w", account, err)
	}
	return out.Value, nil
}

// TokenBalance returns the raw base-unit balance of a token account. A
// missing account reads as zero, which is what a balance delta needs.
func (c *Client) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.cfg.RPC.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get token balance for %s: %w", tokenAccount, err)
	}
	if out.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// AccountExists reports whether the account is present on chain.
func (c *Client) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	out, err := c.cfg.RPC.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get account info for %s: %w", account, err)
	}
	return out != nil && out.Value != nil, nil
}

// MintDecimals returns the decimal precision of a token mint.
func (c *Client) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.cfg.RPC.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get token supply for mint %s: %w", mint, err)
	}
	if out.Value == nil {
		return 0, fmt.Errorf("empty token supply result for mint %s", mint)
	}
	return out.Value.Decimals, nil
}

// SignAndSend decodes a base58-serialized unsigned transaction produced by the
// trade API, signs it with the operating wallet, submits it and waits for
// confirmation.
func (c *Client) SignAndSend(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
	raw, err := base58.Decode(serializedTx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to decode %s transaction: %w", op, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to deserialize %s transaction: %w", op, err)
	}
	return c.Submit(ctx, op, tx)
}

// Submit refreshes the blockhash, signs the transaction with the operating
// wallet, sends it with bounded retries and waits for confirmation.
func (c *Client) Submit(ctx context.Context, op string, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	bh, err := c.cfg.RPC.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, &pipeline.TxFailedError{Op: op, Err: fmt.Errorf("failed to get latest blockhash: %w", err)}
	}
	tx.Message.RecentBlockhash = bh.Value.Blockhash

	wallet := c.cfg.Wallet
	walletKey := wallet.PublicKey()
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(walletKey) {
			return &wallet
		}
		return nil
	}); err != nil {
		return solana.Signature{}, &pipeline.TxFailedError{Op: op, Err: fmt.Errorf("failed to sign: %w", err)}
	}

	var sig solana.Signature
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var sendErr error
		sig, sendErr = c.cfg.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return sendErr
	})
	if err != nil {
		return solana.Signature{}, &pipeline.TxFailedError{Op: op, Err: err}
	}

	c.log.Debug("ledger: transaction sent", "op", op, "signature", sig)

	if err := c.confirm(ctx, op, sig); err != nil {
		return sig, err
	}
	c.log.Info("ledger: transaction confirmed", "op", op, "signature", sig)
	return sig, nil
}

// confirm polls signature status until the transaction is confirmed or the
// confirmation window elapses.
func (c *Client) confirm(ctx context.Context, op string, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &pipeline.TxFailedError{Op: op, Signature: sig.String(),
					Err: fmt.Errorf("confirmation timed out after %s", c.cfg.ConfirmTimeout)}
			}
			return ctx.Err()
		case <-ticker.C:
			if err := c.limiter.Wait(ctx); err != nil {
				continue
			}
			statuses, err := c.cfg.RPC.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				c.log.Debug("ledger: status poll failed", "op", op, "signature", sig, "error", err)
				continue
			}
			if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			st := statuses.Value[0]
			if st.Err != nil {
				return &pipeline.TxFailedError{Op: op, Signature: sig.String(),
					Err: fmt.Errorf("transaction failed on chain: %v", st.Err)}
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
	}
}

// LamportsToSOL converts lamports to display SOL.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SOLToLamports converts display SOL to lamports.
func SOLToLamports(sol float64) uint64 {
	return uint64(sol * LamportsPerSOL)
}

package claim_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/emberlabs/furnace/pkg/claim"
	"github.com/emberlabs/furnace/pkg/pipeline"
	furnacetesting "github.com/emberlabs/furnace/utils/pkg/testing"
)

type mockLedger struct {
	WalletAddressFunc func() solana.PublicKey
	BalanceFunc       func(ctx context.Context, account solana.PublicKey) (uint64, error)
	SignAndSendFunc   func(ctx context.Context, op, serializedTx string) (solana.Signature, error)
}

func (m *mockLedger) WalletAddress() solana.PublicKey { return m.WalletAddressFunc() }
func (m *mockLedger) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return m.BalanceFunc(ctx, account)
}
func (m *mockLedger) SignAndSend(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
	return m.SignAndSendFunc(ctx, op, serializedTx)
}

type mockTxBuilder struct {
	BuildClaimTransactionFunc func(ctx context.Context, wallet string) (string, error)
}

func (m *mockTxBuilder) BuildClaimTransaction(ctx context.Context, wallet string) (string, error) {
	return m.BuildClaimTransactionFunc(ctx, wallet)
}

type mockStore struct {
	InsertClaimFunc        func(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error)
	MarkClaimConfirmedFunc func(ctx context.Context, id int64) error
	MarkClaimFailedFunc    func(ctx context.Context, id int64, msg string) error
}

func (m *mockStore) InsertClaim(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
	return m.InsertClaimFunc(ctx, signature, claimed, treasury, buyback)
}
func (m *mockStore) MarkClaimConfirmed(ctx context.Context, id int64) error {
	return m.MarkClaimConfirmedFunc(ctx, id)
}
func (m *mockStore) MarkClaimFailed(ctx context.Context, id int64, msg string) error {
	return m.MarkClaimFailedFunc(ctx, id, msg)
}

func testWallet(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func baseConfig(t *testing.T, l *mockLedger, s *mockStore) claim.Config {
	t.Helper()
	return claim.Config{
		Logger: furnacetesting.NewLogger(),
		Ledger: l,
		Trade: &mockTxBuilder{
			BuildClaimTransactionFunc: func(ctx context.Context, wallet string) (string, error) {
				return "serialized-claim-tx", nil
			},
		},
		Store:              s,
		TreasuryPercent:    50,
		BuybackPercent:     50,
		MinReserveLamports: 5_000_000,
	}
}

func TestFurnace_Claim(t *testing.T) {
	t.Parallel()

	t.Run("settles from balance delta and splits evenly", func(t *testing.T) {
		t.Parallel()

		wallet := testWallet(t)
		balances := []uint64{1_000_000_000, 1_018_500_000}
		ledgerMock := &mockLedger{
			WalletAddressFunc: func() solana.PublicKey { return wallet },
			BalanceFunc: func(ctx context.Context, account solana.PublicKey) (uint64, error) {
				b := balances[0]
				balances = balances[1:]
				return b, nil
			},
			SignAndSendFunc: func(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
				require.Equal(t, "claim", op)
				require.Equal(t, "serialized-claim-tx", serializedTx)
				return solana.Signature{}, nil
			},
		}

		var inserted struct {
			claimed, treasury, buyback uint64
		}
		confirmed := false
		storeMock := &mockStore{
			InsertClaimFunc: func(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
				inserted.claimed, inserted.treasury, inserted.buyback = claimed, treasury, buyback
				return 42, nil
			},
			MarkClaimConfirmedFunc: func(ctx context.Context, id int64) error {
				require.Equal(t, int64(42), id)
				confirmed = true
				return nil
			},
			MarkClaimFailedFunc: func(ctx context.Context, id int64, msg string) error {
				t.Fatal("unexpected MarkClaimFailed")
				return nil
			},
		}

		c, err := claim.New(baseConfig(t, ledgerMock, storeMock))
		require.NoError(t, err)

		res, err := c.Execute(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(18_500_000), res.ClaimedLamports)
		require.Equal(t, uint64(9_250_000), res.TreasuryLamports)
		require.Equal(t, uint64(9_250_000), res.BuybackLamports)
		require.Equal(t, int64(42), res.ClaimID)
		require.True(t, confirmed)
		require.Equal(t, res.ClaimedLamports, inserted.claimed)
	})

	t.Run("rejects zero balance delta", func(t *testing.T) {
		t.Parallel()

		wallet := testWallet(t)
		ledgerMock := &mockLedger{
			WalletAddressFunc: func() solana.PublicKey { return wallet },
			BalanceFunc: func(ctx context.Context, account solana.PublicKey) (uint64, error) {
				return 1_000_000_000, nil
			},
			SignAndSendFunc: func(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
				return solana.Signature{}, nil
			},
		}

		markedFailed := false
		storeMock := &mockStore{
			InsertClaimFunc: func(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
				require.Zero(t, claimed)
				return 7, nil
			},
			MarkClaimConfirmedFunc: func(ctx context.Context, id int64) error {
				t.Fatal("unexpected MarkClaimConfirmed")
				return nil
			},
			MarkClaimFailedFunc: func(ctx context.Context, id int64, msg string) error {
				markedFailed = true
				return nil
			},
		}

		c, err := claim.New(baseConfig(t, ledgerMock, storeMock))
		require.NoError(t, err)

		_, err = c.Execute(context.Background())
		require.ErrorIs(t, err, pipeline.ErrNoFundsReceived)
		require.True(t, markedFailed)
	})

	t.Run("shrinks split to preserve reserve", func(t *testing.T) {
		t.Parallel()

		// Claimed 10_000_000 but the wallet would drop below the 5_000_000
		// reserve; only after-reserve is distributable.
		wallet := testWallet(t)
		balances := []uint64{2_000_000, 12_000_000}
		ledgerMock := &mockLedger{
			WalletAddressFunc: func() solana.PublicKey { return wallet },
			BalanceFunc: func(ctx context.Context, account solana.PublicKey) (uint64, error) {
				b := balances[0]
				balances = balances[1:]
				return b, nil
			},
			SignAndSendFunc: func(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
				return solana.Signature{}, nil
			},
		}

		storeMock := &mockStore{
			InsertClaimFunc: func(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
				return 1, nil
			},
			MarkClaimConfirmedFunc: func(ctx context.Context, id int64) error { return nil },
			MarkClaimFailedFunc:    func(ctx context.Context, id int64, msg string) error { return nil },
		}

		c, err := claim.New(baseConfig(t, ledgerMock, storeMock))
		require.NoError(t, err)

		res, err := c.Execute(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(10_000_000), res.ClaimedLamports)
		// Distributable is 12_000_000 − 5_000_000 = 7_000_000, split 50/50.
		require.Equal(t, uint64(3_500_000), res.TreasuryLamports)
		require.Equal(t, uint64(3_500_000), res.BuybackLamports)
		require.LessOrEqual(t, res.TreasuryLamports+res.BuybackLamports, uint64(12_000_000-5_000_000))
	})

	t.Run("rejects split when wallet cannot retain reserve", func(t *testing.T) {
		t.Parallel()

		wallet := testWallet(t)
		balances := []uint64{1_000_000, 3_000_000}
		ledgerMock := &mockLedger{
			WalletAddressFunc: func() solana.PublicKey { return wallet },
			BalanceFunc: func(ctx context.Context, account solana.PublicKey) (uint64, error) {
				b := balances[0]
				balances = balances[1:]
				return b, nil
			},
			SignAndSendFunc: func(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
				return solana.Signature{}, nil
			},
		}

		storeMock := &mockStore{
			InsertClaimFunc: func(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
				return 1, nil
			},
			MarkClaimConfirmedFunc: func(ctx context.Context, id int64) error {
				t.Fatal("unexpected MarkClaimConfirmed")
				return nil
			},
			MarkClaimFailedFunc: func(ctx context.Context, id int64, msg string) error { return nil },
		}

		c, err := claim.New(baseConfig(t, ledgerMock, storeMock))
		require.NoError(t, err)

		_, err = c.Execute(context.Background())
		require.ErrorIs(t, err, pipeline.ErrInvalidSplit)
	})

	t.Run("propagates trade rejection", func(t *testing.T) {
		t.Parallel()

		wallet := testWallet(t)
		ledgerMock := &mockLedger{
			WalletAddressFunc: func() solana.PublicKey { return wallet },
			BalanceFunc: func(ctx context.Context, account solana.PublicKey) (uint64, error) {
				return 1_000_000_000, nil
			},
			SignAndSendFunc: func(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
				t.Fatal("unexpected SignAndSend")
				return solana.Signature{}, nil
			},
		}

		cfg := baseConfig(t, ledgerMock, &mockStore{})
		cfg.Trade = &mockTxBuilder{
			BuildClaimTransactionFunc: func(ctx context.Context, wallet string) (string, error) {
				return "", &pipeline.TradeRejectedError{Op: "claim", Message: "nothing to claim"}
			},
		}

		c, err := claim.New(cfg)
		require.NoError(t, err)

		_, err = c.Execute(context.Background())
		var rejected *pipeline.TradeRejectedError
		require.ErrorAs(t, err, &rejected)
	})

	t.Run("rejects percentages that do not sum to 100", func(t *testing.T) {
		t.Parallel()

		cfg := baseConfig(t, &mockLedger{}, &mockStore{})
		cfg.TreasuryPercent = 60
		cfg.BuybackPercent = 60
		_, err := claim.New(cfg)
		require.Error(t, err)
	})

	t.Run("propagates persistence failure", func(t *testing.T) {
		t.Parallel()

		wallet := testWallet(t)
		balances := []uint64{1_000_000_000, 1_050_000_000}
		ledgerMock := &mockLedger{
			WalletAddressFunc: func() solana.PublicKey { return wallet },
			BalanceFunc: func(ctx context.Context, account solana.PublicKey) (uint64, error) {
				b := balances[0]
				balances = balances[1:]
				return b, nil
			},
			SignAndSendFunc: func(ctx context.Context, op, serializedTx string) (solana.Signature, error) {
				return solana.Signature{}, nil
			},
		}

		storeErr := errors.New("connection refused")
		storeMock := &mockStore{
			InsertClaimFunc: func(ctx context.Context, signature string, claimed, treasury, buyback uint64) (int64, error) {
				return 0, storeErr
			},
		}

		c, err := claim.New(baseConfig(t, ledgerMock, storeMock))
		require.NoError(t, err)

		_, err = c.Execute(context.Background())
		require.ErrorIs(t, err, storeErr)
	})
}

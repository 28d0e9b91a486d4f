package orchestrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/emberlabs/furnace/pkg/monitor"
	"github.com/emberlabs/furnace/pkg/orchestrator"
	"github.com/emberlabs/furnace/pkg/pipeline"
	furnacetesting "github.com/emberlabs/furnace/utils/pkg/testing"
)

type mockMonitor struct {
	CheckFunc func(ctx context.Context, force bool) (monitor.Decision, error)
}

func (m *mockMonitor) Check(ctx context.Context, force bool) (monitor.Decision, error) {
	return m.CheckFunc(ctx, force)
}

type mockClaimer struct {
	ExecuteFunc func(ctx context.Context) (*pipeline.ClaimResult, error)
}

func (m *mockClaimer) Execute(ctx context.Context) (*pipeline.ClaimResult, error) {
	return m.ExecuteFunc(ctx)
}

type mockTreasurer struct {
	TransferFunc func(ctx context.Context, lamports uint64) (solana.Signature, error)
}

func (m *mockTreasurer) Transfer(ctx context.Context, lamports uint64) (solana.Signature, error) {
	return m.TransferFunc(ctx, lamports)
}

type mockBuyer struct {
	ExecuteFunc func(ctx context.Context, claimID int64, budgetLamports uint64) (*pipeline.BuybackResult, error)
}

func (m *mockBuyer) Execute(ctx context.Context, claimID int64, budgetLamports uint64) (*pipeline.BuybackResult, error) {
	return m.ExecuteFunc(ctx, claimID, budgetLamports)
}

type mockBurner struct {
	ExecuteFunc func(ctx context.Context, buybackID int64, tokenAmount string) (*pipeline.BurnResult, error)
}

func (m *mockBurner) Execute(ctx context.Context, buybackID int64, tokenAmount string) (*pipeline.BurnResult, error) {
	return m.ExecuteFunc(ctx, buybackID, tokenAmount)
}

type mockNotifier struct {
	NotifySuccessFunc func(ctx context.Context, res *pipeline.Result) error
	NotifyFailureFunc func(ctx context.Context, res *pipeline.Result) error
}

func (m *mockNotifier) NotifySuccess(ctx context.Context, res *pipeline.Result) error {
	return m.NotifySuccessFunc(ctx, res)
}
func (m *mockNotifier) NotifyFailure(ctx context.Context, res *pipeline.Result) error {
	return m.NotifyFailureFunc(ctx, res)
}

type mockStatusStore struct {
	RecordClaimFunc func(ctx context.Context) error
	RecordErrorFunc func(ctx context.Context, msg string) error
}

func (m *mockStatusStore) RecordClaim(ctx context.Context) error { return m.RecordClaimFunc(ctx) }
func (m *mockStatusStore) RecordError(ctx context.Context, msg string) error {
	return m.RecordErrorFunc(ctx, msg)
}

func passingConfig(t *testing.T) orchestrator.Config {
	t.Helper()
	return orchestrator.Config{
		Logger: furnacetesting.NewLogger(),
		Monitor: &mockMonitor{
			CheckFunc: func(ctx context.Context, force bool) (monitor.Decision, error) {
				return monitor.Decision{ShouldClaim: true, ClaimableLamports: 20_000_000, Reason: "threshold met"}, nil
			},
		},
		Claimer: &mockClaimer{
			ExecuteFunc: func(ctx context.Context) (*pipeline.ClaimResult, error) {
				return &pipeline.ClaimResult{
					ClaimID:          1,
					Signature:        "claim-sig",
					ClaimedLamports:  18_500_000,
					TreasuryLamports: 9_250_000,
					BuybackLamports:  9_250_000,
				}, nil
			},
		},
		Treasury: &mockTreasurer{
			TransferFunc: func(ctx context.Context, lamports uint64) (solana.Signature, error) {
				return solana.Signature{}, nil
			},
		},
		Buyer: &mockBuyer{
			ExecuteFunc: func(ctx context.Context, claimID int64, budgetLamports uint64) (*pipeline.BuybackResult, error) {
				return &pipeline.BuybackResult{
					BuybackID:       2,
					Signature:       "buy-sig",
					TokensPurchased: 194_000_500_000,
					TokensDisplay:   "194000.5",
					LamportsSpent:   9_260_000,
				}, nil
			},
		},
		Burner: &mockBurner{
			ExecuteFunc: func(ctx context.Context, buybackID int64, tokenAmount string) (*pipeline.BurnResult, error) {
				return &pipeline.BurnResult{BurnID: 3, Signature: "burn-sig", TokensBurned: tokenAmount}, nil
			},
		},
		Notifier: &mockNotifier{
			NotifySuccessFunc: func(ctx context.Context, res *pipeline.Result) error { return nil },
			NotifyFailureFunc: func(ctx context.Context, res *pipeline.Result) error { return nil },
		},
		Store: &mockStatusStore{
			RecordClaimFunc: func(ctx context.Context) error { return nil },
			RecordErrorFunc: func(ctx context.Context, msg string) error { return nil },
		},
	}
}

func TestFurnace_Orchestrator(t *testing.T) {
	t.Parallel()

	t.Run("runs all stages and notifies success", func(t *testing.T) {
		t.Parallel()

		cfg := passingConfig(t)
		notified := false
		cfg.Notifier = &mockNotifier{
			NotifySuccessFunc: func(ctx context.Context, res *pipeline.Result) error {
				notified = true
				return nil
			},
			NotifyFailureFunc: func(ctx context.Context, res *pipeline.Result) error {
				t.Fatal("unexpected NotifyFailure")
				return nil
			},
		}

		o, err := orchestrator.New(cfg)
		require.NoError(t, err)

		res := o.Run(context.Background(), false)
		require.True(t, res.Success)
		require.False(t, res.Skipped)
		require.NotNil(t, res.Claim)
		require.NotNil(t, res.Buyback)
		require.NotNil(t, res.Burn)
		require.Equal(t, "194000.5", res.Burn.TokensBurned)
		require.True(t, notified)
		require.NotZero(t, res.RunID)
	})

	t.Run("skips below threshold without invoking stages", func(t *testing.T) {
		t.Parallel()

		cfg := passingConfig(t)
		cfg.Monitor = &mockMonitor{
			CheckFunc: func(ctx context.Context, force bool) (monitor.Decision, error) {
				return monitor.Decision{ShouldClaim: false, ClaimableLamports: 3_000_000, Reason: "below threshold"}, nil
			},
		}
		cfg.Claimer = &mockClaimer{
			ExecuteFunc: func(ctx context.Context) (*pipeline.ClaimResult, error) {
				t.Fatal("unexpected claim execution")
				return nil, nil
			},
		}

		o, err := orchestrator.New(cfg)
		require.NoError(t, err)

		res := o.Run(context.Background(), false)
		require.True(t, res.Skipped)
		require.False(t, res.Success)
		require.Nil(t, res.Claim)
		require.Equal(t, "below threshold", res.Reason)
	})

	t.Run("forwards force flag to monitor", func(t *testing.T) {
		t.Parallel()

		cfg := passingConfig(t)
		var sawForce bool
		cfg.Monitor = &mockMonitor{
			CheckFunc: func(ctx context.Context, force bool) (monitor.Decision, error) {
				sawForce = force
				return monitor.Decision{ShouldClaim: true, Reason: "forced"}, nil
			},
		}

		o, err := orchestrator.New(cfg)
		require.NoError(t, err)

		res := o.Run(context.Background(), true)
		require.True(t, res.Success)
		require.True(t, sawForce)
	})

	t.Run("aborts on buyback failure without burning or compensating", func(t *testing.T) {
		t.Parallel()

		cfg := passingConfig(t)
		buyErr := errors.New("trade service unavailable")
		cfg.Buyer = &mockBuyer{
			ExecuteFunc: func(ctx context.Context, claimID int64, budgetLamports uint64) (*pipeline.BuybackResult, error) {
				require.Equal(t, int64(1), claimID)
				require.Equal(t, uint64(9_250_000), budgetLamports)
				return nil, buyErr
			},
		}
		cfg.Burner = &mockBurner{
			ExecuteFunc: func(ctx context.Context, buybackID int64, tokenAmount string) (*pipeline.BurnResult, error) {
				t.Fatal("unexpected burn execution")
				return nil, nil
			},
		}

		var recorded string
		cfg.Store = &mockStatusStore{
			RecordClaimFunc: func(ctx context.Context) error {
				t.Fatal("unexpected RecordClaim")
				return nil
			},
			RecordErrorFunc: func(ctx context.Context, msg string) error {
				recorded = msg
				return nil
			},
		}
		notifiedFailure := false
		cfg.Notifier = &mockNotifier{
			NotifySuccessFunc: func(ctx context.Context, res *pipeline.Result) error {
				t.Fatal("unexpected NotifySuccess")
				return nil
			},
			NotifyFailureFunc: func(ctx context.Context, res *pipeline.Result) error {
				notifiedFailure = true
				return nil
			},
		}

		o, err := orchestrator.New(cfg)
		require.NoError(t, err)

		res := o.Run(context.Background(), false)
		require.False(t, res.Success)
		require.Equal(t, pipeline.StageBuyback, res.FailedStage)
		require.ErrorIs(t, res.Err, buyErr)
		// Claim and treasury completed before the failure and stay as they are.
		require.NotNil(t, res.Claim)
		require.NotEmpty(t, res.TreasurySignature)
		require.Nil(t, res.Buyback)
		require.Nil(t, res.Burn)
		require.True(t, notifiedFailure)
		require.Contains(t, recorded, "buyback")
	})

	t.Run("notification failure does not fail the run", func(t *testing.T) {
		t.Parallel()

		cfg := passingConfig(t)
		cfg.Notifier = &mockNotifier{
			NotifySuccessFunc: func(ctx context.Context, res *pipeline.Result) error {
				return errors.New("webhook unreachable")
			},
			NotifyFailureFunc: func(ctx context.Context, res *pipeline.Result) error {
				t.Fatal("unexpected NotifyFailure")
				return nil
			},
		}

		o, err := orchestrator.New(cfg)
		require.NoError(t, err)

		res := o.Run(context.Background(), false)
		require.True(t, res.Success)
		require.NoError(t, res.Err)
	})

	t.Run("aborts when threshold check errors", func(t *testing.T) {
		t.Parallel()

		cfg := passingConfig(t)
		checkErr := errors.New("fee estimate unavailable")
		cfg.Monitor = &mockMonitor{
			CheckFunc: func(ctx context.Context, force bool) (monitor.Decision, error) {
				return monitor.Decision{}, checkErr
			},
		}
		cfg.Notifier = &mockNotifier{
			NotifySuccessFunc: func(ctx context.Context, res *pipeline.Result) error { return nil },
			NotifyFailureFunc: func(ctx context.Context, res *pipeline.Result) error { return nil },
		}

		o, err := orchestrator.New(cfg)
		require.NoError(t, err)

		res := o.Run(context.Background(), false)
		require.False(t, res.Success)
		require.Equal(t, pipeline.StageThreshold, res.FailedStage)
		require.ErrorIs(t, res.Err, checkErr)
	})
}

// Package orchestrator sequences the claim pipeline: threshold check, fee
// claim, treasury transfer, buyback, burn. Stages run in order, each gated on
// the previous one; the first failure aborts the run without compensating
// completed stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/emberlabs/furnace/pkg/ledger"
	"github.com/emberlabs/furnace/pkg/metrics"
	"github.com/emberlabs/furnace/pkg/monitor"
	"github.com/emberlabs/furnace/pkg/pipeline"
)

// Monitor produces the claim/no-claim decision.
type Monitor interface {
	Check(ctx context.Context, force bool) (monitor.Decision, error)
}

// Claimer executes the fee claim and settles it from balance deltas.
type Claimer interface {
	Execute(ctx context.Context) (*pipeline.ClaimResult, error)
}

// Treasurer moves the treasury share to the treasury wallet.
type Treasurer interface {
	Transfer(ctx context.Context, lamports uint64) (solana.Signature, error)
}

// Buyer spends the buyback share purchasing tokens.
type Buyer interface {
	Execute(ctx context.Context, claimID int64, budgetLamports uint64) (*pipeline.BuybackResult, error)
}

// Burner sends purchased tokens to the incinerator.
type Burner interface {
	Execute(ctx context.Context, buybackID int64, tokenAmount string) (*pipeline.BurnResult, error)
}

// Notifier forwards run outcomes to the external sink.
type Notifier interface {
	NotifySuccess(ctx context.Context, res *pipeline.Result) error
	NotifyFailure(ctx context.Context, res *pipeline.Result) error
}

// StatusStore tracks run counters on the singleton status row.
type StatusStore interface {
	RecordClaim(ctx context.Context) error
	RecordError(ctx context.Context, msg string) error
}

type Config struct {
	Logger   *slog.Logger
	Monitor  Monitor
	Claimer  Claimer
	Treasury Treasurer
	Buyer    Buyer
	Burner   Burner
	Notifier Notifier
	Store    StatusStore
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Monitor == nil {
		return errors.New("monitor is required")
	}
	if cfg.Claimer == nil {
		return errors.New("claimer is required")
	}
	if cfg.Treasury == nil {
		return errors.New("treasury transferer is required")
	}
	if cfg.Buyer == nil {
		return errors.New("buyer is required")
	}
	if cfg.Burner == nil {
		return errors.New("burner is required")
	}
	if cfg.Notifier == nil {
		return errors.New("notifier is required")
	}
	if cfg.Store == nil {
		return errors.New("status store is required")
	}
	return nil
}

type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Run executes one full pipeline pass. When the threshold is not met and
// force is unset, the run is skipped without error. Failures abort the
// remaining stages; already-transferred treasury funds stay where they are.
func (o *Orchestrator) Run(ctx context.Context, force bool) *pipeline.Result {
	res := &pipeline.Result{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
	log := o.log.With("run_id", res.RunID)

	decision, err := timed(ctx, pipeline.StageThreshold, func(ctx context.Context) (monitor.Decision, error) {
		return o.cfg.Monitor.Check(ctx, force)
	})
	if err != nil {
		return o.fail(ctx, res, pipeline.StageThreshold, err)
	}
	if !decision.ShouldClaim {
		res.Skipped = true
		res.Reason = decision.Reason
		res.FinishedAt = time.Now()
		metrics.PipelineRunsTotal.WithLabelValues("skipped").Inc()
		log.Info("orchestrator: run skipped", "reason", decision.Reason)
		return res
	}

	log.Info("orchestrator: starting pipeline", "reason", decision.Reason)

	res.Claim, err = timed(ctx, pipeline.StageClaim, o.cfg.Claimer.Execute)
	if err != nil {
		return o.fail(ctx, res, pipeline.StageClaim, err)
	}

	treasurySig, err := timed(ctx, pipeline.StageTreasury, func(ctx context.Context) (solana.Signature, error) {
		return o.cfg.Treasury.Transfer(ctx, res.Claim.TreasuryLamports)
	})
	if err != nil {
		return o.fail(ctx, res, pipeline.StageTreasury, err)
	}
	res.TreasurySignature = treasurySig.String()

	res.Buyback, err = timed(ctx, pipeline.StageBuyback, func(ctx context.Context) (*pipeline.BuybackResult, error) {
		return o.cfg.Buyer.Execute(ctx, res.Claim.ClaimID, res.Claim.BuybackLamports)
	})
	if err != nil {
		return o.fail(ctx, res, pipeline.StageBuyback, err)
	}

	res.Burn, err = timed(ctx, pipeline.StageBurn, func(ctx context.Context) (*pipeline.BurnResult, error) {
		return o.cfg.Burner.Execute(ctx, res.Buyback.BuybackID, res.Buyback.TokensDisplay)
	})
	if err != nil {
		return o.fail(ctx, res, pipeline.StageBurn, err)
	}

	res.Success = true
	res.FinishedAt = time.Now()
	res.Reason = fmt.Sprintf("claimed %.9f SOL, burned %s tokens",
		ledger.LamportsToSOL(res.Claim.ClaimedLamports), res.Burn.TokensBurned)
	metrics.PipelineRunsTotal.WithLabelValues("success").Inc()

	if err := o.cfg.Store.RecordClaim(ctx); err != nil {
		log.Warn("orchestrator: failed to record claim counter", "error", err)
	}
	if err := o.cfg.Notifier.NotifySuccess(ctx, res); err != nil {
		log.Warn("orchestrator: success notification failed", "error", err)
	}

	log.Info("orchestrator: pipeline completed",
		"duration", res.FinishedAt.Sub(res.StartedAt),
		"claimed_sol", ledger.LamportsToSOL(res.Claim.ClaimedLamports),
		"tokens_burned", res.Burn.TokensBurned)
	return res
}

// fail finalizes a failed run: record it, notify, and surface to error
// tracking. Completed stages are not compensated.
func (o *Orchestrator) fail(ctx context.Context, res *pipeline.Result, stage pipeline.Stage, err error) *pipeline.Result {
	res.FailedStage = stage
	res.Err = err
	res.FinishedAt = time.Now()
	res.Reason = fmt.Sprintf("%s stage failed: %v", stage, err)
	metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()

	o.log.Error("orchestrator: pipeline failed",
		"run_id", res.RunID, "stage", stage, "error", err)

	if recErr := o.cfg.Store.RecordError(ctx, res.Reason); recErr != nil {
		o.log.Warn("orchestrator: failed to record error", "error", recErr)
	}
	if notifyErr := o.cfg.Notifier.NotifyFailure(ctx, res); notifyErr != nil {
		o.log.Warn("orchestrator: failure notification failed", "error", notifyErr)
	}
	sentry.CaptureException(fmt.Errorf("pipeline run %s failed at %s: %w", res.RunID, stage, err))
	return res
}

// timed runs a stage function and records its duration.
func timed[T any](ctx context.Context, stage pipeline.Stage, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)
	metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	return out, err
}

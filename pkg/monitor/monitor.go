// Package monitor decides whether a fee claim should be attempted. The
// claimable estimate it reads is advisory only: it gates the pipeline but
// never feeds any persisted amount.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/emberlabs/furnace/pkg/ledger"
	"github.com/emberlabs/furnace/pkg/metrics"
)

// FeeEstimator reads the wallet's current claimable-fee estimate.
type FeeEstimator interface {
	ClaimableFees(ctx context.Context, wallet string) (uint64, error)
}

// CheckStore appends monitor evaluations to the audit log.
type CheckStore interface {
	InsertMonitorCheck(ctx context.Context, claimable, threshold uint64, triggered bool, notes string) error
}

type Config struct {
	Logger *slog.Logger
	Trade  FeeEstimator
	Store  CheckStore

	Wallet            string
	ThresholdLamports uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Trade == nil {
		return errors.New("fee estimator is required")
	}
	if cfg.Store == nil {
		return errors.New("check store is required")
	}
	if cfg.Wallet == "" {
		return errors.New("wallet address is required")
	}
	if cfg.ThresholdLamports == 0 {
		return errors.New("claim threshold must be greater than 0")
	}
	return nil
}

// Decision is the outcome of a monitor evaluation.
type Decision struct {
	ShouldClaim       bool
	ClaimableLamports uint64
	Reason            string
}

type Monitor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{log: cfg.Logger, cfg: cfg}, nil
}

// Check fetches the claimable estimate, records an audit row regardless of
// outcome, and compares against the threshold. When force is set the decision
// is always to claim.
func (m *Monitor) Check(ctx context.Context, force bool) (Decision, error) {
	claimable, err := m.cfg.Trade.ClaimableFees(ctx, m.cfg.Wallet)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to fetch claimable fees: %w", err)
	}

	metrics.ClaimableFeesLamports.Set(float64(claimable))

	var d Decision
	d.ClaimableLamports = claimable
	switch {
	case force:
		d.ShouldClaim = true
		d.Reason = fmt.Sprintf("forced claim with %.9f SOL claimable", ledger.LamportsToSOL(claimable))
	case claimable >= m.cfg.ThresholdLamports:
		d.ShouldClaim = true
		d.Reason = fmt.Sprintf("claimable %.9f SOL meets threshold %.9f SOL",
			ledger.LamportsToSOL(claimable), ledger.LamportsToSOL(m.cfg.ThresholdLamports))
	default:
		d.ShouldClaim = false
		d.Reason = fmt.Sprintf("claimable %.9f SOL below threshold %.9f SOL",
			ledger.LamportsToSOL(claimable), ledger.LamportsToSOL(m.cfg.ThresholdLamports))
	}

	metrics.MonitorChecksTotal.WithLabelValues(strconv.FormatBool(d.ShouldClaim)).Inc()

	if err := m.cfg.Store.InsertMonitorCheck(ctx, claimable, m.cfg.ThresholdLamports, d.ShouldClaim, d.Reason); err != nil {
		// The audit row is best-effort; the decision still stands.
		m.log.Warn("monitor: failed to record check", "error", err)
	}

	m.log.Info("monitor: check completed",
		"claimable_sol", ledger.LamportsToSOL(claimable),
		"threshold_sol", ledger.LamportsToSOL(m.cfg.ThresholdLamports),
		"should_claim", d.ShouldClaim)

	return d, nil
}

// Package scheduler fires the claim pipeline on a fixed interval and
// guarantees at most one run in flight. Triggers that arrive while a run is
// active are refused, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emberlabs/furnace/pkg/metrics"
	"github.com/emberlabs/furnace/pkg/monitor"
	"github.com/emberlabs/furnace/pkg/pipeline"
	"github.com/emberlabs/furnace/pkg/store"
)

// Runner executes one pipeline pass.
type Runner interface {
	Run(ctx context.Context, force bool) *pipeline.Result
}

// Checker produces the claim/no-claim decision without executing anything.
type Checker interface {
	Check(ctx context.Context, force bool) (monitor.Decision, error)
}

// StatusStore reads and mutates the singleton system-status row.
type StatusStore interface {
	SystemStatus(ctx context.Context) (store.SystemStatus, error)
	SetPaused(ctx context.Context, paused bool) error
	RecordCheck(ctx context.Context) error
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	Orchestrator Runner
	Monitor      Checker
	Store        StatusStore

	Interval time.Duration
	// AutoClaim enables pipeline execution on ticks. When disabled, ticks
	// only evaluate and record the monitor decision.
	AutoClaim bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Orchestrator == nil {
		return errors.New("orchestrator is required")
	}
	if cfg.Monitor == nil {
		return errors.New("monitor is required")
	}
	if cfg.Store == nil {
		return errors.New("status store is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	return nil
}

// Status is the scheduler state exposed to the administrative surface.
type Status struct {
	ClaimInProgress bool               `json:"claim_in_progress"`
	AutoClaim       bool               `json:"auto_claim"`
	Interval        string             `json:"interval"`
	System          store.SystemStatus `json:"system"`
}

type Scheduler struct {
	log *slog.Logger
	cfg Config

	// claimInProgress is the single-flight guard. Entry to the orchestrator
	// goes through a compare-and-swap on this flag.
	claimInProgress atomic.Bool
}

func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{log: cfg.Logger, cfg: cfg}, nil
}

// Start runs the tick loop until the context is cancelled. The first tick
// fires after one full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info("scheduler: started",
		"interval", s.cfg.Interval, "auto_claim", s.cfg.AutoClaim)

	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.Chan():
			s.safeTick(ctx)
		}
	}
}

// safeTick keeps a panicking tick from killing the loop.
func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler: tick panicked", "panic", r)
		}
	}()
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	status, err := s.cfg.Store.SystemStatus(ctx)
	if err != nil {
		s.log.Error("scheduler: failed to read system status", "error", err)
		return
	}
	if status.IsPaused {
		s.log.Debug("scheduler: system paused, skipping tick")
		return
	}

	if !s.cfg.AutoClaim {
		// Evaluation only: the decision lands in the audit log.
		s.recordCheck(ctx)
		if _, err := s.cfg.Monitor.Check(ctx, false); err != nil {
			s.log.Error("scheduler: monitor check failed", "error", err)
		}
		return
	}

	if !s.claimInProgress.CompareAndSwap(false, true) {
		s.log.Warn("scheduler: previous pipeline run still in flight, skipping tick")
		return
	}
	defer s.claimInProgress.Store(false)

	// The check counter tracks evaluations; a skipped tick does not count.
	s.recordCheck(ctx)
	s.cfg.Orchestrator.Run(ctx, false)
}

// TriggerNow runs the pipeline immediately. It refuses with
// ErrClaimInProgress when a run is already in flight and with ErrSystemPaused
// when the system is administratively paused.
func (s *Scheduler) TriggerNow(ctx context.Context, force bool) (*pipeline.Result, error) {
	status, err := s.cfg.Store.SystemStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read system status: %w", err)
	}
	if status.IsPaused {
		return nil, pipeline.ErrSystemPaused
	}

	if !s.claimInProgress.CompareAndSwap(false, true) {
		metrics.TriggerConflictsTotal.Inc()
		return nil, pipeline.ErrClaimInProgress
	}
	defer s.claimInProgress.Store(false)

	s.recordCheck(ctx)
	s.log.Info("scheduler: manual trigger", "force", force)
	return s.cfg.Orchestrator.Run(ctx, force), nil
}

// CheckOnly evaluates the monitor decision without executing the pipeline.
func (s *Scheduler) CheckOnly(ctx context.Context) (monitor.Decision, error) {
	s.recordCheck(ctx)
	return s.cfg.Monitor.Check(ctx, false)
}

func (s *Scheduler) recordCheck(ctx context.Context) {
	if err := s.cfg.Store.RecordCheck(ctx); err != nil {
		s.log.Warn("scheduler: failed to record check", "error", err)
	}
}

// Pause stops future ticks from executing the pipeline. An in-flight run is
// not interrupted.
func (s *Scheduler) Pause(ctx context.Context) error {
	if err := s.cfg.Store.SetPaused(ctx, true); err != nil {
		return err
	}
	s.log.Info("scheduler: paused")
	return nil
}

// Resume re-enables pipeline execution on ticks.
func (s *Scheduler) Resume(ctx context.Context) error {
	if err := s.cfg.Store.SetPaused(ctx, false); err != nil {
		return err
	}
	s.log.Info("scheduler: resumed")
	return nil
}

// Status reports lock state and the persisted counters.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	system, err := s.cfg.Store.SystemStatus(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read system status: %w", err)
	}
	return Status{
		ClaimInProgress: s.claimInProgress.Load(),
		AutoClaim:       s.cfg.AutoClaim,
		Interval:        s.cfg.Interval.String(),
		System:          system,
	}, nil
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emberlabs/furnace/pkg/monitor"
	"github.com/emberlabs/furnace/pkg/pipeline"
	"github.com/emberlabs/furnace/pkg/scheduler"
	"github.com/emberlabs/furnace/pkg/store"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Scheduler is the pipeline control surface the API exposes.
type Scheduler interface {
	TriggerNow(ctx context.Context, force bool) (*pipeline.Result, error)
	CheckOnly(ctx context.Context) (monitor.Decision, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Status(ctx context.Context) (scheduler.Status, error)
}

// RecordStore reads persisted pipeline history.
type RecordStore interface {
	RecentClaims(ctx context.Context, limit int) ([]store.Claim, error)
	RecentBuybacks(ctx context.Context, limit int) ([]store.Buyback, error)
	RecentBurns(ctx context.Context, limit int) ([]store.Burn, error)
	RecentChecks(ctx context.Context, limit int) ([]store.MonitorCheck, error)
}

type Config struct {
	Logger    *slog.Logger
	Scheduler Scheduler
	Store     RecordStore

	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Scheduler == nil {
		return errors.New("scheduler is required")
	}
	if cfg.Store == nil {
		return errors.New("record store is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return nil
}

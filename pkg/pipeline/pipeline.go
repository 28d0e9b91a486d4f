// Package pipeline holds the types shared across the claim pipeline stages:
// stage identifiers, per-stage results, and the closed error taxonomy.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies a step of the claim pipeline.
type Stage string

const (
	StageThreshold Stage = "threshold"
	StageClaim     Stage = "claim"
	StageTreasury  Stage = "treasury"
	StageBuyback   Stage = "buyback"
	StageBurn      Stage = "burn"
)

// Status is the lifecycle state of a persisted pipeline record. Once a record
// reaches confirmed or failed it never transitions again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ClaimResult is the outcome of the fee-claim stage. All amounts are lamports
// derived from measured balance deltas, never from the pre-claim estimate.
type ClaimResult struct {
	ClaimID          int64
	Signature        string
	ClaimedLamports  uint64
	TreasuryLamports uint64
	BuybackLamports  uint64
}

// BuybackResult is the outcome of the buyback stage. LamportsSpent is the
// measured wallet delta including transaction cost, not the requested budget.
type BuybackResult struct {
	BuybackID       int64
	Signature       string
	TokensPurchased uint64 // raw base units
	TokensDisplay   string // display-format decimal string
	LamportsSpent   uint64
}

// BurnResult is the outcome of the burn stage.
type BurnResult struct {
	BurnID       int64
	Signature    string
	TokensBurned string // display-format decimal string, as persisted
}

// Result aggregates a full orchestrator run.
type Result struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time

	Success bool
	Skipped bool   // threshold not met, nothing attempted
	Reason  string // human-readable outcome summary

	Claim             *ClaimResult
	TreasurySignature string
	Buyback           *BuybackResult
	Burn              *BurnResult

	FailedStage Stage
	Err         error
}

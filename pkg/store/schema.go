package store

import (
	"time"

	"github.com/emberlabs/furnace/pkg/pipeline"
)

// Claim records one on-chain creator-fee claim and its computed split.
// Amounts are lamports. treasury_amount + buyback_amount never exceeds
// claimed_amount.
type Claim struct {
	ID             int64           `json:"id"`
	Signature      string          `json:"signature"`
	ClaimedAmount  uint64          `json:"claimed_amount"`
	TreasuryAmount uint64          `json:"treasury_amount"`
	BuybackAmount  uint64          `json:"buyback_amount"`
	Status         pipeline.Status `json:"status"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Buyback records one token buy funded by a claim's buyback share.
// TokensPurchased is a decimal string of raw base units; SolSpent is the
// measured lamport delta including transaction cost.
type Buyback struct {
	ID              int64           `json:"id"`
	ClaimID         int64           `json:"claim_id"`
	Signature       string          `json:"signature"`
	TokensPurchased string          `json:"tokens_purchased"`
	SolSpent        uint64          `json:"sol_spent"`
	Status          pipeline.Status `json:"status"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Burn records one transfer to the incinerator. TokensBurned keeps the
// display-format decimal string for precision.
type Burn struct {
	ID           int64           `json:"id"`
	BuybackID    int64           `json:"buyback_id"`
	Signature    string          `json:"signature"`
	TokensBurned string          `json:"tokens_burned"`
	Status       pipeline.Status `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// MonitorCheck is an append-only audit record of a fee monitor evaluation.
type MonitorCheck struct {
	ID            int64     `json:"id"`
	ClaimableFees uint64    `json:"claimable_fees"`
	Threshold     uint64    `json:"threshold"`
	Triggered     bool      `json:"triggered"`
	Timestamp     time.Time `json:"timestamp"`
	Notes         *string   `json:"notes,omitempty"`
}

// SystemStatus is the singleton operational state row.
type SystemStatus struct {
	IsPaused           bool       `json:"is_paused"`
	LastCheckTimestamp *time.Time `json:"last_check_timestamp,omitempty"`
	TotalChecks        int64      `json:"total_checks"`
	TotalClaims        int64      `json:"total_claims"`
	ErrorCount         int64      `json:"error_count"`
	LastError          *string    `json:"last_error,omitempty"`
	LastErrorTimestamp *time.Time `json:"last_error_timestamp,omitempty"`
}

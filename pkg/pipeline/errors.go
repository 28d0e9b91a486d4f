package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFundsReceived indicates a claim transaction confirmed but the
	// wallet balance did not increase. The advisory estimate is never
	// substituted for the measured delta.
	ErrNoFundsReceived = errors.New("claim settled with no balance increase")

	// ErrInvalidSplit indicates a computed treasury or buyback share ended
	// up non-positive after the reserve safety adjustment.
	ErrInvalidSplit = errors.New("computed split share is not positive")

	// ErrClaimInProgress is returned to triggers that arrive while another
	// pipeline run holds the single-flight lock. Triggers are refused, never
	// queued.
	ErrClaimInProgress = errors.New("claim pipeline already in progress")

	// ErrSystemPaused is returned when the orchestrator is administratively
	// paused.
	ErrSystemPaused = errors.New("system is paused")
)

// TradeRejectedError indicates the trade API declined a request at the
// application level (e.g. nothing to claim), as opposed to a transport
// failure.
type TradeRejectedError struct {
	Op      string // "claim", "buy", "fees"
	Message string
}

func (e *TradeRejectedError) Error() string {
	return fmt.Sprintf("trade service rejected %s request: %s", e.Op, e.Message)
}

// TxFailedError indicates a transaction could not be submitted or confirmed
// after exhausting retries.
type TxFailedError struct {
	Op        string
	Signature string // empty when submission itself failed
	Err       error
}

func (e *TxFailedError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("%s transaction %s failed: %v", e.Op, e.Signature, e.Err)
	}
	return fmt.Sprintf("%s transaction failed: %v", e.Op, e.Err)
}

func (e *TxFailedError) Unwrap() error { return e.Err }

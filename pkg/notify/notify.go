// Package notify posts pipeline outcomes to a Slack incoming webhook. When no
// webhook URL is configured it degrades to logging only.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/emberlabs/furnace/pkg/ledger"
	"github.com/emberlabs/furnace/pkg/pipeline"
)

type Config struct {
	Logger     *slog.Logger
	WebhookURL string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

type Notifier struct {
	log        *slog.Logger
	webhookURL string
}

func New(cfg Config) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Notifier{log: cfg.Logger, webhookURL: cfg.WebhookURL}, nil
}

// NotifySuccess posts the four stage signatures and the measured amounts.
func (n *Notifier) NotifySuccess(ctx context.Context, res *pipeline.Result) error {
	n.log.Info("notify: pipeline succeeded",
		"run_id", res.RunID,
		"claimed_sol", ledger.LamportsToSOL(res.Claim.ClaimedLamports),
		"tokens_burned", res.Burn.TokensBurned)

	if n.webhookURL == "" {
		return nil
	}

	fields := []slack.AttachmentField{
		{Title: "Claimed", Value: fmt.Sprintf("%.9f SOL", ledger.LamportsToSOL(res.Claim.ClaimedLamports)), Short: true},
		{Title: "Treasury", Value: fmt.Sprintf("%.9f SOL", ledger.LamportsToSOL(res.Claim.TreasuryLamports)), Short: true},
		{Title: "Buyback spend", Value: fmt.Sprintf("%.9f SOL", ledger.LamportsToSOL(res.Buyback.LamportsSpent)), Short: true},
		{Title: "Tokens burned", Value: res.Burn.TokensBurned, Short: true},
		{Title: "Claim tx", Value: res.Claim.Signature},
		{Title: "Treasury tx", Value: res.TreasurySignature},
		{Title: "Buyback tx", Value: res.Buyback.Signature},
		{Title: "Burn tx", Value: res.Burn.Signature},
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":fire: Fee claim pipeline completed (run %s)", res.RunID),
		Attachments: []slack.Attachment{{
			Color:  "good",
			Fields: fields,
		}},
	}
	return n.post(ctx, msg)
}

// NotifyFailure posts the failed stage, the error and the timestamp. Partial
// progress (e.g. a confirmed claim before a failed buyback) is included so an
// operator can reconcile manually.
func (n *Notifier) NotifyFailure(ctx context.Context, res *pipeline.Result) error {
	n.log.Error("notify: pipeline failed",
		"run_id", res.RunID, "stage", res.FailedStage, "error", res.Err)

	if n.webhookURL == "" {
		return nil
	}

	fields := []slack.AttachmentField{
		{Title: "Stage", Value: string(res.FailedStage), Short: true},
		{Title: "At", Value: res.FinishedAt.UTC().Format(time.RFC3339), Short: true},
		{Title: "Error", Value: res.Err.Error()},
	}
	if res.Claim != nil {
		fields = append(fields, slack.AttachmentField{Title: "Claim tx", Value: res.Claim.Signature})
	}
	if res.TreasurySignature != "" {
		fields = append(fields, slack.AttachmentField{Title: "Treasury tx", Value: res.TreasurySignature})
	}
	if res.Buyback != nil {
		fields = append(fields, slack.AttachmentField{Title: "Buyback tx", Value: res.Buyback.Signature})
	}

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":rotating_light: Fee claim pipeline failed (run %s)", res.RunID),
		Attachments: []slack.Attachment{{
			Color:  "danger",
			Fields: fields,
		}},
	}
	return n.post(ctx, msg)
}

// post returns webhook failures to the caller; the orchestrator logs them
// without aborting the pipeline.
func (n *Notifier) post(ctx context.Context, msg *slack.WebhookMessage) error {
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	return nil
}

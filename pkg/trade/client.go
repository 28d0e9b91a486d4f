// Package trade talks to the bonding-curve trade API. The API builds unsigned
// transactions (creator-fee claim, token buy) for a given wallet and reports
// the wallet's current claimable-fee estimate. Signing and submission stay on
// our side.
package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/emberlabs/furnace/pkg/pipeline"
)

// DefaultBaseURL is the default trade API endpoint.
const DefaultBaseURL = "https://pumpportal.fun/api"

type Config struct {
	Logger  *slog.Logger
	BaseURL string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Timeout    time.Duration
	// PriorityFeeSOL is attached to build requests so the API sizes compute
	// budget instructions appropriately.
	PriorityFeeSOL float64
	// SlippagePercent for buy transactions.
	SlippagePercent float64
	// Pool selects the liquidity venue for buys.
	Pool string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SlippagePercent <= 0 {
		cfg.SlippagePercent = 5
	}
	if cfg.Pool == "" {
		cfg.Pool = "pump"
	}
	return nil
}

type Client struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{log: cfg.Logger, cfg: cfg, http: httpClient}, nil
}

type buildRequest struct {
	Action          string  `json:"action"`
	PublicKey       string  `json:"publicKey"`
	Mint            string  `json:"mint,omitempty"`
	Amount          uint64  `json:"amount,omitempty"`
	DenominatedInLP bool    `json:"denominatedInLamports,omitempty"`
	Slippage        float64 `json:"slippage,omitempty"`
	PriorityFee     float64 `json:"priorityFee,omitempty"`
	Pool            string  `json:"pool,omitempty"`
}

type buildResponse struct {
	Transaction string `json:"transaction"`
	Error       string `json:"error,omitempty"`
}

type feesResponse struct {
	ClaimableLamports uint64 `json:"claimableLamports"`
	Error             string `json:"error,omitempty"`
}

// ClaimableFees returns the wallet's current claimable creator-fee estimate in
// lamports. The value is advisory: it decides whether a claim is attempted,
// never how much was received.
func (c *Client) ClaimableFees(ctx context.Context, wallet string) (uint64, error) {
	endpoint := fmt.Sprintf("%s/creator-fees?wallet=%s", c.cfg.BaseURL, url.QueryEscape(wallet))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to query claimable fees: %w", err)
	}
	defer resp.Body.Close()

	var out feesResponse
	if err := decodeResponse(resp, "fees", &out); err != nil {
		return 0, err
	}
	return out.ClaimableLamports, nil
}

// BuildClaimTransaction asks the trade API for an unsigned creator-fee claim
// transaction for the wallet, serialized in base58.
func (c *Client) BuildClaimTransaction(ctx context.Context, wallet string) (string, error) {
	return c.build(ctx, "claim", buildRequest{
		Action:      "collectCreatorFee",
		PublicKey:   wallet,
		PriorityFee: c.cfg.PriorityFeeSOL,
	})
}

// BuildBuyTransaction asks the trade API for an unsigned buy transaction
// spending exactly lamports of SOL on the given mint.
func (c *Client) BuildBuyTransaction(ctx context.Context, wallet, mint string, lamports uint64) (string, error) {
	return c.build(ctx, "buy", buildRequest{
		Action:          "buy",
		PublicKey:       wallet,
		Mint:            mint,
		Amount:          lamports,
		DenominatedInLP: true,
		Slippage:        c.cfg.SlippagePercent,
		PriorityFee:     c.cfg.PriorityFeeSOL,
		Pool:            c.cfg.Pool,
	})
}

func (c *Client) build(ctx context.Context, op string, reqBody buildRequest) (string, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	endpoint := c.cfg.BaseURL + "/trade-local"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send %s request: %w", op, err)
	}
	defer resp.Body.Close()

	var out buildResponse
	if err := decodeResponse(resp, op, &out); err != nil {
		return "", err
	}
	if out.Transaction == "" {
		return "", &pipeline.TradeRejectedError{Op: op, Message: "empty transaction in response"}
	}

	c.log.Debug("trade: transaction built", "op", op, "bytes", len(out.Transaction))
	return out.Transaction, nil
}

// decodeResponse distinguishes application-level declines (4xx with an error
// message, surfaced as TradeRejectedError) from transport and server failures.
func decodeResponse(resp *http.Response, op string, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg := extractError(raw)
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &pipeline.TradeRejectedError{Op: op, Message: msg}
	}
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{op: op, code: resp.StatusCode}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

func extractError(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	return e.Error
}

// httpStatusError carries the status code so the retry layer can classify
// 5xx responses as transient.
type httpStatusError struct {
	op   string
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("trade service %s request failed with status %d", e.op, e.code)
}

func (e *httpStatusError) StatusCode() int { return e.code }

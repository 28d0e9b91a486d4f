package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/emberlabs/furnace/pkg/pipeline"
)

const defaultHistoryLimit = 50

// runResponse is the JSON-safe projection of a pipeline run.
type runResponse struct {
	RunID       string                   `json:"run_id"`
	Success     bool                     `json:"success"`
	Skipped     bool                     `json:"skipped"`
	Reason      string                   `json:"reason"`
	FailedStage string                   `json:"failed_stage,omitempty"`
	Error       string                   `json:"error,omitempty"`
	Claim       *pipeline.ClaimResult    `json:"claim,omitempty"`
	TreasuryTx  string                   `json:"treasury_tx,omitempty"`
	Buyback     *pipeline.BuybackResult  `json:"buyback,omitempty"`
	Burn        *pipeline.BurnResult     `json:"burn,omitempty"`
}

func toRunResponse(res *pipeline.Result) runResponse {
	out := runResponse{
		RunID:       res.RunID.String(),
		Success:     res.Success,
		Skipped:     res.Skipped,
		Reason:      res.Reason,
		FailedStage: string(res.FailedStage),
		Claim:       res.Claim,
		TreasuryTx:  res.TreasurySignature,
		Buyback:     res.Buyback,
		Burn:        res.Burn,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

// handleReadyz reports ready once the status row is reachable, meaning the
// database is up and migrated.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cfg.Scheduler.Status(r.Context()); err != nil {
		s.log.Debug("readyz: not ready", "error", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.cfg.VersionInfo)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Scheduler.Status(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, status)
}

// handleTrigger runs the pipeline now. A run already in flight yields 409;
// the trigger is refused, never queued.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	res, err := s.cfg.Scheduler.TriggerNow(r.Context(), force)
	switch {
	case errors.Is(err, pipeline.ErrClaimInProgress):
		s.respondError(w, http.StatusConflict, err)
		return
	case errors.Is(err, pipeline.ErrSystemPaused):
		s.respondError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, toRunResponse(res))
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	decision, err := s.cfg.Scheduler.CheckOnly(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"should_claim":       decision.ShouldClaim,
		"claimable_lamports": decision.ClaimableLamports,
		"reason":             decision.Reason,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Pause(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Scheduler.Resume(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := s.cfg.Store.RecentClaims(r.Context(), historyLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, claims)
}

func (s *Server) handleBuybacks(w http.ResponseWriter, r *http.Request) {
	buybacks, err := s.cfg.Store.RecentBuybacks(r.Context(), historyLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, buybacks)
}

func (s *Server) handleBurns(w http.ResponseWriter, r *http.Request) {
	burns, err := s.cfg.Store.RecentBurns(r.Context(), historyLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, burns)
}

func (s *Server) handleChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := s.cfg.Store.RecentChecks(r.Context(), historyLimit(r))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, checks)
}

func historyLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return defaultHistoryLimit
	}
	return limit
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/httputil"
	"github.com/driftline/drift.report/internal/timeutil"
	"github.com/driftline/drift.report/internal/version"
)

func (s *Server) listSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	filter := db.SignalFilter{
		TeamID:     r.URL.Query().Get("team_id"),
		SignalType: r.URL.Query().Get("signal_type"),
		Status:     r.URL.Query().Get("status"),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		filter.Limit = limit
	}

	signals, err := s.db.ListSignals(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list signals: %v", err))
		return
	}
	if signals == nil {
		signals = []*db.Signal{}
	}
	httputil.WriteJSONOK(w, signals)
}

func (s *Server) showSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}

	signal, err := s.db.GetSignal(r.Context(), id)
	if errors.Is(err, db.ErrSignalNotFound) {
		httputil.NotFound(w, "signal not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get signal: %v", err))
		return
	}
	httputil.WriteJSONOK(w, signal)
}

type signalStatusRequest struct {
	SignalID string  `json:"signal_id"`
	Status   string  `json:"status"`
	Owner    *string `json:"owner,omitempty"`
}

func (s *Server) updateSignalStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req signalStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.SignalID == "" {
		httputil.BadRequest(w, "missing signal_id")
		return
	}
	if !db.ValidSignalStatus(req.Status) {
		httputil.BadRequest(w, fmt.Sprintf("invalid status %q", req.Status))
		return
	}

	err := s.db.UpdateSignalStatus(r.Context(), req.SignalID, req.Status, req.Owner)
	if errors.Is(err, db.ErrSignalNotFound) {
		httputil.NotFound(w, "signal not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to update status: %v", err))
		return
	}

	signal, err := s.db.GetSignal(r.Context(), req.SignalID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to reload signal: %v", err))
		return
	}
	httputil.WriteJSONOK(w, signal)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	teamID := r.URL.Query().Get("team_id")
	weekRaw := r.URL.Query().Get("week")
	if teamID == "" || weekRaw == "" {
		httputil.BadRequest(w, "missing 'team_id' or 'week' parameter")
		return
	}
	week, err := timeutil.ParseWeek(weekRaw)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid week: %v", err))
		return
	}

	entries, err := s.db.ListAudit(r.Context(), teamID, week)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list audit entries: %v", err))
		return
	}
	if entries == nil {
		entries = []db.AuditEntry{}
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	// Report resolved values, not the sparse overrides file.
	httputil.WriteJSONOK(w, map[string]interface{}{
		"baseline_window_weeks":   s.cfg.GetBaselineWindowWeeks(),
		"min_baseline_weeks":      s.cfg.GetMinBaselineWeeks(),
		"risk_z":                  s.cfg.GetRiskZ(),
		"risk_sustain_weeks":      s.cfg.GetRiskSustainWeeks(),
		"critical_z":              s.cfg.GetCriticalZ(),
		"critical_sustain_weeks":  s.cfg.GetCriticalSustainWeeks(),
		"slow_burn_z":             s.cfg.GetSlowBurnZ(),
		"slow_burn_sustain_weeks": s.cfg.GetSlowBurnSustainWeeks(),
		"min_group_size":          s.cfg.GetMinGroupSize(),
		"min_data_coverage":       s.cfg.GetMinDataCoverage(),
		"min_sample_size":         s.cfg.GetMinSampleSize(),
		"recheck_delay_days":      s.cfg.GetRecheckDelayDays(),
		"worker_parallelism":      s.cfg.GetWorkerParallelism(),
		"worker_interval":         s.cfg.GetWorkerInterval(),
	})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

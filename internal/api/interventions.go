package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/httputil"
	"github.com/driftline/drift.report/internal/outcome"
)

func (s *Server) interventionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listInterventions(w, r)
	case http.MethodPost:
		s.createIntervention(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listInterventions(w http.ResponseWriter, r *http.Request) {
	filter := db.InterventionFilter{
		TeamID:   r.URL.Query().Get("team_id"),
		SignalID: r.URL.Query().Get("signal_id"),
		Status:   r.URL.Query().Get("status"),
	}

	ivs, err := s.db.ListInterventions(r.Context(), filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list interventions: %v", err))
		return
	}
	if ivs == nil {
		ivs = []*db.Intervention{}
	}
	httputil.WriteJSONOK(w, ivs)
}

type createInterventionRequest struct {
	SignalID     string   `json:"signal_id"`
	ActionTaken  string   `json:"action_taken"`
	MetricBefore *float64 `json:"metric_before,omitempty"`
	StartDate    string   `json:"start_date,omitempty"` // YYYY-MM-DD, defaults to today
}

func (s *Server) createIntervention(w http.ResponseWriter, r *http.Request) {
	var req createInterventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.SignalID == "" || req.ActionTaken == "" {
		httputil.BadRequest(w, "missing signal_id or action_taken")
		return
	}

	signal, err := s.db.GetSignal(r.Context(), req.SignalID)
	if errors.Is(err, db.ErrSignalNotFound) {
		httputil.NotFound(w, "signal not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get signal: %v", err))
		return
	}

	start := s.clock.Now().UTC().Truncate(24 * time.Hour)
	if req.StartDate != "" {
		start, err = time.Parse(db.DateFormat, req.StartDate)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid start_date: %v", err))
			return
		}
	}

	before := req.MetricBefore
	if before == nil {
		// Default to the metric value the signal fired on.
		v := signal.CurrentValue
		before = &v
	}

	iv := &db.Intervention{
		SignalID:     signal.SignalID,
		TeamID:       signal.TeamID,
		MetricKey:    signal.MetricKey,
		SignalType:   signal.SignalType,
		ActionTaken:  req.ActionTaken,
		MetricBefore: before,
		StartDate:    start,
		RecheckDate:  start.AddDate(0, 0, s.cfg.GetRecheckDelayDays()),
	}
	if err := s.db.CreateIntervention(r.Context(), iv); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create intervention: %v", err))
		return
	}
	httputil.WriteJSONCreated(w, iv)
}

type outcomeOverrideRequest struct {
	InterventionID string  `json:"intervention_id"`
	MetricAfter    float64 `json:"metric_after"`
	UserNotes      string  `json:"user_notes"`
}

// overrideOutcome records a manually supplied outcome. Unlike the tracker's
// automatic path this may replace an auto-computed result; the notes say why.
func (s *Server) overrideOutcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req outcomeOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.InterventionID == "" {
		httputil.BadRequest(w, "missing intervention_id")
		return
	}
	if req.UserNotes == "" {
		httputil.BadRequest(w, "missing user_notes: overrides must say why")
		return
	}

	iv, err := s.db.GetIntervention(r.Context(), req.InterventionID)
	if errors.Is(err, db.ErrInterventionNotFound) {
		httputil.NotFound(w, "intervention not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to get intervention: %v", err))
		return
	}
	if iv.MetricBefore == nil || *iv.MetricBefore == 0 {
		httputil.Conflict(w, "intervention has no usable before value to compare against")
		return
	}

	polarity, err := outcome.ForSignalType(iv.SignalType)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	before := *iv.MetricBefore
	change := outcome.PercentChange(before, req.MetricAfter)
	improved := polarity.Improved(before, req.MetricAfter)

	err = s.db.OverrideOutcome(r.Context(), iv.InterventionID, req.MetricAfter, change, improved, req.UserNotes)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to record outcome: %v", err))
		return
	}

	summary := fmt.Sprintf("%s %+.1f%%", iv.MetricKey, change)
	if improved {
		summary += " (improved)"
	} else {
		summary += " (not improved)"
	}
	if err := s.db.SetSignalOutcome(r.Context(), iv.SignalID, summary); err != nil && !errors.Is(err, db.ErrSignalNotFound) {
		httputil.InternalServerError(w, fmt.Sprintf("failed to update signal outcome: %v", err))
		return
	}

	updated, err := s.db.GetIntervention(r.Context(), iv.InterventionID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to reload intervention: %v", err))
		return
	}
	httputil.WriteJSONOK(w, updated)
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/httputil"
	"github.com/driftline/drift.report/internal/timeutil"
)

// observationRequest is the wire form of one landed weekly observation. The
// week is a Monday date string rather than a timestamp so connectors cannot
// land off-boundary weeks.
type observationRequest struct {
	TeamID           string  `json:"team_id"`
	MetricKey        string  `json:"metric_key"`
	WeekStart        string  `json:"week_start"`
	Value            float64 `json:"value"`
	SampleSize       int     `json:"sample_size"`
	ActivePopulation int     `json:"active_population"`
	ActiveWithData   int     `json:"active_with_data"`
	SourceCount      int     `json:"source_count"`
}

func (req observationRequest) validate() error {
	if req.TeamID == "" {
		return fmt.Errorf("missing team_id")
	}
	if req.MetricKey == "" {
		return fmt.Errorf("missing metric_key")
	}
	if req.SampleSize < 0 || req.ActivePopulation < 0 || req.ActiveWithData < 0 || req.SourceCount < 0 {
		return fmt.Errorf("counts must be non-negative")
	}
	if req.ActiveWithData > req.ActivePopulation {
		return fmt.Errorf("active_with_data %d exceeds active_population %d",
			req.ActiveWithData, req.ActivePopulation)
	}
	return nil
}

// landObservations accepts a batch of weekly observations from the upstream
// connector pipeline. The whole batch is validated before anything lands;
// landing is an overwrite-on-conflict so connector retries are safe.
func (s *Server) landObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var batch []observationRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		httputil.BadRequest(w, "invalid request body: expected a JSON array of observations")
		return
	}
	if len(batch) == 0 {
		httputil.BadRequest(w, "empty batch")
		return
	}

	observations := make([]db.MetricObservation, 0, len(batch))
	for i, req := range batch {
		if err := req.validate(); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("observation %d: %v", i, err))
			return
		}
		week, err := timeutil.ParseWeek(req.WeekStart)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("observation %d: %v", i, err))
			return
		}
		observations = append(observations, db.MetricObservation{
			TeamID:           req.TeamID,
			MetricKey:        req.MetricKey,
			WeekStart:        week,
			Value:            req.Value,
			SampleSize:       req.SampleSize,
			ActivePopulation: req.ActivePopulation,
			ActiveWithData:   req.ActiveWithData,
			SourceCount:      req.SourceCount,
		})
	}

	for _, o := range observations {
		if err := s.db.UpsertObservation(r.Context(), o); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to land observation: %v", err))
			return
		}
	}

	httputil.WriteJSONOK(w, map[string]int{"landed": len(observations)})
}

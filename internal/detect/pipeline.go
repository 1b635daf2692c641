package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/drift.report/internal/config"
	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/timeutil"
)

// Detector runs the full weekly evaluation for one signal type on one team:
// baseline, deviation fold, privacy guardrail, severity, confidence, driver
// attribution and signal upsert. Every evaluation writes exactly one audit
// entry describing its outcome.
type Detector struct {
	DB     *db.DB
	Config *config.DetectionConfig
	OrgID  string
}

// EvaluateWeek evaluates one team against one signal type for the given week.
// It returns the emitted or refreshed signal, or nil when the week resolved to
// a non-emission outcome (no data, thin baseline, privacy suppression, or
// value inside the baseline band). Re-running the same week is idempotent:
// the streak fold lands on the same state and the signal upsert rewrites the
// same statistics.
func (d *Detector) EvaluateWeek(ctx context.Context, teamID string, st SignalType, week time.Time) (*db.Signal, error) {
	week = timeutil.TruncateWeek(week)

	current, err := d.DB.GetObservation(ctx, teamID, st.MetricKey, week)
	if errors.Is(err, db.ErrNoObservation) {
		return nil, d.audit(ctx, teamID, st.Key, week, db.AuditNoCurrentData,
			fmt.Sprintf("no %s observation landed", st.MetricKey))
	}
	if err != nil {
		return nil, err
	}

	windowWeeks := d.Config.GetBaselineWindowWeeks()
	window, err := d.DB.GetSeries(ctx, teamID, st.MetricKey, timeutil.PrevWeek(week), windowWeeks)
	if err != nil {
		return nil, err
	}

	baseline, err := BuildBaseline(window, windowWeeks, d.Config.GetMinBaselineWeeks())
	if errors.Is(err, ErrInsufficientBaseline) {
		return nil, d.audit(ctx, teamID, st.Key, week, db.AuditInsufficientBaseline, err.Error())
	}
	if err != nil {
		return nil, err
	}

	prev, err := d.DB.GetDeviationState(ctx, teamID, st.MetricKey)
	if err != nil {
		return nil, err
	}

	th := ThresholdsFromConfig(d.Config)
	deviation, next := ComputeDeviation(week, current.Value, baseline, prev, th)
	next.TeamID = teamID
	next.MetricKey = st.MetricKey

	// The streak state commits regardless of emission. The guardrail and the
	// in-band check gate what the outside world sees, not what the fold knows;
	// otherwise a suppressed week would silently break streak continuity.
	if err := d.DB.PutDeviationState(ctx, next); err != nil {
		return nil, err
	}

	if ok, reason := EvaluateGuardrail(current, d.Config); !ok {
		return nil, d.audit(ctx, teamID, st.Key, week, db.AuditSuppressedPrivacy, reason)
	}

	if next.Direction == 0 {
		return nil, d.audit(ctx, teamID, st.Key, week, db.AuditNoDeviation,
			fmt.Sprintf("robust_z %.2f inside baseline band", deviation.RobustZ))
	}

	factors := ConfidenceFactors{
		DataCoverage:       current.Coverage(),
		BaselineConfidence: baseline.Confidence,
		SustainFactor:      SustainFactor(deviation),
		SourceQuality:      SourceQuality(current.SourceCount),
	}

	drivers, err := d.rankDriversForWeek(ctx, teamID, st, week)
	if err != nil {
		return nil, err
	}

	signal := &db.Signal{
		OrgID:              d.OrgID,
		TeamID:             teamID,
		SignalType:         st.Key,
		WeekStart:          week,
		MetricKey:          st.MetricKey,
		Severity:           ClassifySeverity(deviation),
		Confidence:         factors.Combine(),
		CurrentValue:       current.Value,
		Baseline:           baseline,
		Deviation:          deviation,
		Drivers:            drivers,
		Consequence:        st.Consequence(deviation.DeltaPct),
		RecommendedActions: st.RecommendedActions,
	}

	if err := d.DB.UpsertSignalStats(ctx, signal); err != nil {
		return nil, err
	}

	return signal, d.audit(ctx, teamID, st.Key, week, db.AuditSignalEmitted,
		fmt.Sprintf("severity %s, robust_z %.2f, sustained %d weeks",
			signal.Severity, deviation.RobustZ, deviation.SustainedWeeks))
}

// rankDriversForWeek builds the attribution list by comparing each sub-metric
// of the signal type against its own baseline median. Sub-metrics without a
// current observation or a usable baseline simply drop out of the ranking.
func (d *Detector) rankDriversForWeek(ctx context.Context, teamID string, st SignalType, week time.Time) ([]db.Driver, error) {
	windowWeeks := d.Config.GetBaselineWindowWeeks()
	minWeeks := d.Config.GetMinBaselineWeeks()

	var candidates []DriverCandidate
	for _, spec := range st.Drivers {
		o, err := d.DB.GetObservation(ctx, teamID, spec.Key, week)
		if errors.Is(err, db.ErrNoObservation) {
			continue
		}
		if err != nil {
			return nil, err
		}

		window, err := d.DB.GetSeries(ctx, teamID, spec.Key, timeutil.PrevWeek(week), windowWeeks)
		if err != nil {
			return nil, err
		}
		b, err := BuildBaseline(window, windowWeeks, minWeeks)
		if errors.Is(err, ErrInsufficientBaseline) {
			continue
		}
		if err != nil {
			return nil, err
		}

		c := DriverCandidate{
			Key:      spec.Key,
			Label:    spec.Label,
			Value:    o.Value,
			DeltaAbs: o.Value - b.Median,
		}
		if b.Median != 0 {
			c.DeltaPct = c.DeltaAbs / b.Median
		}
		candidates = append(candidates, c)
	}

	return RankDrivers(candidates), nil
}

// ReplaySeries re-folds a team's full stored history for one signal type:
// the streak state is reset and every observed week of the primary metric is
// re-evaluated in chronological order. Used by backfill after landing
// historical observations out of order.
func (d *Detector) ReplaySeries(ctx context.Context, teamID, signalType string) (int, error) {
	st, err := LookupSignalType(signalType)
	if err != nil {
		return 0, err
	}

	if err := d.DB.ResetDeviationState(ctx, teamID, st.MetricKey); err != nil {
		return 0, err
	}

	weeks, err := d.DB.ObservedWeeks(ctx, teamID, st.MetricKey)
	if err != nil {
		return 0, err
	}

	emitted := 0
	for _, w := range weeks {
		s, err := d.EvaluateWeek(ctx, teamID, st, w)
		if err != nil {
			return emitted, fmt.Errorf("replay %s %s week %s: %w",
				teamID, signalType, timeutil.FormatWeek(w), err)
		}
		if s != nil {
			emitted++
		}
	}
	return emitted, nil
}

func (d *Detector) audit(ctx context.Context, teamID, signalType string, week time.Time, outcome, detail string) error {
	return d.DB.RecordAudit(ctx, db.AuditEntry{
		OrgID:      d.OrgID,
		TeamID:     teamID,
		SignalType: signalType,
		WeekStart:  week,
		Outcome:    outcome,
		Detail:     detail,
	})
}

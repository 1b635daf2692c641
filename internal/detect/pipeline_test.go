package detect

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/drift.report/internal/db"
)

// seedCoordinationScenario lands a stable meeting_hours history for weeks 7..2
// and elevated values for weeks 1 and 0, plus two driver sub-metric series.
func seedCoordinationScenario(t *testing.T, d *Detector, teamID string) {
	t.Helper()
	seedSeries(t, d.DB, teamID, "meeting_hours", 2, 20, 21, 22, 21, 20, 22)
	seedObs(t, d.DB, obs(teamID, "meeting_hours", week(t, 1), 30))
	seedObs(t, d.DB, obs(teamID, "meeting_hours", week(t, 0), 30))

	// meetings_count jumps 50%, back_to_back_ratio 30%.
	seedSeries(t, d.DB, teamID, "meetings_count", 1, 10, 10, 10, 10, 10, 10, 10)
	seedObs(t, d.DB, obs(teamID, "meetings_count", week(t, 0), 15))
	seedSeries(t, d.DB, teamID, "back_to_back_ratio", 1, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2)
	seedObs(t, d.DB, obs(teamID, "back_to_back_ratio", week(t, 0), 0.26))
}

func coordinationRisk(t *testing.T) SignalType {
	t.Helper()
	st, err := LookupSignalType("coordination-risk")
	require.NoError(t, err)
	return st
}

func TestEvaluateWeek(t *testing.T) {
	t.Parallel()

	t.Run("first deviating week emits an info signal", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedCoordinationScenario(t, d, "team-1")

		s, err := d.EvaluateWeek(context.Background(), "team-1", coordinationRisk(t), week(t, 1))
		require.NoError(t, err)
		require.NotNil(t, s)

		assert.Equal(t, db.SeverityInfo, s.Severity)
		assert.Equal(t, db.StatusOpen, s.Status)
		assert.InDelta(t, 9.0/1.4826, s.Deviation.RobustZ, 1e-9)
		assert.Equal(t, 1, s.Deviation.SustainedWeeks)
		assert.False(t, s.Deviation.MeetsRisk)
		assert.Greater(t, s.Confidence, 0.0)
		assert.Less(t, s.Confidence, 1.0)

		entries, err := d.DB.ListAudit(context.Background(), "team-1", week(t, 1))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, db.AuditSignalEmitted, entries[0].Outcome)
	})

	t.Run("second sustained week escalates to risk", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedCoordinationScenario(t, d, "team-1")
		st := coordinationRisk(t)

		_, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 1))
		require.NoError(t, err)

		s, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 0))
		require.NoError(t, err)
		require.NotNil(t, s)

		assert.Equal(t, db.SeverityRisk, s.Severity)
		assert.Equal(t, 2, s.Deviation.SustainedWeeks)
		assert.True(t, s.Deviation.MeetsRisk)
		require.NotNil(t, s.Deviation.DeviationStartWeek)
		assert.Equal(t, week(t, 1), *s.Deviation.DeviationStartWeek)

		// Drivers ranked by percent magnitude.
		require.Len(t, s.Drivers, 2)
		assert.Equal(t, "meetings_count", s.Drivers[0].Key)
		assert.InDelta(t, 0.5, s.Drivers[0].DeltaPct, 1e-9)
		assert.Equal(t, "back_to_back_ratio", s.Drivers[1].Key)
		assert.Contains(t, s.Consequence, "above this team's recent norm")
	})

	t.Run("re-running a week is idempotent", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedCoordinationScenario(t, d, "team-1")
		st := coordinationRisk(t)

		_, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 1))
		require.NoError(t, err)
		first, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 0))
		require.NoError(t, err)

		second, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 0))
		require.NoError(t, err)
		require.NotNil(t, second)

		assert.Equal(t, first.SignalID, second.SignalID)
		if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(db.Signal{}, "UpdatedAt")); diff != "" {
			t.Errorf("re-run changed signal statistics (-first +second):\n%s", diff)
		}

		// Still exactly two signals: one per week, no duplicates.
		signals, err := d.DB.ListSignals(context.Background(), db.SignalFilter{TeamID: "team-1"})
		require.NoError(t, err)
		assert.Len(t, signals, 2)
	})

	t.Run("re-run preserves human triage fields", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedCoordinationScenario(t, d, "team-1")
		st := coordinationRisk(t)

		s, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 1))
		require.NoError(t, err)
		owner := "sam"
		require.NoError(t, d.DB.UpdateSignalStatus(context.Background(), s.SignalID, db.StatusAcknowledged, &owner))

		again, err := d.EvaluateWeek(context.Background(), "team-1", st, week(t, 1))
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, db.StatusAcknowledged, again.Status)
		require.NotNil(t, again.Owner)
		assert.Equal(t, "sam", *again.Owner)
	})

	t.Run("in-band week audits no_deviation and emits nothing", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedSeries(t, d.DB, "team-1", "meeting_hours", 1, 20, 21, 22, 21, 20, 22)
		seedObs(t, d.DB, obs("team-1", "meeting_hours", week(t, 0), 21))

		s, err := d.EvaluateWeek(context.Background(), "team-1", coordinationRisk(t), week(t, 0))
		require.NoError(t, err)
		assert.Nil(t, s)

		entries, err := d.DB.ListAudit(context.Background(), "team-1", week(t, 0))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, db.AuditNoDeviation, entries[0].Outcome)
	})

	t.Run("privacy guardrail suppresses emission but commits the fold", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedSeries(t, d.DB, "team-1", "meeting_hours", 1, 20, 21, 22, 21, 20, 22)
		small := obs("team-1", "meeting_hours", week(t, 0), 30)
		small.ActivePopulation = 7
		small.ActiveWithData = 7
		seedObs(t, d.DB, small)

		s, err := d.EvaluateWeek(context.Background(), "team-1", coordinationRisk(t), week(t, 0))
		require.NoError(t, err)
		assert.Nil(t, s)

		_, err = d.DB.GetSignalByKey(context.Background(), d.OrgID, "team-1", "coordination-risk", week(t, 0))
		assert.ErrorIs(t, err, db.ErrSignalNotFound)

		entries, err := d.DB.ListAudit(context.Background(), "team-1", week(t, 0))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, db.AuditSuppressedPrivacy, entries[0].Outcome)

		state, err := d.DB.GetDeviationState(context.Background(), "team-1", "meeting_hours")
		require.NoError(t, err)
		assert.Equal(t, 1, state.SustainedWeeks)
	})

	t.Run("thin baseline audits insufficient_baseline", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedSeries(t, d.DB, "team-1", "meeting_hours", 1, 20, 21)
		seedObs(t, d.DB, obs("team-1", "meeting_hours", week(t, 0), 30))

		s, err := d.EvaluateWeek(context.Background(), "team-1", coordinationRisk(t), week(t, 0))
		require.NoError(t, err)
		assert.Nil(t, s)

		entries, err := d.DB.ListAudit(context.Background(), "team-1", week(t, 0))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, db.AuditInsufficientBaseline, entries[0].Outcome)
	})

	t.Run("missing current week audits no_current_data", func(t *testing.T) {
		t.Parallel()
		d := setupDetector(t)
		seedSeries(t, d.DB, "team-1", "meeting_hours", 1, 20, 21, 22, 21, 20, 22)

		s, err := d.EvaluateWeek(context.Background(), "team-1", coordinationRisk(t), week(t, 0))
		require.NoError(t, err)
		assert.Nil(t, s)

		entries, err := d.DB.ListAudit(context.Background(), "team-1", week(t, 0))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, db.AuditNoCurrentData, entries[0].Outcome)
	})
}

func TestReplaySeries(t *testing.T) {
	t.Parallel()
	d := setupDetector(t)
	seedCoordinationScenario(t, d, "team-1")

	// Seed a stale state that the replay must discard.
	require.NoError(t, d.DB.PutDeviationState(context.Background(), db.StreakState{
		TeamID: "team-1", MetricKey: "meeting_hours",
		LastWeek: week(t, 0), Direction: -1, SustainedWeeks: 9,
	}))

	emitted, err := d.ReplaySeries(context.Background(), "team-1", "coordination-risk")
	require.NoError(t, err)
	assert.Equal(t, 2, emitted)

	s, err := d.DB.GetSignalByKey(context.Background(), d.OrgID, "team-1", "coordination-risk", week(t, 0))
	require.NoError(t, err)
	assert.Equal(t, db.SeverityRisk, s.Severity)
	assert.Equal(t, 2, s.Deviation.SustainedWeeks)

	state, err := d.DB.GetDeviationState(context.Background(), "team-1", "meeting_hours")
	require.NoError(t, err)
	assert.Equal(t, week(t, 0), state.LastWeek)
	assert.Equal(t, 1, state.Direction)
}

func TestReplaySeriesUnknownType(t *testing.T) {
	t.Parallel()
	d := setupDetector(t)
	_, err := d.ReplaySeries(context.Background(), "team-1", "nonsense")
	require.Error(t, err)
}

package outcome

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/timeutil"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drift_test.db")

	d, err := db.NewDB(path)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// week returns the Monday n weeks before the fixed anchor week 2026-08-17.
func week(t *testing.T, n int) time.Time {
	t.Helper()
	anchor, err := timeutil.ParseWeek("2026-08-17")
	if err != nil {
		t.Fatalf("bad anchor week: %v", err)
	}
	return anchor.AddDate(0, 0, -7*n)
}

func floatPtr(f float64) *float64 { return &f }

// seedScenario creates a signal, an intervention due at week 1, and the
// post-intervention observation. Returns the intervention.
func seedScenario(t *testing.T, d *db.DB, before float64, after *float64) *db.Intervention {
	t.Helper()

	s := &db.Signal{
		OrgID:      "org-1",
		TeamID:     "team-1",
		SignalType: "coordination-risk",
		WeekStart:  week(t, 4),
		MetricKey:  "meeting_hours",
		Severity:   db.SeverityRisk,
	}
	require.NoError(t, d.UpsertSignalStats(context.Background(), s))

	iv := &db.Intervention{
		SignalID:     s.SignalID,
		TeamID:       "team-1",
		MetricKey:    "meeting_hours",
		SignalType:   "coordination-risk",
		ActionTaken:  "cancelled two recurring meetings",
		MetricBefore: floatPtr(before),
		StartDate:    week(t, 3),
		RecheckDate:  week(t, 1),
	}
	require.NoError(t, d.CreateIntervention(context.Background(), iv))

	if after != nil {
		require.NoError(t, d.UpsertObservation(context.Background(), db.MetricObservation{
			TeamID:           "team-1",
			MetricKey:        "meeting_hours",
			WeekStart:        week(t, 1),
			Value:            *after,
			SampleSize:       10,
			ActivePopulation: 12,
			ActiveWithData:   10,
			SourceCount:      2,
		}))
	}
	return iv
}

func TestTrackerRunOnce(t *testing.T) {
	t.Parallel()

	t.Run("computes and records the outcome once due", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, floatPtr(22))

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		tr := NewTracker(d, clock)
		require.NoError(t, tr.RunOnce(context.Background()))

		got, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		assert.Equal(t, db.InterventionCompleted, got.Status)
		assert.True(t, got.AutoComputed)
		require.NotNil(t, got.MetricAfter)
		assert.InDelta(t, 22.0, *got.MetricAfter, 1e-12)
		require.NotNil(t, got.PercentChange)
		assert.InDelta(t, -26.6667, *got.PercentChange, 1e-3)
		require.NotNil(t, got.Improved)
		assert.True(t, *got.Improved)

		s, err := d.GetSignal(context.Background(), iv.SignalID)
		require.NoError(t, err)
		require.NotNil(t, s.Outcome)
		assert.Contains(t, *s.Outcome, "meeting_hours")
		assert.Contains(t, *s.Outcome, "improved")
	})

	t.Run("worse metric records not improved", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, floatPtr(36))

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		require.NoError(t, NewTracker(d, clock).RunOnce(context.Background()))

		got, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		require.NotNil(t, got.Improved)
		assert.False(t, *got.Improved)
		require.NotNil(t, got.PercentChange)
		assert.InDelta(t, 20.0, *got.PercentChange, 1e-9)
	})

	t.Run("rerun after completion is a no-op", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, floatPtr(22))

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		tr := NewTracker(d, clock)
		require.NoError(t, tr.RunOnce(context.Background()))

		first, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)

		require.NoError(t, tr.RunOnce(context.Background()))
		second, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)

		assert.Equal(t, first.ComputedAt, second.ComputedAt)
		assert.Equal(t, first.MetricAfter, second.MetricAfter)
	})

	t.Run("direct recheck of a computed outcome reports the race", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, floatPtr(22))

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		tr := NewTracker(d, clock)
		require.NoError(t, tr.Recheck(context.Background(), iv, clock.Now()))

		err := tr.Recheck(context.Background(), iv, clock.Now())
		assert.ErrorIs(t, err, db.ErrOutcomeAlreadyComputed)
	})

	t.Run("not due before the recheck date", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, floatPtr(22))

		clock := timeutil.NewMockClock(week(t, 2))
		require.NoError(t, NewTracker(d, clock).RunOnce(context.Background()))

		got, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		assert.Equal(t, db.InterventionActive, got.Status)
		assert.False(t, got.AutoComputed)
	})

	t.Run("missing data parks the intervention until it lands", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, nil)

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		tr := NewTracker(d, clock)
		require.NoError(t, tr.RunOnce(context.Background()))

		got, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		assert.Equal(t, db.InterventionPendingRecheck, got.Status)
		assert.False(t, got.AutoComputed)

		// Data lands; the next run completes the outcome.
		require.NoError(t, d.UpsertObservation(context.Background(), db.MetricObservation{
			TeamID: "team-1", MetricKey: "meeting_hours",
			WeekStart: week(t, 1), Value: 25,
			SampleSize: 10, ActivePopulation: 12, ActiveWithData: 10, SourceCount: 2,
		}))
		require.NoError(t, tr.RunOnce(context.Background()))

		got, err = d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		assert.Equal(t, db.InterventionCompleted, got.Status)
	})

	t.Run("missing before value parks for manual entry", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 30, floatPtr(22))
		iv.MetricBefore = nil

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		err := NewTracker(d, clock).Recheck(context.Background(), iv, clock.Now())
		assert.ErrorIs(t, err, ErrMissingBaseline)

		got, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		assert.Equal(t, db.InterventionPendingRecheck, got.Status)
		assert.False(t, got.AutoComputed)
	})

	t.Run("zero before value never completes an outcome", func(t *testing.T) {
		t.Parallel()
		d := setupTestDB(t)
		iv := seedScenario(t, d, 0, floatPtr(22))

		clock := timeutil.NewMockClock(week(t, 0).Add(24 * time.Hour))
		tr := NewTracker(d, clock)
		err := tr.Recheck(context.Background(), iv, clock.Now())
		assert.ErrorIs(t, err, ErrMissingBaseline)

		// The queue run absorbs the error and leaves no computed outcome.
		require.NoError(t, tr.RunOnce(context.Background()))

		got, err := d.GetIntervention(context.Background(), iv.InterventionID)
		require.NoError(t, err)
		assert.Equal(t, db.InterventionPendingRecheck, got.Status)
		assert.False(t, got.AutoComputed)
		assert.Nil(t, got.MetricAfter)
		assert.Nil(t, got.PercentChange)
		assert.Nil(t, got.Improved)
	})
}

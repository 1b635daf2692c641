package detect

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftline/drift.report/internal/config"
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

func setupDetector(t *testing.T) *Detector {
	t.Helper()
	return &Detector{
		DB:     setupTestDB(t),
		Config: config.EmptyDetectionConfig(),
		OrgID:  "org-1",
	}
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

// obs builds a fully populated observation that passes the default guardrail.
func obs(teamID, metricKey string, w time.Time, value float64) db.MetricObservation {
	return db.MetricObservation{
		TeamID:           teamID,
		MetricKey:        metricKey,
		WeekStart:        w,
		Value:            value,
		SampleSize:       10,
		ActivePopulation: 12,
		ActiveWithData:   10,
		SourceCount:      2,
		HasData:          true,
	}
}

func seedObs(t *testing.T, d *db.DB, o db.MetricObservation) {
	t.Helper()
	if err := d.UpsertObservation(context.Background(), o); err != nil {
		t.Fatalf("failed to seed observation: %v", err)
	}
}

// seedSeries lands one observation per value, ending numWeeks-1 weeks before
// the anchor so that the anchor week itself stays free for the test to drive.
func seedSeries(t *testing.T, d *db.DB, teamID, metricKey string, endOffset int, values ...float64) {
	t.Helper()
	for i, v := range values {
		w := week(t, endOffset+len(values)-1-i)
		seedObs(t, d, obs(teamID, metricKey, w, v))
	}
}

func defaultThresholds(t *testing.T) Thresholds {
	t.Helper()
	return ThresholdsFromConfig(config.EmptyDetectionConfig())
}

func windowOf(t *testing.T, values ...float64) []db.MetricObservation {
	t.Helper()
	window := make([]db.MetricObservation, 0, len(values))
	for i, v := range values {
		window = append(window, obs("team-1", "meeting_hours", week(t, len(values)-i), v))
	}
	return window
}

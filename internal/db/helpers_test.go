package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftline/drift.report/internal/timeutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drift_test.db")

	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

// week returns the Monday n weeks before the fixed anchor week 2026-08-17.
func week(t *testing.T, n int) time.Time {
	t.Helper()
	anchor, err := timeutil.ParseWeek("2026-08-17")
	if err != nil {
		t.Fatalf("bad anchor week: %v", err)
	}
	return anchor.AddDate(0, 0, -7*n)
}

// seedObservation inserts a fully populated observation for one week.
func seedObservation(t *testing.T, db *DB, teamID, metricKey string, w time.Time, value float64) {
	t.Helper()
	err := db.UpsertObservation(context.Background(), MetricObservation{
		TeamID:           teamID,
		MetricKey:        metricKey,
		WeekStart:        w,
		Value:            value,
		SampleSize:       10,
		ActivePopulation: 12,
		ActiveWithData:   10,
		SourceCount:      2,
	})
	if err != nil {
		t.Fatalf("failed to seed observation: %v", err)
	}
}

// seedSignal upserts a minimal signal and returns it.
func seedSignal(t *testing.T, db *DB, teamID string, w time.Time) *Signal {
	t.Helper()
	s := &Signal{
		OrgID:        "org-1",
		TeamID:       teamID,
		SignalType:   "coordination-risk",
		WeekStart:    w,
		MetricKey:    "meeting_hours",
		Severity:     SeverityRisk,
		Confidence:   0.8,
		CurrentValue: 30,
		Baseline: Baseline{
			Mean: 22, Median: 21, Std: 2, MAD: 1.5,
			P25: 20, P75: 23, Confidence: 1.0, WindowWeeks: 6,
		},
		Deviation: Deviation{
			DeltaAbs: 9, DeltaPct: 0.43, RobustZ: 4.05,
			SustainedWeeks: 2, MeetsRisk: true,
		},
		Drivers: []Driver{
			{Key: "meetings_count", Label: "Meetings held", Value: 41, DeltaAbs: 12, DeltaPct: 0.41},
		},
		Consequence:        "Meeting load is drifting above the team's usual rhythm.",
		RecommendedActions: []string{"audit recurring meetings"},
	}
	if err := db.UpsertSignalStats(context.Background(), s); err != nil {
		t.Fatalf("failed to seed signal: %v", err)
	}
	return s
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driftline/drift.report/internal/timeutil"
)

// StreakState is the persisted sustained-weeks fold state for one
// (team, metric) series. Each weekly run reads the prior week's committed
// state and writes the new one; nothing is held in process memory between
// runs.
type StreakState struct {
	TeamID             string
	MetricKey          string
	LastWeek           time.Time
	Direction          int // -1 below baseline, 0 in band, +1 above
	SustainedWeeks     int
	DeviationStartWeek *time.Time
}

// GetDeviationState returns the committed streak state for a series, or a
// zero state when the series has never been evaluated.
func (db *DB) GetDeviationState(ctx context.Context, teamID, metricKey string) (StreakState, error) {
	s := StreakState{TeamID: teamID, MetricKey: metricKey}

	var lastWeek string
	var startWeek sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT last_week, direction, sustained_weeks, deviation_start_week
		FROM deviation_state
		WHERE team_id = ? AND metric_key = ?
	`, teamID, metricKey).Scan(&lastWeek, &s.Direction, &s.SustainedWeeks, &startWeek)
	if err == sql.ErrNoRows {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to get deviation state: %w", err)
	}

	if s.LastWeek, err = timeutil.ParseWeek(lastWeek); err != nil {
		return s, err
	}
	if startWeek.Valid {
		w, err := timeutil.ParseWeek(startWeek.String)
		if err != nil {
			return s, err
		}
		s.DeviationStartWeek = &w
	}
	return s, nil
}

// PutDeviationState commits the streak state after evaluating a week.
func (db *DB) PutDeviationState(ctx context.Context, s StreakState) error {
	var startWeek interface{}
	if s.DeviationStartWeek != nil {
		startWeek = timeutil.FormatWeek(*s.DeviationStartWeek)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO deviation_state (
			team_id, metric_key, last_week, direction, sustained_weeks,
			deviation_start_week, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT(team_id, metric_key) DO UPDATE SET
			last_week = excluded.last_week,
			direction = excluded.direction,
			sustained_weeks = excluded.sustained_weeks,
			deviation_start_week = excluded.deviation_start_week,
			updated_at = UNIXEPOCH('subsec')
	`, s.TeamID, s.MetricKey, timeutil.FormatWeek(s.LastWeek),
		s.Direction, s.SustainedWeeks, startWeek)
	if err != nil {
		return fmt.Errorf("failed to put deviation state: %w", err)
	}
	return nil
}

// ResetDeviationState removes the committed state for a series. Backfill
// replays call this before re-folding the history from scratch.
func (db *DB) ResetDeviationState(ctx context.Context, teamID, metricKey string) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM deviation_state WHERE team_id = ? AND metric_key = ?
	`, teamID, metricKey)
	if err != nil {
		return fmt.Errorf("failed to reset deviation state: %w", err)
	}
	return nil
}

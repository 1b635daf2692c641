package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/drift.report/internal/timeutil"
)

// MetricObservation is one team's weekly scalar for one metric, as landed by
// the upstream connector pipeline. Finalised past weeks are immutable;
// re-landing the same (team, metric, week) overwrites in place so connector
// retries stay idempotent.
type MetricObservation struct {
	TeamID           string    `json:"team_id"`
	MetricKey        string    `json:"metric_key"`
	WeekStart        time.Time `json:"week_start"`
	Value            float64   `json:"value"`
	SampleSize       int       `json:"sample_size"`
	ActivePopulation int       `json:"active_population"`
	ActiveWithData   int       `json:"active_with_data"`
	SourceCount      int       `json:"source_count"`

	// HasData is false for weeks the series reader materialised to keep the
	// window contiguous; such entries carry zero values and are never stored.
	HasData bool `json:"has_data"`
}

// Coverage returns the fraction of the active population with usable data
// this week, in [0,1].
func (o MetricObservation) Coverage() float64 {
	if o.ActivePopulation <= 0 {
		return 0
	}
	c := float64(o.ActiveWithData) / float64(o.ActivePopulation)
	if c > 1 {
		return 1
	}
	return c
}

// ErrNoObservation is returned when a requested (team, metric, week) has no
// stored observation.
var ErrNoObservation = errors.New("no observation for requested week")

// UpsertObservation lands one weekly observation.
func (db *DB) UpsertObservation(ctx context.Context, o MetricObservation) error {
	week := timeutil.FormatWeek(o.WeekStart)
	_, err := db.ExecContext(ctx, `
		INSERT INTO metric_observations (
			team_id, metric_key, week_start, value,
			sample_size, active_population, active_with_data, source_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_id, metric_key, week_start) DO UPDATE SET
			value = excluded.value,
			sample_size = excluded.sample_size,
			active_population = excluded.active_population,
			active_with_data = excluded.active_with_data,
			source_count = excluded.source_count
	`, o.TeamID, o.MetricKey, week, o.Value,
		o.SampleSize, o.ActivePopulation, o.ActiveWithData, o.SourceCount)
	if err != nil {
		return fmt.Errorf("failed to upsert observation: %w", err)
	}
	return nil
}

// GetSeries returns numWeeks weekly observations for (team, metric) ending at
// uptoWeek inclusive, in ascending chronological order. Weeks with no stored
// observation are represented explicitly with HasData=false so callers can
// count usable weeks exactly.
func (db *DB) GetSeries(ctx context.Context, teamID, metricKey string, uptoWeek time.Time, numWeeks int) ([]MetricObservation, error) {
	if numWeeks < 1 {
		return nil, fmt.Errorf("numWeeks must be positive, got %d", numWeeks)
	}

	upto := timeutil.TruncateWeek(uptoWeek)
	from := upto.AddDate(0, 0, -7*(numWeeks-1))

	rows, err := db.QueryContext(ctx, `
		SELECT week_start, value, sample_size, active_population, active_with_data, source_count
		FROM metric_observations
		WHERE team_id = ? AND metric_key = ? AND week_start BETWEEN ? AND ?
		ORDER BY week_start
	`, teamID, metricKey, timeutil.FormatWeek(from), timeutil.FormatWeek(upto))
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	byWeek := make(map[string]MetricObservation, numWeeks)
	for rows.Next() {
		var (
			week string
			o    MetricObservation
		)
		if err := rows.Scan(&week, &o.Value, &o.SampleSize, &o.ActivePopulation, &o.ActiveWithData, &o.SourceCount); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.TeamID = teamID
		o.MetricKey = metricKey
		o.HasData = true
		if o.WeekStart, err = timeutil.ParseWeek(week); err != nil {
			return nil, err
		}
		byWeek[week] = o
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	series := make([]MetricObservation, 0, numWeeks)
	for w := from; !w.After(upto); w = timeutil.NextWeek(w) {
		if o, ok := byWeek[timeutil.FormatWeek(w)]; ok {
			series = append(series, o)
			continue
		}
		series = append(series, MetricObservation{
			TeamID:    teamID,
			MetricKey: metricKey,
			WeekStart: w,
			HasData:   false,
		})
	}

	return series, nil
}

// GetObservation returns the stored observation for one (team, metric, week),
// or ErrNoObservation.
func (db *DB) GetObservation(ctx context.Context, teamID, metricKey string, week time.Time) (MetricObservation, error) {
	o := MetricObservation{
		TeamID:    teamID,
		MetricKey: metricKey,
		WeekStart: timeutil.TruncateWeek(week),
		HasData:   true,
	}
	err := db.QueryRowContext(ctx, `
		SELECT value, sample_size, active_population, active_with_data, source_count
		FROM metric_observations
		WHERE team_id = ? AND metric_key = ? AND week_start = ?
	`, teamID, metricKey, timeutil.FormatWeek(week)).
		Scan(&o.Value, &o.SampleSize, &o.ActivePopulation, &o.ActiveWithData, &o.SourceCount)
	if err == sql.ErrNoRows {
		return MetricObservation{}, ErrNoObservation
	}
	if err != nil {
		return MetricObservation{}, fmt.Errorf("failed to get observation: %w", err)
	}
	return o, nil
}

// TeamMetric identifies one weekly series.
type TeamMetric struct {
	TeamID    string
	MetricKey string
}

// TeamsWithMetric lists teams that landed the given metric for a week. The
// detection worker fans out over this set.
func (db *DB) TeamsWithMetric(ctx context.Context, metricKey string, week time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT team_id
		FROM metric_observations
		WHERE metric_key = ? AND week_start = ?
		ORDER BY team_id
	`, metricKey, timeutil.FormatWeek(week))
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// ObservedWeeks returns the ascending distinct week starts stored for one
// (team, metric) series. Backfill replays iterate this.
func (db *DB) ObservedWeeks(ctx context.Context, teamID, metricKey string) ([]time.Time, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT week_start
		FROM metric_observations
		WHERE team_id = ? AND metric_key = ?
		ORDER BY week_start
	`, teamID, metricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list observed weeks: %w", err)
	}
	defer rows.Close()

	var weeks []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		w, err := timeutil.ParseWeek(s)
		if err != nil {
			return nil, err
		}
		weeks = append(weeks, w)
	}
	return weeks, rows.Err()
}

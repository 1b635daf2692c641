package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/drift.report/internal/timeutil"
)

// Severity levels, ordered.
const (
	SeverityInfo     = "info"
	SeverityRisk     = "risk"
	SeverityCritical = "critical"
)

// Signal lifecycle statuses. The pipeline only ever writes "open"; all other
// transitions come from a human through the API.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
	StatusInProgress   = "in_progress"
	StatusResolved     = "resolved"
	StatusIgnored      = "ignored"
)

// ValidSignalStatus reports whether s is a legal signal status.
func ValidSignalStatus(s string) bool {
	switch s {
	case StatusOpen, StatusAcknowledged, StatusInProgress, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// Baseline is the robust statistical summary of a series' recent normal
// range, embedded in a Signal at emission time.
type Baseline struct {
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	Std         float64 `json:"std"`
	MAD         float64 `json:"mad"`
	P25         float64 `json:"p25"`
	P75         float64 `json:"p75"`
	Confidence  float64 `json:"confidence"`
	WindowWeeks int     `json:"window_weeks"`
}

// Deviation describes how far the current week sits from its baseline and
// how long the departure has persisted.
type Deviation struct {
	DeltaAbs           float64    `json:"delta_abs"`
	DeltaPct           float64    `json:"delta_pct"`
	RobustZ            float64    `json:"robust_z"`
	ZFallback          bool       `json:"z_fallback"`
	SustainedWeeks     int        `json:"sustained_weeks"`
	DeviationStartWeek *time.Time `json:"deviation_start_week,omitempty"`
	MeetsRisk          bool       `json:"meets_risk"`
	MeetsCritical      bool       `json:"meets_critical"`
}

// Driver is one ranked sub-metric contribution behind a composite signal.
type Driver struct {
	Key      string  `json:"key"`
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	DeltaAbs float64 `json:"delta_abs"`
	DeltaPct float64 `json:"delta_pct"`
}

// Signal is the externally visible unit of record for one detected drift.
type Signal struct {
	SignalID           string    `json:"signal_id"`
	OrgID              string    `json:"org_id"`
	TeamID             string    `json:"team_id"`
	SignalType         string    `json:"signal_type"`
	WeekStart          time.Time `json:"week_start"`
	MetricKey          string    `json:"metric_key"`
	Severity           string    `json:"severity"`
	Confidence         float64   `json:"confidence"`
	CurrentValue       float64   `json:"current_value"`
	Baseline           Baseline  `json:"baseline"`
	Deviation          Deviation `json:"deviation"`
	Drivers            []Driver  `json:"drivers"`
	Consequence        string    `json:"consequence"`
	RecommendedActions []string  `json:"recommended_actions"`
	Status             string    `json:"status"`
	Owner              *string   `json:"owner,omitempty"`
	Outcome            *string   `json:"outcome,omitempty"`
	CreatedAt          float64   `json:"created_at"`
	UpdatedAt          float64   `json:"updated_at"`
}

// ErrSignalNotFound is returned when no signal matches the lookup.
var ErrSignalNotFound = errors.New("signal not found")

const signalColumns = `
	signal_id, org_id, team_id, signal_type, week_start, metric_key,
	severity, confidence, current_value,
	baseline_mean, baseline_median, baseline_std, baseline_mad,
	baseline_p25, baseline_p75, baseline_confidence, baseline_window_weeks,
	delta_abs, delta_pct, robust_z, z_fallback, sustained_weeks,
	deviation_start_week, meets_risk, meets_critical,
	drivers, consequence, recommended_actions,
	status, owner, outcome, created_at, updated_at`

// UpsertSignalStats writes the statistical fields of a signal on its natural
// key (org, team, signal_type, week). A first write creates the record with
// status "open"; re-running the pipeline for an already-processed week
// updates statistics in place and never touches status, owner or outcome,
// which belong to whoever is acting on the signal.
func (db *DB) UpsertSignalStats(ctx context.Context, s *Signal) error {
	driversJSON, err := json.Marshal(driversOrEmpty(s.Drivers))
	if err != nil {
		return fmt.Errorf("failed to marshal drivers: %w", err)
	}
	actionsJSON, err := json.Marshal(actionsOrEmpty(s.RecommendedActions))
	if err != nil {
		return fmt.Errorf("failed to marshal recommended actions: %w", err)
	}

	var startWeek interface{}
	if s.Deviation.DeviationStartWeek != nil {
		startWeek = timeutil.FormatWeek(*s.Deviation.DeviationStartWeek)
	}

	if s.SignalID == "" {
		s.SignalID = uuid.NewString()
	}

	week := timeutil.FormatWeek(s.WeekStart)
	_, err = db.ExecContext(ctx, `
		INSERT INTO signals (
			signal_id, org_id, team_id, signal_type, week_start, metric_key,
			severity, confidence, current_value,
			baseline_mean, baseline_median, baseline_std, baseline_mad,
			baseline_p25, baseline_p75, baseline_confidence, baseline_window_weeks,
			delta_abs, delta_pct, robust_z, z_fallback, sustained_weeks,
			deviation_start_week, meets_risk, meets_critical,
			drivers, consequence, recommended_actions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, team_id, signal_type, week_start) DO UPDATE SET
			metric_key = excluded.metric_key,
			severity = excluded.severity,
			confidence = excluded.confidence,
			current_value = excluded.current_value,
			baseline_mean = excluded.baseline_mean,
			baseline_median = excluded.baseline_median,
			baseline_std = excluded.baseline_std,
			baseline_mad = excluded.baseline_mad,
			baseline_p25 = excluded.baseline_p25,
			baseline_p75 = excluded.baseline_p75,
			baseline_confidence = excluded.baseline_confidence,
			baseline_window_weeks = excluded.baseline_window_weeks,
			delta_abs = excluded.delta_abs,
			delta_pct = excluded.delta_pct,
			robust_z = excluded.robust_z,
			z_fallback = excluded.z_fallback,
			sustained_weeks = excluded.sustained_weeks,
			deviation_start_week = excluded.deviation_start_week,
			meets_risk = excluded.meets_risk,
			meets_critical = excluded.meets_critical,
			drivers = excluded.drivers,
			consequence = excluded.consequence,
			recommended_actions = excluded.recommended_actions,
			updated_at = UNIXEPOCH('subsec')
	`, s.SignalID, s.OrgID, s.TeamID, s.SignalType, week, s.MetricKey,
		s.Severity, s.Confidence, s.CurrentValue,
		s.Baseline.Mean, s.Baseline.Median, s.Baseline.Std, s.Baseline.MAD,
		s.Baseline.P25, s.Baseline.P75, s.Baseline.Confidence, s.Baseline.WindowWeeks,
		s.Deviation.DeltaAbs, s.Deviation.DeltaPct, s.Deviation.RobustZ,
		s.Deviation.ZFallback, s.Deviation.SustainedWeeks,
		startWeek, s.Deviation.MeetsRisk, s.Deviation.MeetsCritical,
		string(driversJSON), s.Consequence, string(actionsJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert signal: %w", err)
	}

	// On conflict the stored signal_id wins; read it back so the caller
	// always holds the persisted identity.
	stored, err := db.GetSignalByKey(ctx, s.OrgID, s.TeamID, s.SignalType, s.WeekStart)
	if err != nil {
		return err
	}
	*s = *stored
	return nil
}

// GetSignal retrieves a signal by ID.
func (db *DB) GetSignal(ctx context.Context, signalID string) (*Signal, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE signal_id = ?`, signalID)
	return scanSignal(row)
}

// GetSignalByKey retrieves a signal by its natural key.
func (db *DB) GetSignalByKey(ctx context.Context, orgID, teamID, signalType string, week time.Time) (*Signal, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals
		 WHERE org_id = ? AND team_id = ? AND signal_type = ? AND week_start = ?`,
		orgID, teamID, signalType, timeutil.FormatWeek(week))
	return scanSignal(row)
}

// SignalFilter narrows ListSignals. Zero values mean "no constraint".
type SignalFilter struct {
	TeamID     string
	SignalType string
	Status     string
	Limit      int
}

// ListSignals returns signals matching the filter, newest week first.
func (db *DB) ListSignals(ctx context.Context, f SignalFilter) ([]*Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE 1=1`
	var args []interface{}
	if f.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, f.TeamID)
	}
	if f.SignalType != "" {
		query += ` AND signal_type = ?`
		args = append(args, f.SignalType)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY week_start DESC, team_id, signal_type`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// UpdateSignalStatus applies a human status transition, optionally assigning
// an owner. Statistical fields are untouched.
func (db *DB) UpdateSignalStatus(ctx context.Context, signalID, status string, owner *string) error {
	if !ValidSignalStatus(status) {
		return fmt.Errorf("invalid signal status %q", status)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE signals
		SET status = ?, owner = COALESCE(?, owner), updated_at = UNIXEPOCH('subsec')
		WHERE signal_id = ?
	`, status, owner, signalID)
	if err != nil {
		return fmt.Errorf("failed to update signal status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSignalNotFound
	}
	return nil
}

// SetSignalOutcome records the measured outcome summary on the originating
// signal once its intervention completes.
func (db *DB) SetSignalOutcome(ctx context.Context, signalID, outcome string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE signals
		SET outcome = ?, updated_at = UNIXEPOCH('subsec')
		WHERE signal_id = ?
	`, outcome, signalID)
	if err != nil {
		return fmt.Errorf("failed to set signal outcome: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSignalNotFound
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (*Signal, error) {
	var (
		s          Signal
		week       string
		startWeek  sql.NullString
		driversRaw string
		actionsRaw string
	)
	err := row.Scan(
		&s.SignalID, &s.OrgID, &s.TeamID, &s.SignalType, &week, &s.MetricKey,
		&s.Severity, &s.Confidence, &s.CurrentValue,
		&s.Baseline.Mean, &s.Baseline.Median, &s.Baseline.Std, &s.Baseline.MAD,
		&s.Baseline.P25, &s.Baseline.P75, &s.Baseline.Confidence, &s.Baseline.WindowWeeks,
		&s.Deviation.DeltaAbs, &s.Deviation.DeltaPct, &s.Deviation.RobustZ,
		&s.Deviation.ZFallback, &s.Deviation.SustainedWeeks,
		&startWeek, &s.Deviation.MeetsRisk, &s.Deviation.MeetsCritical,
		&driversRaw, &s.Consequence, &actionsRaw,
		&s.Status, &s.Owner, &s.Outcome, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSignalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan signal: %w", err)
	}

	if s.WeekStart, err = timeutil.ParseWeek(week); err != nil {
		return nil, err
	}
	if startWeek.Valid {
		w, err := timeutil.ParseWeek(startWeek.String)
		if err != nil {
			return nil, err
		}
		s.Deviation.DeviationStartWeek = &w
	}
	if err := json.Unmarshal([]byte(driversRaw), &s.Drivers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal drivers: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsRaw), &s.RecommendedActions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recommended actions: %w", err)
	}

	return &s, nil
}

func driversOrEmpty(d []Driver) []Driver {
	if d == nil {
		return []Driver{}
	}
	return d
}

func actionsOrEmpty(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}

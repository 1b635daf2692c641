package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Intervention lifecycle statuses.
const (
	InterventionActive         = "active"
	InterventionPendingRecheck = "pending_recheck"
	InterventionCompleted      = "completed"
	InterventionIgnored        = "ignored"
	InterventionAbandoned      = "abandoned"
)

// DateFormat is the storage format for intervention dates.
const DateFormat = "2006-01-02"

// Intervention is a logged action taken in response to a Signal, with a
// scheduled recheck to measure its effect on the underlying metric.
type Intervention struct {
	InterventionID string    `json:"intervention_id"`
	SignalID       string    `json:"signal_id"`
	TeamID         string    `json:"team_id"`
	MetricKey      string    `json:"metric_key"`
	SignalType     string    `json:"signal_type"`
	ActionTaken    string    `json:"action_taken"`
	MetricBefore   *float64  `json:"metric_before,omitempty"`
	StartDate      time.Time `json:"start_date"`
	RecheckDate    time.Time `json:"recheck_date"`
	Status         string    `json:"status"`

	// Outcome fields, written exactly once.
	MetricAfter   *float64 `json:"metric_after,omitempty"`
	PercentChange *float64 `json:"percent_change,omitempty"`
	Improved      *bool    `json:"improved,omitempty"`
	AutoComputed  bool     `json:"auto_computed"`
	ComputedAt    *float64 `json:"computed_at,omitempty"`
	UserNotes     *string  `json:"user_notes,omitempty"`

	CreatedAt float64 `json:"created_at"`
	UpdatedAt float64 `json:"updated_at"`
}

// Errors surfaced by the intervention store.
var (
	ErrInterventionNotFound = errors.New("intervention not found")

	// ErrOutcomeAlreadyComputed marks a lost write race: another recheck
	// already populated the outcome. Callers should re-read and use the
	// stored result.
	ErrOutcomeAlreadyComputed = errors.New("intervention outcome already computed")
)

const interventionColumns = `
	intervention_id, signal_id, team_id, metric_key, signal_type, action_taken,
	metric_before, start_date, recheck_date, status,
	metric_after, percent_change, improved, auto_computed, computed_at,
	user_notes, created_at, updated_at`

// CreateIntervention logs a new intervention. RecheckDate must already be set
// by the caller (start date plus the configured delay); it is fixed for the
// lifetime of the record.
func (db *DB) CreateIntervention(ctx context.Context, iv *Intervention) error {
	if iv.InterventionID == "" {
		iv.InterventionID = uuid.NewString()
	}
	if iv.Status == "" {
		iv.Status = InterventionActive
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO interventions (
			intervention_id, signal_id, team_id, metric_key, signal_type,
			action_taken, metric_before, start_date, recheck_date, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, iv.InterventionID, iv.SignalID, iv.TeamID, iv.MetricKey, iv.SignalType,
		iv.ActionTaken, iv.MetricBefore,
		iv.StartDate.UTC().Format(DateFormat),
		iv.RecheckDate.UTC().Format(DateFormat),
		iv.Status)
	if err != nil {
		return fmt.Errorf("failed to create intervention: %w", err)
	}
	return nil
}

// GetIntervention retrieves an intervention by ID.
func (db *DB) GetIntervention(ctx context.Context, id string) (*Intervention, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+interventionColumns+` FROM interventions WHERE intervention_id = ?`, id)
	return scanIntervention(row)
}

// InterventionFilter narrows ListInterventions. Zero values mean "no constraint".
type InterventionFilter struct {
	TeamID   string
	SignalID string
	Status   string
	Limit    int
}

// ListInterventions returns interventions matching the filter, newest first.
func (db *DB) ListInterventions(ctx context.Context, f InterventionFilter) ([]*Intervention, error) {
	query := `SELECT ` + interventionColumns + ` FROM interventions WHERE 1=1`
	var args []interface{}
	if f.TeamID != "" {
		query += ` AND team_id = ?`
		args = append(args, f.TeamID)
	}
	if f.SignalID != "" {
		query += ` AND signal_id = ?`
		args = append(args, f.SignalID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var ivs []*Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, iv)
	}
	return ivs, rows.Err()
}

// DueInterventions returns interventions whose recheck date has arrived and
// whose outcome has not been computed, oldest recheck first.
func (db *DB) DueInterventions(ctx context.Context, asOf time.Time) ([]*Intervention, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+interventionColumns+`
		FROM interventions
		WHERE status IN (?, ?)
		  AND auto_computed = 0
		  AND recheck_date <= ?
		ORDER BY recheck_date
	`, InterventionActive, InterventionPendingRecheck, asOf.UTC().Format(DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query due interventions: %w", err)
	}
	defer rows.Close()

	var ivs []*Intervention
	for rows.Next() {
		iv, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, iv)
	}
	return ivs, rows.Err()
}

// CompleteOutcome writes the computed outcome exactly once. The WHERE clause
// is the optimistic check-and-set: concurrent rechecks for the same
// intervention serialize on it, and exactly one write flips auto_computed.
// Losers get ErrOutcomeAlreadyComputed and should re-read the stored result.
func (db *DB) CompleteOutcome(ctx context.Context, id string, after, percentChange float64, improved bool) error {
	result, err := db.ExecContext(ctx, `
		UPDATE interventions
		SET metric_after = ?,
		    percent_change = ?,
		    improved = ?,
		    auto_computed = 1,
		    computed_at = UNIXEPOCH('subsec'),
		    status = ?,
		    updated_at = UNIXEPOCH('subsec')
		WHERE intervention_id = ? AND auto_computed = 0
	`, after, percentChange, improved, InterventionCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to complete outcome: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the intervention doesn't exist or someone beat us to it.
		if _, err := db.GetIntervention(ctx, id); err != nil {
			return err
		}
		return ErrOutcomeAlreadyComputed
	}
	return nil
}

// OverrideOutcome records a manually entered or acknowledged outcome with
// user notes. Unlike CompleteOutcome it may overwrite an auto-computed
// result; the notes record who overrode and why.
func (db *DB) OverrideOutcome(ctx context.Context, id string, after, percentChange float64, improved bool, notes string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE interventions
		SET metric_after = ?,
		    percent_change = ?,
		    improved = ?,
		    auto_computed = 1,
		    computed_at = COALESCE(computed_at, UNIXEPOCH('subsec')),
		    user_notes = ?,
		    status = ?,
		    updated_at = UNIXEPOCH('subsec')
		WHERE intervention_id = ?
	`, after, percentChange, improved, notes, InterventionCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to override outcome: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInterventionNotFound
	}
	return nil
}

// UpdateInterventionStatus applies a lifecycle transition that does not touch
// outcome fields (e.g. active -> pending_recheck, or a user abandoning one).
func (db *DB) UpdateInterventionStatus(ctx context.Context, id, status string) error {
	switch status {
	case InterventionActive, InterventionPendingRecheck, InterventionCompleted,
		InterventionIgnored, InterventionAbandoned:
	default:
		return fmt.Errorf("invalid intervention status %q", status)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE interventions
		SET status = ?, updated_at = UNIXEPOCH('subsec')
		WHERE intervention_id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update intervention status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInterventionNotFound
	}
	return nil
}

func scanIntervention(row rowScanner) (*Intervention, error) {
	var (
		iv           Intervention
		startDate    string
		recheckDate  string
		improvedNull sql.NullBool
	)
	err := row.Scan(
		&iv.InterventionID, &iv.SignalID, &iv.TeamID, &iv.MetricKey, &iv.SignalType,
		&iv.ActionTaken, &iv.MetricBefore, &startDate, &recheckDate, &iv.Status,
		&iv.MetricAfter, &iv.PercentChange, &improvedNull, &iv.AutoComputed,
		&iv.ComputedAt, &iv.UserNotes, &iv.CreatedAt, &iv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInterventionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan intervention: %w", err)
	}

	if iv.StartDate, err = time.Parse(DateFormat, startDate); err != nil {
		return nil, fmt.Errorf("invalid start_date %q: %w", startDate, err)
	}
	if iv.RecheckDate, err = time.Parse(DateFormat, recheckDate); err != nil {
		return nil, fmt.Errorf("invalid recheck_date %q: %w", recheckDate, err)
	}
	if improvedNull.Valid {
		iv.Improved = &improvedNull.Bool
	}

	return &iv, nil
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/driftline/drift.report/internal/timeutil"
)

// Pipeline audit outcomes. Suppression by the privacy guardrail is recorded
// distinctly from "no deviation found" so the audit trail can answer why a
// team shows no signal for a week.
const (
	AuditSignalEmitted        = "signal_emitted"
	AuditNoDeviation          = "no_deviation"
	AuditSuppressedPrivacy    = "suppressed_privacy"
	AuditInsufficientBaseline = "insufficient_baseline"
	AuditNoCurrentData        = "no_current_data"
)

// AuditEntry records one pipeline evaluation outcome.
type AuditEntry struct {
	AuditID    int64     `json:"audit_id"`
	OrgID      string    `json:"org_id"`
	TeamID     string    `json:"team_id"`
	SignalType string    `json:"signal_type"`
	WeekStart  time.Time `json:"week_start"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail"`
	CreatedAt  float64   `json:"created_at"`
}

// RecordAudit appends one evaluation outcome to the audit trail.
func (db *DB) RecordAudit(ctx context.Context, e AuditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO detection_audit (org_id, team_id, signal_type, week_start, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.OrgID, e.TeamID, e.SignalType, timeutil.FormatWeek(e.WeekStart), e.Outcome, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for one team and week, oldest first.
func (db *DB) ListAudit(ctx context.Context, teamID string, week time.Time) ([]AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT audit_id, org_id, team_id, signal_type, week_start, outcome, detail, created_at
		FROM detection_audit
		WHERE team_id = ? AND week_start = ?
		ORDER BY audit_id
	`, teamID, timeutil.FormatWeek(week))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e    AuditEntry
			week string
		)
		if err := rows.Scan(&e.AuditID, &e.OrgID, &e.TeamID, &e.SignalType, &week, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.WeekStart, err = timeutil.ParseWeek(week); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

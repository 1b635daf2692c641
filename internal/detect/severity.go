package detect

import "github.com/driftline/drift.report/internal/db"

// ClassifySeverity maps a deviation to its severity level. Pure function,
// re-derived fresh each week: CRITICAL requires meets_critical, else RISK
// requires meets_risk, else INFO. Escalation monotonicity is guaranteed
// upstream by the sustained-weeks fold, which clears both flags on any
// direction flip.
func ClassifySeverity(d db.Deviation) string {
	switch {
	case d.MeetsCritical:
		return db.SeverityCritical
	case d.MeetsRisk:
		return db.SeverityRisk
	default:
		return db.SeverityInfo
	}
}

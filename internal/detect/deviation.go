package detect

import (
	"math"
	"time"

	"github.com/driftline/drift.report/internal/config"
	"github.com/driftline/drift.report/internal/db"
	"github.com/driftline/drift.report/internal/timeutil"
)

// madConsistency scales MAD to be a consistent estimator of the standard
// deviation under normality.
const madConsistency = 1.4826

// Thresholds carries the resolved severity cutoffs.
type Thresholds struct {
	RiskZ           float64
	RiskSustain     int
	CriticalZ       float64
	CriticalSustain int
	SlowBurnZ       float64
	SlowBurnSustain int
}

// ThresholdsFromConfig resolves the configured cutoffs with defaults applied.
func ThresholdsFromConfig(cfg *config.DetectionConfig) Thresholds {
	return Thresholds{
		RiskZ:           cfg.GetRiskZ(),
		RiskSustain:     cfg.GetRiskSustainWeeks(),
		CriticalZ:       cfg.GetCriticalZ(),
		CriticalSustain: cfg.GetCriticalSustainWeeks(),
		SlowBurnZ:       cfg.GetSlowBurnZ(),
		SlowBurnSustain: cfg.GetSlowBurnSustainWeeks(),
	}
}

// ComputeDeviation compares the current week's value to its baseline and
// folds the sustained-weeks streak forward from the prior committed state.
// It returns the deviation and the new streak state to commit.
//
// The streak only counts weeks whose deviation clears the RISK z threshold in
// the same direction. A direction flip restarts the streak at 1; returning
// inside the baseline band resets it to 0.
func ComputeDeviation(week time.Time, current float64, b db.Baseline, prev db.StreakState, th Thresholds) (db.Deviation, db.StreakState) {
	var d db.Deviation

	d.DeltaAbs = current - b.Median
	if b.Median != 0 {
		d.DeltaPct = d.DeltaAbs / b.Median
	}

	switch {
	case b.MAD > 0:
		d.RobustZ = d.DeltaAbs / (madConsistency * b.MAD)
	case b.Std > 0:
		d.RobustZ = (current - b.Mean) / b.Std
		d.ZFallback = true
	default:
		// Degenerate baseline: constant history. Report zero magnitude
		// rather than manufacturing a signal from noise-free data.
		d.DeltaAbs = 0
		d.DeltaPct = 0
		d.RobustZ = 0
	}

	direction := 0
	if math.Abs(d.RobustZ) >= th.RiskZ {
		if d.DeltaAbs > 0 {
			direction = 1
		} else {
			direction = -1
		}
	}

	next := db.StreakState{
		TeamID:    prev.TeamID,
		MetricKey: prev.MetricKey,
		LastWeek:  timeutil.TruncateWeek(week),
		Direction: direction,
	}

	// A gap in evaluation (last committed week is not the immediately
	// preceding one) breaks streak continuity; the fold restarts. Re-running
	// the already-committed week keeps the fold where it is, so repeated
	// pipeline runs over the same week are idempotent.
	contiguous := !prev.LastWeek.IsZero() &&
		timeutil.PrevWeek(week).Equal(timeutil.TruncateWeek(prev.LastWeek))
	sameWeek := !prev.LastWeek.IsZero() &&
		next.LastWeek.Equal(timeutil.TruncateWeek(prev.LastWeek))

	switch {
	case direction == 0:
		next.SustainedWeeks = 0
		next.DeviationStartWeek = nil
	case sameWeek && prev.Direction == direction:
		next.SustainedWeeks = prev.SustainedWeeks
		next.DeviationStartWeek = prev.DeviationStartWeek
		if next.DeviationStartWeek == nil {
			w := next.LastWeek
			next.DeviationStartWeek = &w
		}
	case contiguous && prev.Direction == direction:
		next.SustainedWeeks = prev.SustainedWeeks + 1
		next.DeviationStartWeek = prev.DeviationStartWeek
		if next.DeviationStartWeek == nil {
			w := timeutil.TruncateWeek(week)
			next.DeviationStartWeek = &w
		}
	default:
		next.SustainedWeeks = 1
		w := timeutil.TruncateWeek(week)
		next.DeviationStartWeek = &w
	}

	d.SustainedWeeks = next.SustainedWeeks
	d.DeviationStartWeek = next.DeviationStartWeek

	absZ := math.Abs(d.RobustZ)
	d.MeetsRisk = absZ >= th.RiskZ && d.SustainedWeeks >= th.RiskSustain
	d.MeetsCritical = (absZ >= th.CriticalZ && d.SustainedWeeks >= th.CriticalSustain) ||
		(absZ >= th.SlowBurnZ && d.SustainedWeeks >= th.SlowBurnSustain)

	return d, next
}

package detect

import (
	"fmt"

	"github.com/driftline/drift.report/internal/config"
	"github.com/driftline/drift.report/internal/db"
)

// EvaluateGuardrail applies the privacy gate to the current week's
// observation. When it fails, no signal may be emitted for that
// team/metric/week — this is a suppression, not a lower-confidence signal,
// and no other component can override it. The returned reason lands in the
// audit trail.
func EvaluateGuardrail(o db.MetricObservation, cfg *config.DetectionConfig) (ok bool, reason string) {
	if o.ActivePopulation < cfg.GetMinGroupSize() {
		return false, fmt.Sprintf("active_population %d below minimum group size %d",
			o.ActivePopulation, cfg.GetMinGroupSize())
	}
	if cov := o.Coverage(); cov < cfg.GetMinDataCoverage() {
		return false, fmt.Sprintf("data coverage %.2f below minimum %.2f",
			cov, cfg.GetMinDataCoverage())
	}
	if o.SampleSize < cfg.GetMinSampleSize() {
		return false, fmt.Sprintf("sample_size %d below minimum %d",
			o.SampleSize, cfg.GetMinSampleSize())
	}
	return true, ""
}

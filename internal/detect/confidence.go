package detect

import (
	"math"

	"github.com/driftline/drift.report/internal/db"
)

// ConfidenceFactors are the four independent inputs blended into one bounded
// confidence value. Each is clamped to [0,1] before combining.
type ConfidenceFactors struct {
	DataCoverage       float64 // active users with data / active population
	BaselineConfidence float64 // fraction of baseline window with data
	SustainFactor      float64 // evidence accumulated across weeks
	SourceQuality      float64 // corroboration across upstream sources
}

// Weights for the geometric blend. Coverage and baseline quality dominate;
// sustain and source corroboration refine.
const (
	weightCoverage = 0.3
	weightBaseline = 0.3
	weightSustain  = 0.2
	weightSource   = 0.2
)

// Combine blends the factors with a weighted geometric mean. The geometric
// form makes one catastrophically bad factor dominate: a zero in any factor
// pulls the composite to zero rather than being averaged away. The result is
// monotonically non-decreasing in every factor and bounded to [0,1].
func (f ConfidenceFactors) Combine() float64 {
	factors := []struct {
		value  float64
		weight float64
	}{
		{clamp01(f.DataCoverage), weightCoverage},
		{clamp01(f.BaselineConfidence), weightBaseline},
		{clamp01(f.SustainFactor), weightSustain},
		{clamp01(f.SourceQuality), weightSource},
	}

	var sum float64
	for _, fa := range factors {
		if fa.value == 0 {
			return 0
		}
		sum += fa.weight * math.Log(fa.value)
	}
	return clamp01(math.Exp(sum))
}

// SustainFactor gives full credit once the deviation has met the
// sustained-weeks requirement for its severity, and partial credit for a
// deviation still building evidence.
func SustainFactor(d db.Deviation) float64 {
	if d.MeetsRisk || d.MeetsCritical {
		return 1.0
	}
	return 0.5
}

// SourceQuality maps upstream corroboration to a factor: multiple
// independent sources 1.0, a single primary source 0.7, sparse or
// secondary-only data 0.5.
func SourceQuality(sourceCount int) float64 {
	switch {
	case sourceCount >= 2:
		return 1.0
	case sourceCount == 1:
		return 0.7
	default:
		return 0.5
	}
}

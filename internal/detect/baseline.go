package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/driftline/drift.report/internal/db"
)

// ErrInsufficientBaseline is returned when fewer than the configured minimum
// number of baseline weeks carry usable data. Recoverable: the pipeline skips
// that team/metric/week and tries again next cycle.
var ErrInsufficientBaseline = errors.New("insufficient baseline data")

// usable reports whether a window entry contributes to the baseline.
func usable(o db.MetricObservation) bool {
	return o.HasData && o.SampleSize > 0
}

// BuildBaseline computes the robust reference statistics over the trailing
// window of completed weeks. The window must already exclude the evaluation
// week — the current week is never part of its own baseline.
func BuildBaseline(window []db.MetricObservation, windowWeeks, minWeeks int) (db.Baseline, error) {
	if len(window) > windowWeeks {
		return db.Baseline{}, fmt.Errorf("window has %d weeks, expected at most %d", len(window), windowWeeks)
	}

	values := make([]float64, 0, len(window))
	for _, o := range window {
		if usable(o) {
			values = append(values, o.Value)
		}
	}

	if len(values) < minWeeks {
		return db.Baseline{}, fmt.Errorf("%w: %d of %d weeks usable (minimum %d)",
			ErrInsufficientBaseline, len(values), windowWeeks, minWeeks)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	// Median absolute deviation: median of |x_i - median|.
	absDevs := make([]float64, len(sorted))
	for i, v := range sorted {
		absDevs[i] = math.Abs(v - median)
	}
	sort.Float64s(absDevs)
	mad := stat.Quantile(0.5, stat.Empirical, absDevs, nil)

	b := db.Baseline{
		Mean:        stat.Mean(values, nil),
		Median:      median,
		Std:         popStdDev(values),
		MAD:         mad,
		P25:         stat.Quantile(0.25, stat.Empirical, sorted, nil),
		P75:         stat.Quantile(0.75, stat.Empirical, sorted, nil),
		Confidence:  clamp01(float64(len(values)) / float64(windowWeeks)),
		WindowWeeks: windowWeeks,
	}
	return b, nil
}

// popStdDev returns the population standard deviation. gonum's StdDev is the
// sample (n-1) estimator; the baseline treats the window as the whole
// population so a constant window yields exactly zero.
func popStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := stat.Mean(values, nil)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

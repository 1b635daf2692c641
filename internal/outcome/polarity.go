// Package outcome closes the loop on interventions: when a logged action's
// recheck date arrives, it measures the underlying metric again, decides
// whether the team improved, and writes the result back exactly once.
package outcome

import "fmt"

// Polarity says which direction of metric movement counts as improvement.
type Polarity int

const (
	// LowerIsBetter marks metrics where a drop is good (meeting load,
	// after-hours work, response latency).
	LowerIsBetter Polarity = iota

	// HigherIsBetter marks metrics where a rise is good (focus time).
	HigherIsBetter
)

// polarityBySignalType is the explicit improvement-direction table. Every
// signal type must appear here; an absent entry is a programming error, not a
// default.
var polarityBySignalType = map[string]Polarity{
	"coordination-risk": LowerIsBetter,
	"after-hours-drift": LowerIsBetter,
	"focus-erosion":     HigherIsBetter,
	"response-lag":      LowerIsBetter,
}

// ForSignalType returns the improvement direction for a signal type.
func ForSignalType(key string) (Polarity, error) {
	p, ok := polarityBySignalType[key]
	if !ok {
		return 0, fmt.Errorf("no polarity defined for signal type %q", key)
	}
	return p, nil
}

// Improved reports whether moving from before to after counts as improvement
// under this polarity. No movement is not improvement.
func (p Polarity) Improved(before, after float64) bool {
	if p == HigherIsBetter {
		return after > before
	}
	return after < before
}

// PercentChange returns the signed percent movement from before to after.
// A zero baseline has no meaningful percent and yields zero; outcome paths
// reject it with ErrMissingBaseline before ever computing one.
func PercentChange(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	return (after - before) / before * 100
}

package detect

import (
	"math"
	"sort"

	"github.com/driftline/drift.report/internal/db"
)

// maxDrivers caps the attribution list on an emitted signal.
const maxDrivers = 3

// DriverCandidate is one sub-metric's movement relative to its own baseline,
// before ranking.
type DriverCandidate struct {
	Key      string
	Label    string
	Value    float64
	DeltaAbs float64
	DeltaPct float64
}

// RankDrivers orders candidates by |delta_pct| descending and returns the top
// three. Ties break on larger |delta_abs|, then lexicographically by key, so
// the output is deterministic.
func RankDrivers(candidates []DriverCandidate) []db.Driver {
	ranked := make([]DriverCandidate, len(candidates))
	copy(ranked, candidates)

	sort.Slice(ranked, func(i, j int) bool {
		pi, pj := math.Abs(ranked[i].DeltaPct), math.Abs(ranked[j].DeltaPct)
		if pi != pj {
			return pi > pj
		}
		ai, aj := math.Abs(ranked[i].DeltaAbs), math.Abs(ranked[j].DeltaAbs)
		if ai != aj {
			return ai > aj
		}
		return ranked[i].Key < ranked[j].Key
	})

	n := len(ranked)
	if n > maxDrivers {
		n = maxDrivers
	}

	drivers := make([]db.Driver, 0, n)
	for _, c := range ranked[:n] {
		drivers = append(drivers, db.Driver{
			Key:      c.Key,
			Label:    c.Label,
			Value:    c.Value,
			DeltaAbs: c.DeltaAbs,
			DeltaPct: c.DeltaPct,
		})
	}
	return drivers
}

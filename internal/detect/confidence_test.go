package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftline/drift.report/internal/db"
)

func TestConfidenceCombine(t *testing.T) {
	t.Parallel()

	t.Run("equal factors pass through", func(t *testing.T) {
		t.Parallel()
		f := ConfidenceFactors{0.5, 0.5, 0.5, 0.5}
		assert.InDelta(t, 0.5, f.Combine(), 1e-12)
	})

	t.Run("all perfect gives one", func(t *testing.T) {
		t.Parallel()
		f := ConfidenceFactors{1, 1, 1, 1}
		assert.InDelta(t, 1.0, f.Combine(), 1e-12)
	})

	t.Run("a zero factor dominates", func(t *testing.T) {
		t.Parallel()
		f := ConfidenceFactors{DataCoverage: 0, BaselineConfidence: 1, SustainFactor: 1, SourceQuality: 1}
		assert.Zero(t, f.Combine())

		// Strictly below the all-mediocre blend, not averaged away.
		mediocre := ConfidenceFactors{0.5, 0.5, 0.5, 0.5}
		assert.Less(t, f.Combine(), mediocre.Combine())
	})

	t.Run("monotone in every factor", func(t *testing.T) {
		t.Parallel()
		base := ConfidenceFactors{0.6, 0.7, 0.5, 0.7}
		raised := []ConfidenceFactors{
			{0.8, 0.7, 0.5, 0.7},
			{0.6, 0.9, 0.5, 0.7},
			{0.6, 0.7, 1.0, 0.7},
			{0.6, 0.7, 0.5, 1.0},
		}
		for i, r := range raised {
			assert.Greater(t, r.Combine(), base.Combine(), "factor %d", i)
		}
	})

	t.Run("out-of-range inputs clamp to the unit interval", func(t *testing.T) {
		t.Parallel()
		f := ConfidenceFactors{1.8, 1.2, -0.3, 1.0}
		assert.Zero(t, f.Combine())

		g := ConfidenceFactors{1.8, 1.2, 1.5, 1.0}
		assert.InDelta(t, 1.0, g.Combine(), 1e-12)
	})
}

func TestSustainFactor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.5, SustainFactor(db.Deviation{SustainedWeeks: 1}))
	assert.Equal(t, 1.0, SustainFactor(db.Deviation{SustainedWeeks: 2, MeetsRisk: true}))
	assert.Equal(t, 1.0, SustainFactor(db.Deviation{SustainedWeeks: 5, MeetsCritical: true}))
}

func TestSourceQuality(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.5, SourceQuality(0))
	assert.Equal(t, 0.7, SourceQuality(1))
	assert.Equal(t, 1.0, SourceQuality(2))
	assert.Equal(t, 1.0, SourceQuality(5))
}

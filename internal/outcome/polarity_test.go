package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolarity(t *testing.T) {
	t.Parallel()

	t.Run("every catalog signal type has a polarity", func(t *testing.T) {
		t.Parallel()
		for _, key := range []string{"coordination-risk", "after-hours-drift", "focus-erosion", "response-lag"} {
			_, err := ForSignalType(key)
			assert.NoError(t, err, key)
		}
		_, err := ForSignalType("unknown")
		require.Error(t, err)
	})

	t.Run("a drop improves lower-is-better metrics", func(t *testing.T) {
		t.Parallel()
		p, err := ForSignalType("coordination-risk")
		require.NoError(t, err)

		assert.True(t, p.Improved(30, 22))
		assert.False(t, p.Improved(22, 30))
		assert.False(t, p.Improved(30, 30))
		assert.InDelta(t, -26.6667, PercentChange(30, 22), 1e-3)
	})

	t.Run("a rise improves higher-is-better metrics", func(t *testing.T) {
		t.Parallel()
		p, err := ForSignalType("focus-erosion")
		require.NoError(t, err)

		assert.True(t, p.Improved(10, 12))
		assert.False(t, p.Improved(12, 10))
		assert.InDelta(t, 20.0, PercentChange(10, 12), 1e-9)
	})

	t.Run("zero baseline does not blow up", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, PercentChange(0, 5))
	})
}

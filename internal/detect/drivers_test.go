package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankDrivers(t *testing.T) {
	t.Parallel()

	t.Run("orders by percent magnitude and caps at three", func(t *testing.T) {
		t.Parallel()
		drivers := RankDrivers([]DriverCandidate{
			{Key: "a", DeltaPct: 0.10, DeltaAbs: 1},
			{Key: "b", DeltaPct: -0.50, DeltaAbs: -5},
			{Key: "c", DeltaPct: 0.30, DeltaAbs: 3},
			{Key: "d", DeltaPct: 0.20, DeltaAbs: 2},
		})

		require.Len(t, drivers, 3)
		assert.Equal(t, "b", drivers[0].Key)
		assert.Equal(t, "c", drivers[1].Key)
		assert.Equal(t, "d", drivers[2].Key)
	})

	t.Run("ties break on absolute delta then key", func(t *testing.T) {
		t.Parallel()
		drivers := RankDrivers([]DriverCandidate{
			{Key: "z", DeltaPct: 0.25, DeltaAbs: 2},
			{Key: "a", DeltaPct: 0.25, DeltaAbs: 4},
			{Key: "m", DeltaPct: 0.25, DeltaAbs: 2},
		})

		require.Len(t, drivers, 3)
		assert.Equal(t, "a", drivers[0].Key)
		assert.Equal(t, "m", drivers[1].Key)
		assert.Equal(t, "z", drivers[2].Key)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		t.Parallel()
		in := []DriverCandidate{
			{Key: "a", DeltaPct: 0.1},
			{Key: "b", DeltaPct: 0.9},
		}
		RankDrivers(in)
		assert.Equal(t, "a", in[0].Key)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, RankDrivers(nil))
	})
}

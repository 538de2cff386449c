package calc

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attenuator-go/types"
)

func TestFindConfigsBracketsDesired(t *testing.T) {
	basis := []float64{0.5, 0.25, 0.1}
	low, high, err := FindConfigs(basis, 0.3)
	require.NoError(t, err)

	// Enumerated transmissions: 1, .5, .25, .1, .125, .05, .025, .0125.
	// Closest to 0.3 is 0.25; the bracketing pair is (0.25, 0.5).
	assert.InDelta(t, 0.25, low.Transmission, 1e-12)
	assert.InDelta(t, 0.5, high.Transmission, 1e-12)
	assert.Equal(t, []int{0, 1, 0}, low.States)
	assert.Equal(t, []int{1, 0, 0}, high.States)
}

func TestFindConfigsExactMatchCollapses(t *testing.T) {
	basis := []float64{0.5, 0.25, 0.1}
	low, high, err := FindConfigs(basis, 0.125)
	require.NoError(t, err)

	assert.Equal(t, low.States, high.States)
	assert.InDelta(t, 0.125, low.Transmission, 1e-12)
	assert.Equal(t, []int{1, 1, 0}, low.States)
}

func TestFindConfigsNaNExcludesBlade(t *testing.T) {
	// Blade 1 is excluded; combinations including it tie with those that
	// do not, and the lower enumeration index (blade out) wins.
	basis := []float64{0.5, math.NaN(), 0.1}
	low, _, err := FindConfigs(basis, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.05, low.Transmission, 1e-12)
	assert.Equal(t, []int{1, 0, 1}, low.States)
}

func TestFindConfigsDuplicateTransmissions(t *testing.T) {
	// Two identical blades. The ceiling of 0.6 must cross the target to the
	// all-out 1.0, not land on the second copy of 0.5 sitting next to the
	// floor in the sorted table.
	basis := []float64{0.5, 0.5}
	low, high, err := FindConfigs(basis, 0.6)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, low.Transmission, 1e-12)
	assert.Equal(t, []int{0, 1}, low.States)
	assert.InDelta(t, 1.0, high.Transmission, 1e-12)
	assert.Equal(t, []int{0, 0}, high.States)
}

func TestFindConfigsDesiredBelowRangeCollapses(t *testing.T) {
	basis := []float64{0.5, 0.25}
	low, high, err := FindConfigs(basis, 0.0)
	require.NoError(t, err)

	// Nothing reaches 0; both sides collapse to the lowest achievable.
	assert.InDelta(t, 0.125, low.Transmission, 1e-12)
	assert.InDelta(t, 0.125, high.Transmission, 1e-12)
}

func TestFindConfigsDesiredAboveRangeCollapses(t *testing.T) {
	basis := []float64{0.5, 0.25}
	low, high, err := FindConfigs(basis, 1.5)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, low.Transmission, 1e-12)
	assert.InDelta(t, 1.0, high.Transmission, 1e-12)
	assert.Equal(t, []int{0, 0}, low.States)
}

func TestFindConfigsBracketingProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(6)
		basis := make([]float64, n)
		for i := range basis {
			// Identical blades are common, so half the entries come from a
			// small palette to force duplicated transmissions.
			if rng.Intn(2) == 0 {
				basis[i] = []float64{0.5, 0.25, 0.1}[rng.Intn(3)]
			} else {
				basis[i] = rng.Float64()
			}
		}
		tDes := rng.Float64()

		low, high, err := FindConfigs(basis, tDes)
		require.NoError(t, err)

		// 1.0 (all out) always exists, so a ceiling always exists.
		assert.GreaterOrEqual(t, high.Transmission, tDes)
		if low.Transmission > tDes {
			// Floor collapsed: nothing at or below tDes in the space.
			min := 1.0
			for _, v := range basis {
				min *= v
			}
			assert.Greater(t, min, tDes)
		}
	}
}

func TestFindConfigsDeterministic(t *testing.T) {
	basis := []float64{0.7, 0.7, 0.3, 0.3}
	low1, high1, err := FindConfigs(basis, 0.21)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		low2, high2, err := FindConfigs(basis, 0.21)
		require.NoError(t, err)
		assert.Equal(t, low1.States, low2.States)
		assert.Equal(t, high1.States, high2.States)
	}
}

func TestFindConfigsRejectsOversizedBasis(t *testing.T) {
	basis := make([]float64, MaxEnumBlades+1)
	_, _, err := FindConfigs(basis, 0.5)
	assert.Error(t, err)
}

func TestBestConfigModeSelection(t *testing.T) {
	basis := []float64{0.5, 0.25, 0.1}

	floor, err := BestConfig(basis, 0.3, types.ModeFloor)
	require.NoError(t, err)
	ceil, err := BestConfig(basis, 0.3, types.ModeCeiling)
	require.NoError(t, err)

	assert.LessOrEqual(t, floor.Transmission, 0.3)
	assert.GreaterOrEqual(t, ceil.Transmission, 0.3)

	_, err = BestConfig(basis, 0.3, types.CalcMode("Sideways"))
	assert.Error(t, err)
}

package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreWorkedExample(t *testing.T) {
	eng, err := NewEngine(map[string]float64{
		"structure": 0.25,
		"liquidity": 0.25,
		"reaction":  0.20,
		"volume":    0.20,
		"session":   0.10,
	}, 70, nil)
	require.NoError(t, err)

	res := eng.Score(map[string]float64{
		"structure": 85,
		"liquidity": 90,
		"reaction":  78,
		"volume":    88,
		"session":   72,
	})

	assert.InDelta(t, 84.15, res.Score, 1e-9)
	assert.True(t, res.Passed)
	assert.InDelta(t, 21.25, res.Contributions["structure"], 1e-9)
	assert.InDelta(t, 22.5, res.Contributions["liquidity"], 1e-9)
	assert.InDelta(t, 15.6, res.Contributions["reaction"], 1e-9)
	assert.InDelta(t, 17.6, res.Contributions["volume"], 1e-9)
	assert.InDelta(t, 7.2, res.Contributions["session"], 1e-9)
}

func TestScoreBounded(t *testing.T) {
	eng, err := NewEngine(map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}, 50, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		res := eng.Score(map[string]float64{
			"a": rng.Float64() * 100,
			"b": rng.Float64() * 100,
			"c": rng.Float64() * 100,
		})
		if res.Score < 0 || res.Score > 100 {
			t.Fatalf("score out of range: %v", res.Score)
		}
	}
}

func TestMissingFeaturesContributeZero(t *testing.T) {
	eng, err := NewEngine(map[string]float64{"a": 0.5, "b": 0.5}, 50, nil)
	require.NoError(t, err)

	res := eng.Score(map[string]float64{"a": 80})
	assert.InDelta(t, 40, res.Score, 1e-9)
	assert.Zero(t, res.Contributions["b"])
	assert.False(t, res.Passed)
}

func TestOutOfRangeFeaturesClamped(t *testing.T) {
	eng, err := NewEngine(map[string]float64{"a": 1.0}, 50, nil)
	require.NoError(t, err)

	assert.InDelta(t, 100, eng.Score(map[string]float64{"a": 250}).Score, 1e-9)
	assert.InDelta(t, 0, eng.Score(map[string]float64{"a": -10}).Score, 1e-9)
}

func TestWeightsNormalized(t *testing.T) {
	// sums to 2.0, engine must normalize rather than fail
	eng, err := NewEngine(map[string]float64{"a": 1.0, "b": 1.0}, 50, nil)
	require.NoError(t, err)

	res := eng.Score(map[string]float64{"a": 100, "b": 50})
	assert.InDelta(t, 75, res.Score, 1e-9)
}

func TestDegenerateWeights(t *testing.T) {
	_, err := NewEngine(map[string]float64{"a": 0, "b": -1}, 50, nil)
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = NewEngine(map[string]float64{}, 50, nil)
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

package scoring_test

import (
	"math"
	"media-analysis-backend/internal/core/scoring"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 {
	return &v
}

func score(t *testing.T, v float64, band scoring.Band) float64 {
	t.Helper()
	s, ok := scoring.ScoreFromBands(&v, &band)
	require.True(t, ok)
	return s
}

func TestLowerIsBetter(t *testing.T) {
	band := scoring.LowerBand(0.03, 0.08, "")
	require.NoError(t, band.Validate())

	assert.Equal(t, 1.0, score(t, 0.0, band))
	assert.Equal(t, 1.0, score(t, 0.02, band))
	assert.Equal(t, 1.0, score(t, 0.03, band), "good/warn boundary is closed")
	assert.InDelta(t, 0.5, score(t, 0.055, band), 1e-9)
	assert.InDelta(t, 0.0, score(t, 0.08, band), 1e-9)
	assert.Equal(t, 0.0, score(t, 0.5, band))
}

func TestHigherIsBetter(t *testing.T) {
	band := scoring.HigherBand(25, 12.5, "fps")
	require.NoError(t, band.Validate())

	assert.Equal(t, 1.0, score(t, 30, band))
	assert.Equal(t, 1.0, score(t, 25, band), "good/warn boundary is closed")
	assert.InDelta(t, 0.5, score(t, 18.75, band), 1e-9)
	assert.InDelta(t, 0.0, score(t, 12.5, band), 1e-9)
	assert.Equal(t, 0.0, score(t, 3, band))
}

func TestMissingValueOrBandIsUndefined(t *testing.T) {
	band := scoring.LowerBand(1, 2, "")

	_, ok := scoring.ScoreFromBands(nil, &band)
	assert.False(t, ok)

	_, ok = scoring.ScoreFromBands(ptr(1), nil)
	assert.False(t, ok)

	_, ok = scoring.ScoreFromBands(ptr(math.NaN()), &band)
	assert.False(t, ok)
}

func TestScoresAreBoundedAndMonotonic(t *testing.T) {
	bands := []scoring.Band{
		scoring.LowerBand(0.03, 0.08, ""),
		scoring.LowerBand(40, 80, "ms"),
		scoring.LowerBand(1, 1, ""),
		scoring.HigherBand(0.8, 0.6, ""),
		scoring.HigherBand(25, 12.5, "fps"),
		scoring.HigherBand(5, 5, ""),
	}

	for _, band := range bands {
		prev := math.NaN()
		for i := 0; i <= 2000; i++ {
			v := float64(i) * 0.05
			s := score(t, v, band)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)

			if !math.IsNaN(prev) {
				if band.Direction == scoring.LowerIsBetter {
					assert.LessOrEqual(t, s, prev, "lower-is-better must be non-increasing at %v", v)
				} else {
					assert.GreaterOrEqual(t, s, prev, "higher-is-better must be non-decreasing at %v", v)
				}
			}
			prev = s
		}
	}
}

func TestBandValidate(t *testing.T) {
	assert.Error(t, scoring.LowerBand(0.08, 0.03, "").Validate())
	assert.Error(t, scoring.HigherBand(0.6, 0.8, "").Validate())

	broken := scoring.LowerBand(0.03, 0.08, "")
	broken.Warn.Min = 0.04
	assert.Error(t, broken.Validate())

	assert.Error(t, scoring.Band{Direction: "sideways"}.Validate())
}

func TestAggregate(t *testing.T) {
	assert.Nil(t, scoring.Aggregate(nil))
	assert.Nil(t, scoring.Aggregate([]scoring.Bullet{{Key: "a"}, {Key: "b"}}), "all-undefined must not aggregate to 0")

	agg := scoring.Aggregate([]scoring.Bullet{
		{Key: "a", Score: ptr(1)},
		{Key: "b"},
		{Key: "c", Score: ptr(0.5)},
	})
	require.NotNil(t, agg)
	assert.InDelta(t, 75.0, *agg, 1e-9)
}

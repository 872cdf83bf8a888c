package scoring_test

import (
	"media-analysis-backend/internal/core/scoring"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findBullet(t *testing.T, bullets []scoring.Bullet, key string) scoring.Bullet {
	t.Helper()
	for _, b := range bullets {
		if b.Key == key {
			return b
		}
	}
	t.Fatalf("bullet %s not found", key)
	return scoring.Bullet{}
}

func TestDefaultPolicyLoads(t *testing.T) {
	policy, err := scoring.DefaultPolicy()
	require.NoError(t, err)
	assert.Equal(t, scoring.Baseline{TargetFps: 25, MaxLatencyMs: 40}, policy.DefaultBaseline)
}

func TestTemporalDeltaInIsolation(t *testing.T) {
	policy, err := scoring.DefaultPolicy()
	require.NoError(t, err)

	report := policy.Evaluate(scoring.Metrics{"temporal_delta_mean": ptr(0.02)}, false, scoring.Baseline{})

	bullet := findBullet(t, report.Stability, "temporal_delta_mean")
	require.NotNil(t, bullet.Score)
	assert.Equal(t, 1.0, *bullet.Score)
	assert.Equal(t, scoring.LowerIsBetter, bullet.Direction)

	require.NotNil(t, report.StabilityScore)
	assert.Equal(t, 100.0, *report.StabilityScore)
	assert.Nil(t, report.SpeedScore, "no speed metrics and no baseline means insufficient data")
}

func TestConfidenceBandDependsOnOutcome(t *testing.T) {
	policy, err := scoring.DefaultPolicy()
	require.NoError(t, err)

	metrics := scoring.Metrics{"confidence_mean": ptr(0.9)}

	flagged := findBullet(t, policy.StabilityBullets(metrics, true), "confidence_mean")
	benign := findBullet(t, policy.StabilityBullets(metrics, false), "confidence_mean")

	assert.Equal(t, scoring.HigherIsBetter, flagged.Direction)
	assert.Equal(t, 1.0, *flagged.Score)
	assert.Equal(t, scoring.LowerIsBetter, benign.Direction)
	assert.Equal(t, 0.0, *benign.Score)
}

func TestSpeedBandsScaleWithBaseline(t *testing.T) {
	policy, err := scoring.DefaultPolicy()
	require.NoError(t, err)

	metrics := scoring.Metrics{"measured_fps": ptr(30), "ms_per_sample": ptr(50)}

	slow := policy.SpeedBullets(metrics, scoring.Baseline{TargetFps: 30, MaxLatencyMs: 50})
	assert.Equal(t, 1.0, *findBullet(t, slow, "measured_fps").Score)
	assert.Equal(t, 1.0, *findBullet(t, slow, "ms_per_sample").Score)

	strict := policy.SpeedBullets(metrics, scoring.Baseline{TargetFps: 60, MaxLatencyMs: 25})
	fps := findBullet(t, strict, "measured_fps")
	assert.Equal(t, 0.0, *fps.Score)
	assert.Equal(t, 60.0, fps.Band.Good.Min)
	latency := findBullet(t, strict, "ms_per_sample")
	assert.Equal(t, 0.0, *latency.Score)
	assert.Equal(t, "ms", latency.Unit)
}

func TestSpeedWithoutBaselineIsUndefined(t *testing.T) {
	policy, err := scoring.DefaultPolicy()
	require.NoError(t, err)

	bullets := policy.SpeedBullets(scoring.Metrics{"measured_fps": ptr(30)}, scoring.Baseline{})
	assert.Nil(t, findBullet(t, bullets, "measured_fps").Band)
	assert.Nil(t, scoring.Aggregate(bullets))
}

func TestLoadPolicyRejectsInvalidBands(t *testing.T) {
	_, err := scoring.LoadPolicy([]byte(`
stability:
  - key: x
    direction: lower-is-better
    good: 0.5
    warn: 0.1
`))
	assert.Error(t, err)

	_, err = scoring.LoadPolicy([]byte(`
speed:
  - key: y
    baseline: bogus
    direction: higher-is-better
    good: 1
    warn: 0.5
`))
	assert.Error(t, err)

	_, err = scoring.LoadPolicy([]byte(`
stability:
  - key: z
    flagged:
      direction: higher-is-better
      good: 0.8
      warn: 0.6
`))
	assert.Error(t, err)
}

func TestLoadPolicyRejectsUnknownDirection(t *testing.T) {
	_, err := scoring.LoadPolicy([]byte(`
stability:
  - key: x
    direction: sideways
    good: 1
    warn: 2
`))
	assert.ErrorContains(t, err, "sideways")
}

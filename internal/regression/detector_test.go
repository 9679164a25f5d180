package regression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rollout/internal/types"
)

func TestDetectThresholds(t *testing.T) {
	baseline := map[string]float64{
		"load_time":   2000,
		"memory":      100,
		"throughput":  500,
		"error_rate":  1.0,
		"small_drift": 100,
	}
	current := map[string]float64{
		"load_time":   2400, // +20% exactly -> high, not critical
		"memory":      125,  // +25% -> critical
		"throughput":  460,  // -8% -> medium
		"error_rate":  1.04, // +4% -> below reporting threshold
		"small_drift": 105,  // +5% exactly -> not reported (must exceed 5)
	}

	found := Detect(baseline, current)

	bySev := make(map[string]types.Severity)
	for _, r := range found {
		bySev[r.Metric] = r.Severity
	}

	require.Len(t, found, 3)
	assert.Equal(t, types.SeverityHigh, bySev["load_time"])
	assert.Equal(t, types.SeverityCritical, bySev["memory"])
	assert.Equal(t, types.SeverityMedium, bySev["throughput"])
	assert.NotContains(t, bySev, "error_rate")
	assert.NotContains(t, bySev, "small_drift")
}

func TestDetectComputesChange(t *testing.T) {
	found := Detect(map[string]float64{"load_time": 2000}, map[string]float64{"load_time": 2500})
	require.Len(t, found, 1)

	r := found[0]
	assert.Equal(t, 500.0, r.Change)
	assert.InDelta(t, 25.0, r.ChangePercent, 1e-9)
	assert.Equal(t, types.SeverityCritical, r.Severity)
	assert.Contains(t, r.Description, "load_time increased 25.0%")
}

func TestDetectNegativeDeviationReported(t *testing.T) {
	found := Detect(map[string]float64{"hit_rate": 100}, map[string]float64{"hit_rate": 70})
	require.Len(t, found, 1)
	assert.Equal(t, types.SeverityCritical, found[0].Severity)
	assert.Contains(t, found[0].Description, "decreased 30.0%")
}

func TestDetectSkipsUnmatchedAndZeroBaseline(t *testing.T) {
	baseline := map[string]float64{"gone": 10, "zero": 0}
	current := map[string]float64{"new": 10, "zero": 50}

	assert.Empty(t, Detect(baseline, current))
}

func TestDetectDeterministicOrder(t *testing.T) {
	baseline := map[string]float64{"b": 100, "a": 100, "c": 100}
	current := map[string]float64{"b": 150, "a": 150, "c": 150}

	found := Detect(baseline, current)
	require.Len(t, found, 3)
	assert.Equal(t, "a", found[0].Metric)
	assert.Equal(t, "b", found[1].Metric)
	assert.Equal(t, "c", found[2].Metric)
}

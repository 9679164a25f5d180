package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rollout/internal/pipeline"
)

type fakeExecutionSource struct {
	execs []*pipeline.Execution
	err   error
}

func (s fakeExecutionSource) ListExecutions(_ context.Context, limit int) ([]*pipeline.Execution, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.execs) {
		return s.execs[:limit], nil
	}
	return s.execs, nil
}

func TestParamCollectorParsesMetricsAndRaw(t *testing.T) {
	c := paramCollector{typ: TargetPerformance}
	res, err := c.Collect(context.Background(), Target{
		ID: "api",
		Params: map[string]string{
			"metric.latency_ms": "120.5",
			"metric.error_rate": "0.2",
			"raw.status":        "ok",
			"endpoint":          "https://example.test", // neither prefix, ignored
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 120.5, res.Metrics["latency_ms"])
	assert.Equal(t, 0.2, res.Metrics["error_rate"])
	assert.Equal(t, "ok", res.Raw["status"])
	assert.Len(t, res.Metrics, 2)
}

func TestParamCollectorRejectsBadMetric(t *testing.T) {
	c := paramCollector{typ: TargetPerformance}
	_, err := c.Collect(context.Background(), Target{
		ID:     "api",
		Params: map[string]string{"metric.latency_ms": "fast"},
	})
	assert.Error(t, err)
}

func TestPipelineCollectorDerivesMetrics(t *testing.T) {
	source := fakeExecutionSource{execs: []*pipeline.Execution{
		{Status: pipeline.ExecutionCompleted, Passed: true, OverallScore: 90},
		{Status: pipeline.ExecutionCompleted, Passed: true, OverallScore: 80},
		{Status: pipeline.ExecutionFailed, Passed: false, OverallScore: 40},
		{Status: pipeline.ExecutionCancelled, Passed: false, OverallScore: 0},
	}}
	c := pipelineCollector{source: source}

	res, err := c.Collect(context.Background(), Target{ID: "pipelines"})
	require.NoError(t, err)

	assert.Equal(t, 4.0, res.Metrics["executions"])
	assert.Equal(t, 50.0, res.Metrics["pass_rate"])
	assert.InDelta(t, 52.5, res.Metrics["average_score"], 1e-9)
	assert.Equal(t, 1.0, res.Metrics["failed"])
	assert.Equal(t, 1.0, res.Metrics["cancelled"])
}

func TestPipelineCollectorEmptyHistory(t *testing.T) {
	c := pipelineCollector{source: fakeExecutionSource{}}

	res, err := c.Collect(context.Background(), Target{ID: "pipelines"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Metrics["executions"])
	assert.Equal(t, 100.0, res.Metrics["pass_rate"])
}

func TestPipelineCollectorPropagatesSourceError(t *testing.T) {
	c := pipelineCollector{source: fakeExecutionSource{err: errors.New("store offline")}}
	_, err := c.Collect(context.Background(), Target{ID: "pipelines"})
	assert.Error(t, err)
}

func TestPipelineCollectorWindowParam(t *testing.T) {
	c := pipelineCollector{source: fakeExecutionSource{execs: []*pipeline.Execution{
		{Passed: true, OverallScore: 100},
		{Passed: false, OverallScore: 0},
	}}}

	res, err := c.Collect(context.Background(), Target{
		ID:     "pipelines",
		Params: map[string]string{"window": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Metrics["executions"])
	assert.Equal(t, 100.0, res.Metrics["pass_rate"])

	_, err = c.Collect(context.Background(), Target{
		ID:     "pipelines",
		Params: map[string]string{"window": "zero"},
	})
	assert.Error(t, err)
}

func TestCollectorRegistryRegisterAndLookup(t *testing.T) {
	r := NewCollectorRegistry(nil)

	_, ok := r.Lookup(TargetPerformance)
	assert.True(t, ok)

	// Without an execution source there is no pipeline collector.
	_, ok = r.Lookup(TargetPipeline)
	assert.False(t, ok)

	r = NewCollectorRegistry(fakeExecutionSource{})
	_, ok = r.Lookup(TargetPipeline)
	assert.True(t, ok)

	assert.Error(t, r.Register(paramCollector{typ: "mainframe"}))
}

func TestResourceCollectorReportsRuntimeStats(t *testing.T) {
	res, err := resourceCollector{}.Collect(context.Background(), Target{ID: "self"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Metrics["goroutines"], 1.0)
	assert.Greater(t, res.Metrics["heap_alloc_mb"], 0.0)
	assert.Contains(t, res.Metrics, "heap_objects")
	assert.Contains(t, res.Metrics, "gc_cycles")
}

package monitor

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rolloutkit/rollout/internal/pipeline"
)

// CollectorResult is the flat metric snapshot a collector produces. Raw
// carries string payloads for contains/matches alert conditions.
type CollectorResult struct {
	Metrics map[string]float64
	Raw     map[string]string
}

// Collector gathers metrics for one target type. The engine does not know
// how the numbers were produced.
type Collector interface {
	Type() TargetType
	Collect(ctx context.Context, target Target) (*CollectorResult, error)
}

// ExecutionSource is the slice of persistence the pipeline collector reads
// recent validation executions from.
type ExecutionSource interface {
	ListExecutions(ctx context.Context, limit int) ([]*pipeline.Execution, error)
}

// CollectorRegistry resolves target types to collectors.
type CollectorRegistry struct {
	mu         sync.RWMutex
	collectors map[TargetType]Collector
}

// NewCollectorRegistry creates a registry pre-populated with built-in
// collectors. The pipeline collector is only registered when an execution
// source is available.
func NewCollectorRegistry(source ExecutionSource) *CollectorRegistry {
	r := &CollectorRegistry{collectors: make(map[TargetType]Collector)}
	for _, typ := range []TargetType{TargetTestSuite, TargetPerformance, TargetSecurity} {
		r.collectors[typ] = paramCollector{typ: typ}
	}
	r.collectors[TargetResource] = resourceCollector{}
	if source != nil {
		r.collectors[TargetPipeline] = pipelineCollector{source: source}
	}
	return r
}

// Register adds or replaces the collector for a target type.
func (r *CollectorRegistry) Register(c Collector) error {
	if !c.Type().IsValid() {
		return fmt.Errorf("cannot register collector for unknown target type %q", c.Type())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Type()] = c
	return nil
}

// Lookup returns the collector for a target type.
func (r *CollectorRegistry) Lookup(t TargetType) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[t]
	return c, ok
}

// paramCollector reads metrics straight from the target's parameters. Keys
// prefixed "metric." become numeric metrics, keys prefixed "raw." become
// string payloads. It stands in for real suite runners and scanners, which
// embedders register over it.
type paramCollector struct {
	typ TargetType
}

func (c paramCollector) Type() TargetType { return c.typ }

func (c paramCollector) Collect(ctx context.Context, target Target) (*CollectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &CollectorResult{
		Metrics: make(map[string]float64),
		Raw:     make(map[string]string),
	}
	for key, val := range target.Params {
		switch {
		case strings.HasPrefix(key, "metric."):
			name := strings.TrimPrefix(key, "metric.")
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("target %s: metric %s: %w", target.ID, name, err)
			}
			res.Metrics[name] = v
		case strings.HasPrefix(key, "raw."):
			res.Raw[strings.TrimPrefix(key, "raw.")] = val
		}
	}
	return res, nil
}

// resourceCollector reports the monitoring process's own runtime footprint.
type resourceCollector struct{}

func (resourceCollector) Type() TargetType { return TargetResource }

func (resourceCollector) Collect(ctx context.Context, target Target) (*CollectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &CollectorResult{Metrics: map[string]float64{
		"goroutines":    float64(runtime.NumGoroutine()),
		"heap_alloc_mb": float64(ms.HeapAlloc) / (1 << 20),
		"heap_objects":  float64(ms.HeapObjects),
		"gc_cycles":     float64(ms.NumGC),
	}}, nil
}

// pipelineCollector derives health metrics from recent validation
// executions: pass rate, mean overall score, and counts by terminal status.
type pipelineCollector struct {
	source ExecutionSource
}

func (pipelineCollector) Type() TargetType { return TargetPipeline }

func (c pipelineCollector) Collect(ctx context.Context, target Target) (*CollectorResult, error) {
	limit := 50
	if raw, ok := target.Params["window"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("target %s: invalid window %q", target.ID, raw)
		}
		limit = n
	}

	execs, err := c.source.ListExecutions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	res := &CollectorResult{Metrics: map[string]float64{
		"executions": float64(len(execs)),
		"pass_rate":  100,
	}}
	if len(execs) == 0 {
		return res, nil
	}

	var passed, failed, cancelled int
	var scoreSum float64
	for _, e := range execs {
		scoreSum += e.OverallScore
		if e.Passed {
			passed++
		}
		switch e.Status {
		case pipeline.ExecutionFailed:
			failed++
		case pipeline.ExecutionCancelled:
			cancelled++
		}
	}

	n := float64(len(execs))
	res.Metrics["pass_rate"] = 100 * float64(passed) / n
	res.Metrics["average_score"] = scoreSum / n
	res.Metrics["failed"] = float64(failed)
	res.Metrics["cancelled"] = float64(cancelled)
	return res, nil
}

package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/rolloutkit/rollout/internal/regression"
)

// TrendMonitor keeps a bounded time window of samples for one metric and
// recomputes the trend analysis on every append. Samples older than the
// window, measured from the newest sample, are evicted first.
type TrendMonitor struct {
	mu sync.Mutex

	metric         string
	window         time.Duration
	higherIsBetter bool
	samples        []regression.Sample
	last           regression.TrendResult
}

// NewTrendMonitor creates a trend monitor for one metric.
func NewTrendMonitor(metric string, window time.Duration, higherIsBetter bool) *TrendMonitor {
	return &TrendMonitor{
		metric:         metric,
		window:         window,
		higherIsBetter: higherIsBetter,
	}
}

// Observe appends a sample, evicts anything outside the window, and
// returns the recomputed trend.
func (m *TrendMonitor) Observe(ts time.Time, value float64) regression.TrendResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, regression.Sample{Timestamp: ts, Value: value})

	cutoff := m.samples[len(m.samples)-1].Timestamp.Add(-m.window)
	keep := m.samples[:0]
	for _, s := range m.samples {
		if !s.Timestamp.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	m.samples = keep

	m.last = regression.AnalyzeTrend(m.samples, m.higherIsBetter)
	return m.last
}

// Result returns the trend computed on the most recent observation.
func (m *TrendMonitor) Result() regression.TrendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Len returns the number of retained samples.
func (m *TrendMonitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// TrendSet owns one TrendMonitor per metric name, created lazily on first
// observation. Metrics whose name suggests higher values are healthy
// (scores, rates) are tracked as higher-is-better.
type TrendSet struct {
	mu       sync.Mutex
	window   time.Duration
	monitors map[string]*TrendMonitor
}

// NewTrendSet creates a trend set with one shared window duration.
func NewTrendSet(window time.Duration) *TrendSet {
	return &TrendSet{
		window:   window,
		monitors: make(map[string]*TrendMonitor),
	}
}

// Observe routes a sample to the metric's monitor and returns the updated
// trend.
func (s *TrendSet) Observe(metric string, ts time.Time, value float64) regression.TrendResult {
	s.mu.Lock()
	m, ok := s.monitors[metric]
	if !ok {
		m = NewTrendMonitor(metric, s.window, higherIsBetter(metric))
		s.monitors[metric] = m
	}
	s.mu.Unlock()

	return m.Observe(ts, value)
}

// Monitor returns the monitor for a metric, if one exists.
func (s *TrendSet) Monitor(metric string) (*TrendMonitor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[metric]
	return m, ok
}

// Metrics returns the tracked metric names, sorted.
func (s *TrendSet) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.monitors))
	for name := range s.monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var higherIsBetterSuffixes = []string{"score", "rate", "coverage", "throughput", "uptime"}

func higherIsBetter(metric string) bool {
	for _, suffix := range higherIsBetterSuffixes {
		if len(metric) >= len(suffix) && metric[len(metric)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

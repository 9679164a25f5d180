// Package metrics exposes engine telemetry as Prometheus collectors. The
// Metrics value implements the observer interfaces the pipeline runner and
// the monitoring engine accept.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rolloutkit/rollout/internal/monitor"
	"github.com/rolloutkit/rollout/internal/pipeline"
	"github.com/rolloutkit/rollout/internal/types"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	validatorRuns     *prometheus.CounterVec
	validatorDuration *prometheus.HistogramVec
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	ticks             *prometheus.CounterVec
	tickDuration      *prometheus.HistogramVec
	alertsFired       *prometheus.CounterVec
}

var (
	_ pipeline.Observer = (*Metrics)(nil)
	_ monitor.Observer  = (*Metrics)(nil)
)

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		validatorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Name:      "validator_runs_total",
			Help:      "Validator runs by type and result status.",
		}, []string{"type", "status"}),
		validatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollout",
			Name:      "validator_duration_seconds",
			Help:      "Validator run duration by type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Name:      "executions_total",
			Help:      "Pipeline executions by terminal status.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rollout",
			Name:      "execution_duration_seconds",
			Help:      "Pipeline execution duration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Name:      "monitoring_ticks_total",
			Help:      "Monitoring ticks by configuration and status.",
		}, []string{"config", "status"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollout",
			Name:      "monitoring_tick_duration_seconds",
			Help:      "Monitoring tick duration by configuration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"config"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollout",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by configuration and severity.",
		}, []string{"config", "severity"}),
	}

	registry.MustRegister(
		m.validatorRuns,
		m.validatorDuration,
		m.executions,
		m.executionDuration,
		m.ticks,
		m.tickDuration,
		m.alertsFired,
	)
	return m
}

// ValidatorRan records one validator run.
func (m *Metrics) ValidatorRan(t pipeline.ValidatorType, status pipeline.ResultStatus, d time.Duration) {
	m.validatorRuns.WithLabelValues(string(t), string(status)).Inc()
	m.validatorDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

// ExecutionFinished records one finished pipeline execution.
func (m *Metrics) ExecutionFinished(status pipeline.ExecutionStatus, d time.Duration) {
	m.executions.WithLabelValues(string(status)).Inc()
	m.executionDuration.Observe(d.Seconds())
}

// TickRan records one monitoring tick.
func (m *Metrics) TickRan(configID string, status monitor.ExecutionStatus, d time.Duration) {
	m.ticks.WithLabelValues(configID, string(status)).Inc()
	m.tickDuration.WithLabelValues(configID).Observe(d.Seconds())
}

// AlertFired records one fired alert.
func (m *Metrics) AlertFired(configID string, severity types.Severity) {
	m.alertsFired.WithLabelValues(configID, string(severity)).Inc()
}

// Registry returns the underlying registry, for tests and embedders.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package storage defines the persistence interface shared by the engine
// components and provides the in-memory implementation. The sqlite
// subpackage provides the durable one. Stores are explicitly constructed
// and injected; there is no process-wide registry.
package storage

import (
	"context"
	"errors"

	"github.com/rolloutkit/rollout/internal/monitor"
	"github.com/rolloutkit/rollout/internal/pipeline"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("not found")

// Store is the full persistence surface. It satisfies the narrower
// consumer-side interfaces declared by the pipeline and monitor packages.
type Store interface {
	// Pipelines
	SavePipeline(ctx context.Context, p *pipeline.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error)
	DeletePipeline(ctx context.Context, id string) error

	// Validation executions
	SaveExecution(ctx context.Context, exec *pipeline.Execution) error
	GetExecution(ctx context.Context, id string) (*pipeline.Execution, error)
	ListExecutions(ctx context.Context, limit int) ([]*pipeline.Execution, error)

	// Monitoring executions
	SaveMonitoringExecution(ctx context.Context, exec *monitor.MonitoringExecution) error
	ListMonitoringExecutions(ctx context.Context, configID string, limit int) ([]*monitor.MonitoringExecution, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *monitor.Alert) error
	GetAlert(ctx context.Context, id string) (*monitor.Alert, error)
	ListAlerts(ctx context.Context, configID string, limit int) ([]*monitor.Alert, error)
	ListOpenAlerts(ctx context.Context, configID string) ([]*monitor.Alert, error)

	// Cleanup prunes records older than the retention policy allows and
	// returns how many were removed. Open alerts are never pruned.
	Cleanup(ctx context.Context, retention monitor.RetentionPolicy) (int, error)

	Close() error
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rolloutkit/rollout/internal/monitor"
	"github.com/rolloutkit/rollout/internal/pipeline"
)

// MemoryStore is a concurrency-safe in-memory store. Used by tests and by
// runs that do not need durability; the sqlite store replaces it in
// deployments.
type MemoryStore struct {
	mu sync.RWMutex

	pipelines       map[string]pipeline.Pipeline
	executions      map[string]pipeline.Execution
	monitoringExecs map[string]monitor.MonitoringExecution
	alerts          map[string]monitor.Alert
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:       make(map[string]pipeline.Pipeline),
		executions:      make(map[string]pipeline.Execution),
		monitoringExecs: make(map[string]monitor.MonitoringExecution),
		alerts:          make(map[string]monitor.Alert),
	}
}

// SavePipeline stores or replaces a pipeline after validating it.
func (s *MemoryStore) SavePipeline(_ context.Context, p *pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.ID] = *p
	return nil
}

// GetPipeline returns the pipeline with the given id.
func (s *MemoryStore) GetPipeline(_ context.Context, id string) (*pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	cp := p
	return &cp, nil
}

// ListPipelines returns all pipelines sorted by id.
func (s *MemoryStore) ListPipelines(_ context.Context) ([]*pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pipeline.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeletePipeline removes a pipeline.
func (s *MemoryStore) DeletePipeline(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	delete(s.pipelines, id)
	return nil
}

// SaveExecution stores or replaces a validation execution.
func (s *MemoryStore) SaveExecution(_ context.Context, exec *pipeline.Execution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = *exec
	return nil
}

// GetExecution returns the execution with the given id.
func (s *MemoryStore) GetExecution(_ context.Context, id string) (*pipeline.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	cp := e
	return &cp, nil
}

// ListExecutions returns executions newest first, up to limit (0 means
// all).
func (s *MemoryStore) ListExecutions(_ context.Context, limit int) ([]*pipeline.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pipeline.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		cp := e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveMonitoringExecution stores or replaces a monitoring tick record.
func (s *MemoryStore) SaveMonitoringExecution(_ context.Context, exec *monitor.MonitoringExecution) error {
	if exec.ID == "" {
		return fmt.Errorf("monitoring execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitoringExecs[exec.ID] = *exec
	return nil
}

// ListMonitoringExecutions returns ticks for a configuration newest first,
// up to limit (0 means all). An empty configID matches all configurations.
func (s *MemoryStore) ListMonitoringExecutions(_ context.Context, configID string, limit int) ([]*monitor.MonitoringExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*monitor.MonitoringExecution
	for _, e := range s.monitoringExecs {
		if configID != "" && e.ConfigID != configID {
			continue
		}
		cp := e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveAlert stores or replaces an alert.
func (s *MemoryStore) SaveAlert(_ context.Context, alert *monitor.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = *alert
	return nil
}

// GetAlert returns the alert with the given id.
func (s *MemoryStore) GetAlert(_ context.Context, id string) (*monitor.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	cp := a
	return &cp, nil
}

// ListAlerts returns alerts for a configuration newest first, up to limit
// (0 means all). An empty configID matches all configurations.
func (s *MemoryStore) ListAlerts(_ context.Context, configID string, limit int) ([]*monitor.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*monitor.Alert
	for _, a := range s.alerts {
		if configID != "" && a.ConfigID != configID {
			continue
		}
		cp := a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListOpenAlerts returns the open alerts for a configuration.
func (s *MemoryStore) ListOpenAlerts(_ context.Context, configID string) ([]*monitor.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*monitor.Alert
	for _, a := range s.alerts {
		if a.ConfigID != configID || a.Status != monitor.AlertOpen {
			continue
		}
		cp := a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Cleanup prunes records past their retention window. Open and
// acknowledged alerts are kept regardless of age.
func (s *MemoryStore) Cleanup(_ context.Context, retention monitor.RetentionPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	if retention.ReportsDays > 0 {
		cutoff := now.AddDate(0, 0, -retention.ReportsDays)
		for id, e := range s.executions {
			if e.StartedAt.Before(cutoff) {
				delete(s.executions, id)
				removed++
			}
		}
	}
	if retention.MetricsDays > 0 {
		cutoff := now.AddDate(0, 0, -retention.MetricsDays)
		for id, e := range s.monitoringExecs {
			if e.StartedAt.Before(cutoff) {
				delete(s.monitoringExecs, id)
				removed++
			}
		}
	}
	if retention.AlertsDays > 0 {
		cutoff := now.AddDate(0, 0, -retention.AlertsDays)
		for id, a := range s.alerts {
			if a.Status == monitor.AlertOpen || a.Status == monitor.AlertAcknowledged {
				continue
			}
			if a.CreatedAt.Before(cutoff) {
				delete(s.alerts, id)
				removed++
			}
		}
	}

	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

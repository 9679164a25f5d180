// Package sqlite is the durable store backend. Records are kept as JSON
// payloads next to the handful of columns queries filter and sort on.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rolloutkit/rollout/internal/monitor"
	"github.com/rolloutkit/rollout/internal/pipeline"
	"github.com/rolloutkit/rollout/internal/storage"
)

// SQLiteStore implements storage.Store on a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at path and initializes the
// schema.
func New(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode keeps concurrent monitor timers and pipeline runs from
	// serializing on writes.
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SavePipeline stores or replaces a pipeline after validating it.
func (s *SQLiteStore) SavePipeline(ctx context.Context, p *pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save pipeline %s: %w", p.ID, err)
	}
	return nil
}

// GetPipeline returns the pipeline with the given id.
func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM pipelines WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pipeline %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline %s: %w", id, err)
	}

	var p pipeline.Pipeline
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline %s: %w", id, err)
	}
	return &p, nil
}

// ListPipelines returns all pipelines sorted by id.
func (s *SQLiteStore) ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM pipelines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Pipeline
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p pipeline.Pipeline
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("failed to decode pipeline: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeletePipeline removes a pipeline.
func (s *SQLiteStore) DeletePipeline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pipeline %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pipeline %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// SaveExecution stores or replaces a validation execution.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *pipeline.Execution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution id is required")
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}
	passed := 0
	if exec.Passed {
		passed = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, pipeline_id, feature_id, status, passed, overall_score, started_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			passed = excluded.passed,
			overall_score = excluded.overall_score,
			payload = excluded.payload
	`, exec.ID, exec.PipelineID, exec.FeatureID, string(exec.Status), passed, exec.OverallScore,
		exec.StartedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}
	return nil
}

// GetExecution returns the execution with the given id.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*pipeline.Execution, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM executions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}

	var exec pipeline.Execution
	if err := json.Unmarshal([]byte(payload), &exec); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListExecutions returns executions newest first, up to limit (0 means
// all).
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]*pipeline.Execution, error) {
	query := `SELECT payload FROM executions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.Execution
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var exec pipeline.Execution
		if err := json.Unmarshal([]byte(payload), &exec); err != nil {
			return nil, fmt.Errorf("failed to decode execution: %w", err)
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// SaveMonitoringExecution stores or replaces a monitoring tick record.
func (s *SQLiteStore) SaveMonitoringExecution(ctx context.Context, exec *monitor.MonitoringExecution) error {
	if exec.ID == "" {
		return fmt.Errorf("monitoring execution id is required")
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode monitoring execution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_executions (id, config_id, status, started_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload
	`, exec.ID, exec.ConfigID, string(exec.Status),
		exec.StartedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save monitoring execution %s: %w", exec.ID, err)
	}
	return nil
}

// ListMonitoringExecutions returns ticks for a configuration newest first,
// up to limit (0 means all). An empty configID matches all configurations.
func (s *SQLiteStore) ListMonitoringExecutions(ctx context.Context, configID string, limit int) ([]*monitor.MonitoringExecution, error) {
	query := `SELECT payload FROM monitoring_executions`
	args := []any{}
	if configID != "" {
		query += ` WHERE config_id = ?`
		args = append(args, configID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitoring executions: %w", err)
	}
	defer rows.Close()

	var out []*monitor.MonitoringExecution
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var exec monitor.MonitoringExecution
		if err := json.Unmarshal([]byte(payload), &exec); err != nil {
			return nil, fmt.Errorf("failed to decode monitoring execution: %w", err)
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// SaveAlert stores or replaces an alert.
func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *monitor.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, config_id, rule_id, status, severity, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload
	`, alert.ID, alert.ConfigID, alert.RuleID, string(alert.Status), string(alert.Severity),
		alert.CreatedAt.UTC().Format(time.RFC3339Nano), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert returns the alert with the given id.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*monitor.Alert, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM alerts WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}

	var alert monitor.Alert
	if err := json.Unmarshal([]byte(payload), &alert); err != nil {
		return nil, fmt.Errorf("failed to decode alert %s: %w", id, err)
	}
	return &alert, nil
}

// ListAlerts returns alerts for a configuration newest first, up to limit
// (0 means all). An empty configID matches all configurations.
func (s *SQLiteStore) ListAlerts(ctx context.Context, configID string, limit int) ([]*monitor.Alert, error) {
	query := `SELECT payload FROM alerts`
	args := []any{}
	if configID != "" {
		query += ` WHERE config_id = ?`
		args = append(args, configID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryAlerts(ctx, query, args...)
}

// ListOpenAlerts returns the open alerts for a configuration, oldest
// first.
func (s *SQLiteStore) ListOpenAlerts(ctx context.Context, configID string) ([]*monitor.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT payload FROM alerts WHERE config_id = ? AND status = ? ORDER BY created_at`,
		configID, string(monitor.AlertOpen))
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...any) ([]*monitor.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []*monitor.Alert
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var alert monitor.Alert
		if err := json.Unmarshal([]byte(payload), &alert); err != nil {
			return nil, fmt.Errorf("failed to decode alert: %w", err)
		}
		out = append(out, &alert)
	}
	return out, rows.Err()
}

// Cleanup prunes records past their retention window. Open and
// acknowledged alerts are kept regardless of age.
func (s *SQLiteStore) Cleanup(ctx context.Context, retention monitor.RetentionPolicy) (int, error) {
	now := time.Now().UTC()
	removed := 0

	prune := func(query string, cutoff time.Time, extra ...any) error {
		args := append([]any{cutoff.Format(time.RFC3339Nano)}, extra...)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed += int(n)
		return nil
	}

	if retention.ReportsDays > 0 {
		cutoff := now.AddDate(0, 0, -retention.ReportsDays)
		if err := prune(`DELETE FROM executions WHERE started_at < ?`, cutoff); err != nil {
			return removed, fmt.Errorf("failed to prune executions: %w", err)
		}
	}
	if retention.MetricsDays > 0 {
		cutoff := now.AddDate(0, 0, -retention.MetricsDays)
		if err := prune(`DELETE FROM monitoring_executions WHERE started_at < ?`, cutoff); err != nil {
			return removed, fmt.Errorf("failed to prune monitoring executions: %w", err)
		}
	}
	if retention.AlertsDays > 0 {
		cutoff := now.AddDate(0, 0, -retention.AlertsDays)
		if err := prune(`DELETE FROM alerts WHERE created_at < ? AND status IN (?, ?)`,
			cutoff, string(monitor.AlertResolved), string(monitor.AlertSuppressed)); err != nil {
			return removed, fmt.Errorf("failed to prune alerts: %w", err)
		}
	}

	return removed, nil
}

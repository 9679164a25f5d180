package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rollout/internal/monitor"
	"github.com/rolloutkit/rollout/internal/pipeline"
	"github.com/rolloutkit/rollout/internal/types"
)

func validPipeline(id string) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		ID:   id,
		Name: "standard validation",
		Validators: []pipeline.ValidatorConfig{
			{ID: "compat", Type: pipeline.ValidatorCompatibility, Enabled: true, Priority: 1},
		},
		Retry: pipeline.DefaultRetryPolicy(),
	}
}

func TestMemoryStorePipelineCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SavePipeline(ctx, validPipeline("p1")))
	require.NoError(t, s.SavePipeline(ctx, validPipeline("p2")))

	p, err := s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	list, err := s.ListPipelines(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p1", list[0].ID)
	assert.Equal(t, "p2", list[1].ID)

	require.NoError(t, s.DeletePipeline(ctx, "p1"))
	_, err = s.GetPipeline(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeletePipeline(ctx, "p1"), ErrNotFound)
}

func TestMemoryStoreRejectsInvalidPipeline(t *testing.T) {
	s := NewMemoryStore()
	err := s.SavePipeline(context.Background(), &pipeline.Pipeline{ID: "bad"})
	assert.Error(t, err)
}

func TestMemoryStoreExecutions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.SaveExecution(ctx, &pipeline.Execution{
			ID:         id,
			PipelineID: "p1",
			Status:     pipeline.ExecutionCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.GetExecution(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, "e2", got.ID)

	_, err = s.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Newest first, limited.
	list, err := s.ListExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e3", list[0].ID)
	assert.Equal(t, "e2", list[1].ID)

	assert.Error(t, s.SaveExecution(ctx, &pipeline.Execution{}))
}

func TestMemoryStoreMutationsDoNotLeak(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := validPipeline("p1")
	require.NoError(t, s.SavePipeline(ctx, p))

	// Mutating the caller's copy must not affect the stored record.
	p.Name = "changed"
	got, err := s.GetPipeline(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "standard validation", got.Name)
}

func TestMemoryStoreAlerts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	mk := func(id string, status monitor.AlertStatus, age time.Duration) *monitor.Alert {
		return &monitor.Alert{
			ID:        id,
			ConfigID:  "mon-1",
			RuleID:    "r1",
			Severity:  types.SeverityHigh,
			Status:    status,
			CreatedAt: base.Add(-age),
		}
	}

	require.NoError(t, s.SaveAlert(ctx, mk("a1", monitor.AlertOpen, 2*time.Hour)))
	require.NoError(t, s.SaveAlert(ctx, mk("a2", monitor.AlertResolved, time.Hour)))
	require.NoError(t, s.SaveAlert(ctx, mk("a3", monitor.AlertOpen, time.Minute)))

	got, err := s.GetAlert(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, monitor.AlertResolved, got.Status)

	all, err := s.ListAlerts(ctx, "mon-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a3", all[0].ID) // newest first

	open, err := s.ListOpenAlerts(ctx, "mon-1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a1", open[0].ID) // oldest first
	assert.Equal(t, "a3", open[1].ID)

	_, err = s.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreMonitoringExecutions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i, cfg := range []string{"mon-1", "mon-2", "mon-1"} {
		require.NoError(t, s.SaveMonitoringExecution(ctx, &monitor.MonitoringExecution{
			ID:        string(rune('a' + i)),
			ConfigID:  cfg,
			Status:    monitor.ExecutionCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := s.ListMonitoringExecutions(ctx, "mon-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)

	all, err := s.ListMonitoringExecutions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.SaveExecution(ctx, &pipeline.Execution{
		ID: "old", StartedAt: now.AddDate(0, 0, -40),
	}))
	require.NoError(t, s.SaveExecution(ctx, &pipeline.Execution{
		ID: "fresh", StartedAt: now,
	}))
	require.NoError(t, s.SaveMonitoringExecution(ctx, &monitor.MonitoringExecution{
		ID: "tick-old", ConfigID: "mon-1", StartedAt: now.AddDate(0, 0, -10),
	}))
	require.NoError(t, s.SaveAlert(ctx, &monitor.Alert{
		ID: "resolved-old", ConfigID: "mon-1", Status: monitor.AlertResolved,
		CreatedAt: now.AddDate(0, 0, -90),
	}))
	require.NoError(t, s.SaveAlert(ctx, &monitor.Alert{
		ID: "open-old", ConfigID: "mon-1", Status: monitor.AlertOpen,
		CreatedAt: now.AddDate(0, 0, -90),
	}))

	removed, err := s.Cleanup(ctx, monitor.RetentionPolicy{
		ReportsDays: 30,
		MetricsDays: 7,
		AlertsDays:  60,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = s.GetExecution(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetExecution(ctx, "fresh")
	assert.NoError(t, err)

	// Open alerts survive regardless of age.
	_, err = s.GetAlert(ctx, "open-old")
	assert.NoError(t, err)
	_, err = s.GetAlert(ctx, "resolved-old")
	assert.ErrorIs(t, err, ErrNotFound)
}

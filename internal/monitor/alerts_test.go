package monitor

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rollout/internal/types"
)

type fakeMonitorStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
	execs  []*MonitoringExecution
}

func newFakeMonitorStore() *fakeMonitorStore {
	return &fakeMonitorStore{alerts: make(map[string]*Alert)}
}

func (s *fakeMonitorStore) SaveAlert(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *fakeMonitorStore) SaveMonitoringExecution(_ context.Context, e *MonitoringExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, e)
	return nil
}

func (s *fakeMonitorStore) ListOpenAlerts(_ context.Context, configID string) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Alert
	for _, a := range s.alerts {
		if a.ConfigID == configID && a.Status == AlertOpen {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeMonitorStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestManager(t *testing.T, sink AlertSink) *AlertManager {
	t.Helper()
	m, err := NewAlertManager(&AlertManagerConfig{Sink: sink, Logger: quietLogger()})
	require.NoError(t, err)
	return m
}

func latencyConfig(rules ...AlertRule) *Configuration {
	return &Configuration{
		ID:       "mon-1",
		Interval: time.Minute,
		Targets:  []Target{{ID: "api", Type: TargetPerformance, Enabled: true}},
		Alerts:   rules,
	}
}

func TestMatchCondition(t *testing.T) {
	metrics := map[string]float64{"latency_ms": 250}
	raw := map[string]string{"status": "degraded: upstream timeouts"}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"gt hit", Condition{Metric: "latency_ms", Operator: OpGT, Value: 200}, true},
		{"gt miss", Condition{Metric: "latency_ms", Operator: OpGT, Value: 300}, false},
		{"gte boundary", Condition{Metric: "latency_ms", Operator: OpGTE, Value: 250}, true},
		{"lt miss", Condition{Metric: "latency_ms", Operator: OpLT, Value: 200}, false},
		{"lte boundary", Condition{Metric: "latency_ms", Operator: OpLTE, Value: 250}, true},
		{"eq hit", Condition{Metric: "latency_ms", Operator: OpEQ, Value: 250}, true},
		{"ne hit", Condition{Metric: "latency_ms", Operator: OpNE, Value: 100}, true},
		{"unknown metric", Condition{Metric: "nope", Operator: OpGT, Value: 0}, false},
		{"contains hit", Condition{Metric: "status", Operator: OpContains, Pattern: "timeouts"}, true},
		{"contains miss", Condition{Metric: "status", Operator: OpContains, Pattern: "healthy"}, false},
		{"matches hit", Condition{Metric: "status", Operator: OpMatches, Pattern: `^degraded:`}, true},
		{"matches bad pattern", Condition{Metric: "status", Operator: OpMatches, Pattern: `[`}, false},
		{"contains over numeric", Condition{Metric: "latency_ms", Operator: OpContains, Pattern: "250"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := matchCondition(tt.cond, metrics, raw)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFiresOnSatisfiedCondition(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	cfg := latencyConfig(AlertRule{
		ID:        "high-latency",
		Name:      "High latency",
		Enabled:   true,
		Condition: Condition{Metric: "latency_ms", Operator: OpGT, Value: 200},
		Severity:  types.SeverityHigh,
		Tags:      []string{"latency"},
	})
	result := &TargetResult{TargetID: "api", Metrics: map[string]float64{"latency_ms": 250}}

	fired := m.Evaluate(context.Background(), cfg, result, nil)

	require.Len(t, fired, 1)
	assert.Equal(t, AlertOpen, fired[0].Status)
	assert.Equal(t, "high-latency", fired[0].RuleID)
	assert.Equal(t, "api", fired[0].TargetID)
	assert.Contains(t, fired[0].Message, "latency_ms")
	assert.Equal(t, 1, store.alertCount())
}

func TestEvaluateSkipsDisabledRules(t *testing.T) {
	m := newTestManager(t, newFakeMonitorStore())
	cfg := latencyConfig(AlertRule{
		ID:        "off",
		Enabled:   false,
		Condition: Condition{Metric: "latency_ms", Operator: OpGT, Value: 0},
		Severity:  types.SeverityLow,
	})
	result := &TargetResult{TargetID: "api", Metrics: map[string]float64{"latency_ms": 250}}

	assert.Empty(t, m.Evaluate(context.Background(), cfg, result, nil))
}

func TestEvaluateCooldownSuppressesRepeatFiring(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	cfg := latencyConfig(AlertRule{
		ID:        "high-latency",
		Enabled:   true,
		Condition: Condition{Metric: "latency_ms", Operator: OpGT, Value: 200},
		Severity:  types.SeverityHigh,
		Cooldown:  time.Hour,
	})
	result := &TargetResult{TargetID: "api", Metrics: map[string]float64{"latency_ms": 250}}

	assert.Len(t, m.Evaluate(context.Background(), cfg, result, nil), 1)
	assert.Empty(t, m.Evaluate(context.Background(), cfg, result, nil))
	assert.Equal(t, 1, store.alertCount())
}

func TestEvaluateMaxAlertsCap(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	cfg := latencyConfig(AlertRule{
		ID:        "capped",
		Enabled:   true,
		Condition: Condition{Metric: "latency_ms", Operator: OpGT, Value: 200},
		Severity:  types.SeverityHigh,
		MaxAlerts: 2,
	})
	result := &TargetResult{TargetID: "api", Metrics: map[string]float64{"latency_ms": 250}}

	for i := 0; i < 5; i++ {
		m.Evaluate(context.Background(), cfg, result, nil)
	}
	assert.Equal(t, 2, store.alertCount())
}

func TestEvaluateNoFireInsideThreshold(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	cfg := latencyConfig(AlertRule{
		ID:        "high-latency",
		Enabled:   true,
		Condition: Condition{Metric: "latency_ms", Operator: OpGT, Value: 200},
		Severity:  types.SeverityHigh,
	})
	result := &TargetResult{TargetID: "api", Metrics: map[string]float64{"latency_ms": 50}}

	// Healthy metrics never fire, however often they are evaluated.
	assert.Empty(t, m.Evaluate(context.Background(), cfg, result, nil))
	assert.Empty(t, m.Evaluate(context.Background(), cfg, result, nil))
	assert.Zero(t, store.alertCount())
}

func TestEscalatorAdvancesDueLevels(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	esc := NewEscalator(m, quietLogger())

	cfg := latencyConfig(AlertRule{
		ID:       "esc",
		Enabled:  true,
		Severity: types.SeverityCritical,
		Escalation: &EscalationPolicy{
			Enabled: true,
			Levels: []EscalationLevel{
				{Level: 1, After: 10 * time.Minute, Recipients: []string{"oncall"}},
				{Level: 2, After: 30 * time.Minute, Recipients: []string{"lead"}},
			},
		},
	})

	alert := &Alert{
		ID:        "a1",
		ConfigID:  cfg.ID,
		RuleID:    "esc",
		Status:    AlertOpen,
		CreatedAt: time.Now().Add(-15 * time.Minute),
	}

	escalated := esc.Advance(context.Background(), cfg, []*Alert{alert}, time.Now())
	require.Len(t, escalated, 1)
	assert.Equal(t, 1, escalated[0].EscalationLevel)

	// 15 minutes in, level 2 (due at 40 minutes cumulative) is not reached.
	assert.Empty(t, esc.Advance(context.Background(), cfg, []*Alert{alert}, time.Now()))

	// Past the cumulative delay both remaining levels are applied.
	later := time.Now().Add(40 * time.Minute)
	escalated = esc.Advance(context.Background(), cfg, []*Alert{alert}, later)
	require.Len(t, escalated, 1)
	assert.Equal(t, 2, escalated[0].EscalationLevel)
}

// marshalDispatcher encodes the alert it receives, the way the webhook
// dispatcher does, and hands the payload back for inspection.
type marshalDispatcher struct {
	out chan []byte
}

func (marshalDispatcher) Type() ActionType { return ActionWebhook }

func (d marshalDispatcher) Dispatch(_ context.Context, alert *Alert, _ ActionConfig) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	d.out <- body
	return nil
}

func TestEscalatorDispatchReadsStableAlert(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	payloads := make(chan []byte, 4)
	require.NoError(t, m.RegisterDispatcher(marshalDispatcher{out: payloads}))
	esc := NewEscalator(m, quietLogger())

	hook := []ActionConfig{{Type: ActionWebhook, Target: "http://hooks.internal/alerts"}}
	cfg := latencyConfig(AlertRule{
		ID:       "esc",
		Enabled:  true,
		Severity: types.SeverityCritical,
		Escalation: &EscalationPolicy{
			Enabled: true,
			Levels: []EscalationLevel{
				{Level: 1, After: 5 * time.Minute, Actions: hook},
				{Level: 2, After: 10 * time.Minute, Actions: hook},
			},
		},
	})
	alert := &Alert{
		ID:        "a1",
		ConfigID:  cfg.ID,
		RuleID:    "esc",
		Status:    AlertOpen,
		CreatedAt: time.Now().Add(-time.Hour),
	}

	// Both levels come due in one pass; each level's dispatch encodes the
	// alert while the escalator keeps advancing it.
	escalated := esc.Advance(context.Background(), cfg, []*Alert{alert}, time.Now())
	require.Len(t, escalated, 1)
	assert.Equal(t, 2, alert.EscalationLevel)

	levels := make(map[int]bool)
	for i := 0; i < 2; i++ {
		select {
		case body := <-payloads:
			var got Alert
			require.NoError(t, json.Unmarshal(body, &got))
			assert.Equal(t, "a1", got.ID)
			levels[got.EscalationLevel] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatched payload")
		}
	}
	assert.True(t, levels[1])
	assert.True(t, levels[2])
}

func TestEscalatorIgnoresResolvedAlerts(t *testing.T) {
	store := newFakeMonitorStore()
	m := newTestManager(t, store)
	esc := NewEscalator(m, quietLogger())

	cfg := latencyConfig(AlertRule{
		ID:       "esc",
		Enabled:  true,
		Severity: types.SeverityHigh,
		Escalation: &EscalationPolicy{
			Enabled: true,
			Levels:  []EscalationLevel{{Level: 1, After: time.Minute}},
		},
	})
	alert := &Alert{
		ID:        "a1",
		ConfigID:  cfg.ID,
		RuleID:    "esc",
		Status:    AlertResolved,
		CreatedAt: time.Now().Add(-time.Hour),
	}

	assert.Empty(t, esc.Advance(context.Background(), cfg, []*Alert{alert}, time.Now()))
	assert.Zero(t, alert.EscalationLevel)
}

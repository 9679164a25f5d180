package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/rolloutkit/rollout/internal/regression"
	"github.com/rolloutkit/rollout/internal/types"
)

const defaultCollectTimeout = 30 * time.Second

// Store is the persistence slice the engine depends on.
type Store interface {
	AlertSink
	SaveMonitoringExecution(ctx context.Context, exec *MonitoringExecution) error
	ListOpenAlerts(ctx context.Context, configID string) ([]*Alert, error)
}

// Observer receives monitoring telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	TickRan(configID string, status ExecutionStatus, d time.Duration)
	AlertFired(configID string, severity types.Severity)
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Store      Store
	Collectors *CollectorRegistry
	Alerts     *AlertManager
	Logger     *log.Logger
	Observer   Observer

	// TrendWindow bounds the per-metric sample windows. Default: 24h.
	TrendWindow time.Duration
}

// Engine schedules monitoring configurations. Each started configuration
// runs on its own timer goroutine; Stop tears the timer down and returns
// only once no further tick can run.
type Engine struct {
	store      Store
	collectors *CollectorRegistry
	alerts     *AlertManager
	escalator  *Escalator
	logger     *log.Logger
	observer   Observer

	trendWindow time.Duration

	mu     sync.Mutex
	loops  map[string]*loop
	trends map[string]*TrendSet
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a monitoring engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	collectors := cfg.Collectors
	if collectors == nil {
		collectors = NewCollectorRegistry(nil)
	}
	alerts := cfg.Alerts
	if alerts == nil {
		var err error
		alerts, err = NewAlertManager(&AlertManagerConfig{Sink: cfg.Store, Logger: logger})
		if err != nil {
			return nil, err
		}
	}
	window := cfg.TrendWindow
	if window <= 0 {
		window = 24 * time.Hour
	}

	return &Engine{
		store:       cfg.Store,
		collectors:  collectors,
		alerts:      alerts,
		escalator:   NewEscalator(alerts, logger),
		logger:      logger,
		observer:    cfg.Observer,
		trendWindow: window,
		loops:       make(map[string]*loop),
		trends:      make(map[string]*TrendSet),
	}, nil
}

// Start arms the configuration's interval timer. Ticks run sequentially
// within a configuration; separate configurations tick independently.
func (e *Engine) Start(cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if _, running := e.loops[cfg.ID]; running {
		e.mu.Unlock()
		return fmt.Errorf("configuration %s is already running", cfg.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	e.loops[cfg.ID] = l
	e.mu.Unlock()

	e.logger.Info("monitoring started", "config", cfg.ID, "interval", cfg.Interval, "targets", len(cfg.Targets))

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := e.RunOnce(ctx, &cfg); err != nil && ctx.Err() == nil {
					e.logger.Error("monitoring tick failed", "config", cfg.ID, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop clears the configuration's timer. When it returns, no tick for this
// configuration is running or will run.
func (e *Engine) Stop(configID string) error {
	e.mu.Lock()
	l, ok := e.loops[configID]
	if ok {
		delete(e.loops, configID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("configuration %s is not running", configID)
	}

	l.cancel()
	<-l.done
	e.logger.Info("monitoring stopped", "config", configID)
	return nil
}

// StopAll stops every running configuration.
func (e *Engine) StopAll() {
	e.mu.Lock()
	loops := e.loops
	e.loops = make(map[string]*loop)
	e.mu.Unlock()

	for id, l := range loops {
		l.cancel()
		<-l.done
		e.logger.Info("monitoring stopped", "config", id)
	}
}

// Running returns the ids of started configurations, sorted.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.loops))
	for id := range e.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunOnce performs a single monitoring tick: collect every enabled target,
// evaluate thresholds and alert rules, feed trends, and advance due
// escalations. Collector faults mark their target and the tick moves on.
func (e *Engine) RunOnce(ctx context.Context, cfg *Configuration) (*MonitoringExecution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exec := &MonitoringExecution{
		ID:        uuid.NewString(),
		ConfigID:  cfg.ID,
		Status:    ExecutionRunning,
		StartedAt: time.Now(),
	}

	targets := make([]Target, 0, len(cfg.Targets))
	for _, tgt := range cfg.Targets {
		if tgt.Enabled {
			targets = append(targets, tgt)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })

	for _, tgt := range targets {
		if ctx.Err() != nil {
			break
		}
		result, raw := e.collectTarget(ctx, cfg, tgt)

		for _, alert := range e.alerts.Evaluate(ctx, cfg, result, raw) {
			if e.observer != nil {
				e.observer.AlertFired(cfg.ID, alert.Severity)
			}
		}

		exec.Targets = append(exec.Targets, *result)
	}

	if open, err := e.store.ListOpenAlerts(ctx, cfg.ID); err != nil {
		e.logger.Warn("failed to list open alerts for escalation", "config", cfg.ID, "err", err)
	} else {
		e.escalator.Advance(ctx, cfg, open, time.Now())
	}

	exec.FinishedAt = time.Now()
	if err := ctx.Err(); err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
	} else {
		exec.Status = ExecutionCompleted
	}

	if err := e.store.SaveMonitoringExecution(context.WithoutCancel(ctx), exec); err != nil {
		e.logger.Warn("failed to persist monitoring execution", "config", cfg.ID, "err", err)
	}
	if e.observer != nil {
		e.observer.TickRan(cfg.ID, exec.Status, exec.FinishedAt.Sub(exec.StartedAt))
	}

	e.logger.Debug("monitoring tick finished",
		"config", cfg.ID, "status", exec.Status, "targets", len(exec.Targets))
	return exec, nil
}

// collectTarget runs one target's collector and evaluates thresholds and
// trends over the snapshot. Faults become a monitoring_error issue.
func (e *Engine) collectTarget(ctx context.Context, cfg *Configuration, tgt Target) (*TargetResult, map[string]string) {
	started := time.Now()
	result := &TargetResult{
		TargetID:    tgt.ID,
		Type:        tgt.Type,
		Status:      TargetSuccess,
		CollectedAt: started,
	}

	collector, ok := e.collectors.Lookup(tgt.Type)
	if !ok {
		result.Status = TargetError
		result.Issues = append(result.Issues, Issue{
			Type:     IssueMonitoringError,
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("no collector registered for target type %s", tgt.Type),
		})
		result.Duration = time.Since(started)
		return result, nil
	}

	cctx, cancel := context.WithTimeout(ctx, defaultCollectTimeout)
	defer cancel()

	snapshot, err := collector.Collect(cctx, tgt)
	if err != nil {
		e.logger.Error("collector failed", "config", cfg.ID, "target", tgt.ID, "err", err)
		result.Status = TargetError
		result.Issues = append(result.Issues, Issue{
			Type:     IssueMonitoringError,
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("collector for %s failed: %v", tgt.ID, err),
		})
		result.Duration = time.Since(started)
		return result, nil
	}

	result.Metrics = snapshot.Metrics
	result.Issues = append(result.Issues, e.evaluateThresholds(cfg, snapshot.Metrics)...)
	result.Trends = e.observeTrends(cfg.ID, started, snapshot.Metrics)
	result.Status = statusFromIssues(result.Issues)
	result.Duration = time.Since(started)
	return result, snapshot.Raw
}

func (e *Engine) evaluateThresholds(cfg *Configuration, metrics map[string]float64) []Issue {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []Issue
	for _, name := range names {
		band, ok := cfg.Thresholds[name]
		if !ok {
			continue
		}
		severity, tripped := band.Evaluate(metrics[name])
		if !tripped {
			continue
		}
		bound := band.Warning
		if severity == types.SeverityCritical {
			bound = band.Critical
		}
		issues = append(issues, Issue{
			Type:      "threshold",
			Severity:  severity,
			Message:   fmt.Sprintf("%s is %g, beyond the %s bound %g", name, metrics[name], severity, bound),
			Metric:    name,
			Value:     metrics[name],
			Threshold: bound,
		})
	}
	return issues
}

func (e *Engine) observeTrends(configID string, ts time.Time, metrics map[string]float64) map[string]regression.TrendResult {
	set := e.trendSet(configID)
	trends := make(map[string]regression.TrendResult, len(metrics))
	for name, value := range metrics {
		trends[name] = set.Observe(name, ts, value)
	}
	return trends
}

// Trends returns the trend set for a configuration, if any ticks have run.
func (e *Engine) Trends(configID string) (*TrendSet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.trends[configID]
	return set, ok
}

func (e *Engine) trendSet(configID string) *TrendSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.trends[configID]
	if !ok {
		set = NewTrendSet(e.trendWindow)
		e.trends[configID] = set
	}
	return set
}

func statusFromIssues(issues []Issue) TargetStatus {
	worst := -1
	for _, issue := range issues {
		if r := issue.Severity.Rank(); r > worst {
			worst = r
		}
	}
	switch {
	case worst < 0:
		return TargetSuccess
	case worst >= types.SeverityCritical.Rank():
		return TargetCritical
	case worst >= types.SeverityHigh.Rank():
		return TargetError
	default:
		return TargetWarning
	}
}

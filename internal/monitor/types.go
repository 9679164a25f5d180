// Package monitor polls configured targets on a fixed cadence, evaluates
// threshold and alert rules against the collected metrics, and feeds every
// numeric metric into bounded trend windows. Each configuration runs on its
// own timer; configurations never share state beyond the injected store.
package monitor

import (
	"fmt"
	"time"

	"github.com/rolloutkit/rollout/internal/regression"
	"github.com/rolloutkit/rollout/internal/types"
)

// TargetType is the closed set of monitorable target variants.
type TargetType string

const (
	TargetTestSuite   TargetType = "test-suite"
	TargetPipeline    TargetType = "validation-pipeline"
	TargetPerformance TargetType = "performance"
	TargetSecurity    TargetType = "security"
	TargetResource    TargetType = "resource"
)

// IsValid checks if the target type value is valid.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetTestSuite, TargetPipeline, TargetPerformance, TargetSecurity, TargetResource:
		return true
	}
	return false
}

// Target is one thing a configuration watches. Params are passed through to
// the target's collector untouched.
type Target struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Type     TargetType        `json:"type" yaml:"type"`
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Priority int               `json:"priority" yaml:"priority"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// ThresholdBand pairs a warning and a critical bound for one metric. When
// Critical >= Warning the band trips on values rising past the bounds
// (latency, error rates); when Critical < Warning it trips on values falling
// below them (pass rates, scores).
type ThresholdBand struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Evaluate maps a metric value to a severity, or false if the value is
// inside the band.
func (b ThresholdBand) Evaluate(value float64) (types.Severity, bool) {
	if b.Critical >= b.Warning {
		switch {
		case value >= b.Critical:
			return types.SeverityCritical, true
		case value >= b.Warning:
			return types.SeverityMedium, true
		}
		return "", false
	}
	switch {
	case value <= b.Critical:
		return types.SeverityCritical, true
	case value <= b.Warning:
		return types.SeverityMedium, true
	}
	return "", false
}

// Operator compares a collected metric against an alert condition value.
type Operator string

const (
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpEQ       Operator = "eq"
	OpNE       Operator = "ne"
	OpGTE      Operator = "gte"
	OpLTE      Operator = "lte"
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

// IsValid checks if the operator value is valid.
func (o Operator) IsValid() bool {
	switch o {
	case OpGT, OpLT, OpEQ, OpNE, OpGTE, OpLTE, OpContains, OpMatches:
		return true
	}
	return false
}

// Condition is the trigger half of an alert rule. Numeric operators compare
// against Value; contains/matches inspect the collector's raw string payload
// for the metric using Pattern.
type Condition struct {
	Metric   string   `json:"metric" yaml:"metric"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    float64  `json:"value,omitempty" yaml:"value,omitempty"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// ActionType is the closed set of notification channel variants.
type ActionType string

const (
	ActionLog     ActionType = "log"
	ActionWebhook ActionType = "webhook"
	ActionSlack   ActionType = "slack"
	ActionEmail   ActionType = "email"
)

// IsValid checks if the action type value is valid.
func (a ActionType) IsValid() bool {
	switch a {
	case ActionLog, ActionWebhook, ActionSlack, ActionEmail:
		return true
	}
	return false
}

// ActionConfig names one notification action on a rule or escalation level.
type ActionConfig struct {
	Type   ActionType        `json:"type" yaml:"type"`
	Target string            `json:"target,omitempty" yaml:"target,omitempty"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// EscalationLevel adds recipients and actions after its delay elapses while
// the alert is still open.
type EscalationLevel struct {
	Level      int            `json:"level" yaml:"level"`
	After      time.Duration  `json:"after" yaml:"after"`
	Recipients []string       `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Actions    []ActionConfig `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// EscalationPolicy is the ordered ladder of escalation levels for a rule.
type EscalationPolicy struct {
	Enabled bool              `json:"enabled" yaml:"enabled"`
	Levels  []EscalationLevel `json:"levels,omitempty" yaml:"levels,omitempty"`
}

// AlertRule raises alerts when its condition holds against a target's
// metric snapshot. Cooldown suppresses repeat firing inside the window;
// MaxAlerts caps total fires for the rule (0 means unlimited).
type AlertRule struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Condition  Condition         `json:"condition" yaml:"condition"`
	Severity   types.Severity    `json:"severity" yaml:"severity"`
	Cooldown   time.Duration     `json:"cooldown" yaml:"cooldown"`
	MaxAlerts  int               `json:"max_alerts,omitempty" yaml:"max_alerts,omitempty"`
	Escalation *EscalationPolicy `json:"escalation,omitempty" yaml:"escalation,omitempty"`
	Actions    []ActionConfig    `json:"actions,omitempty" yaml:"actions,omitempty"`
	Tags       []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RetentionPolicy controls how long collected artifacts are kept, in days.
type RetentionPolicy struct {
	MetricsDays int `json:"metrics_days" yaml:"metrics_days"`
	LogsDays    int `json:"logs_days" yaml:"logs_days"`
	AlertsDays  int `json:"alerts_days" yaml:"alerts_days"`
	ReportsDays int `json:"reports_days" yaml:"reports_days"`
}

// Configuration is one independently scheduled monitoring unit.
type Configuration struct {
	ID         string                   `json:"id" yaml:"id"`
	Name       string                   `json:"name" yaml:"name"`
	Interval   time.Duration            `json:"interval" yaml:"interval"`
	Targets    []Target                 `json:"targets" yaml:"targets"`
	Thresholds map[string]ThresholdBand `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Alerts     []AlertRule              `json:"alerts,omitempty" yaml:"alerts,omitempty"`
	Retention  RetentionPolicy          `json:"retention" yaml:"retention"`
}

// Validate checks the configuration.
func (c *Configuration) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("configuration id is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("configuration %s: polling interval must be positive", c.ID)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("configuration %s: at least one target is required", c.ID)
	}
	for _, tgt := range c.Targets {
		if tgt.ID == "" {
			return fmt.Errorf("configuration %s: target id is required", c.ID)
		}
		if !tgt.Type.IsValid() {
			return fmt.Errorf("configuration %s: target %s: invalid type %s", c.ID, tgt.ID, tgt.Type)
		}
	}
	for _, rule := range c.Alerts {
		if rule.ID == "" {
			return fmt.Errorf("configuration %s: alert rule id is required", c.ID)
		}
		if !rule.Condition.Operator.IsValid() {
			return fmt.Errorf("configuration %s: rule %s: invalid operator %s", c.ID, rule.ID, rule.Condition.Operator)
		}
		if !rule.Severity.IsValid() {
			return fmt.Errorf("configuration %s: rule %s: invalid severity %s", c.ID, rule.ID, rule.Severity)
		}
		for _, a := range rule.Actions {
			if !a.Type.IsValid() {
				return fmt.Errorf("configuration %s: rule %s: invalid action type %s", c.ID, rule.ID, a.Type)
			}
		}
	}
	return nil
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// Alert is a stateful notification raised by a satisfied rule condition.
type Alert struct {
	ID              string         `json:"id"`
	ConfigID        string         `json:"config_id"`
	RuleID          string         `json:"rule_id"`
	TargetID        string         `json:"target_id"`
	Severity        types.Severity `json:"severity"`
	Message         string         `json:"message"`
	Tags            []string       `json:"tags,omitempty"`
	Status          AlertStatus    `json:"status"`
	EscalationLevel int            `json:"escalation_level"`
	CreatedAt       time.Time      `json:"created_at"`
	AcknowledgedAt  time.Time      `json:"acknowledged_at,omitzero"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty"`
	ResolvedAt      time.Time      `json:"resolved_at,omitzero"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	Resolution      string         `json:"resolution,omitempty"`
	SuppressedUntil time.Time      `json:"suppressed_until,omitzero"`
}

// Acknowledge moves an open alert to acknowledged, recording the actor.
func (a *Alert) Acknowledge(actor string) error {
	if a.Status != AlertOpen {
		return fmt.Errorf("alert %s is %s, only open alerts can be acknowledged", a.ID, a.Status)
	}
	a.Status = AlertAcknowledged
	a.AcknowledgedAt = time.Now()
	a.AcknowledgedBy = actor
	return nil
}

// Resolve closes an open or acknowledged alert, recording the actor and an
// optional resolution note.
func (a *Alert) Resolve(actor, note string) error {
	switch a.Status {
	case AlertOpen, AlertAcknowledged, AlertSuppressed:
	default:
		return fmt.Errorf("alert %s is already %s", a.ID, a.Status)
	}
	a.Status = AlertResolved
	a.ResolvedAt = time.Now()
	a.ResolvedBy = actor
	a.Resolution = note
	return nil
}

// Suppress mutes an alert until the given time. Suppression is not final:
// the alert can still be resolved, and Active treats it as dormant only
// while the deadline has not passed.
func (a *Alert) Suppress(until time.Time) error {
	if a.Status == AlertResolved {
		return fmt.Errorf("alert %s is already resolved", a.ID)
	}
	a.Status = AlertSuppressed
	a.SuppressedUntil = until
	return nil
}

// Active reports whether the alert still demands attention.
func (a *Alert) Active(now time.Time) bool {
	switch a.Status {
	case AlertOpen, AlertAcknowledged:
		return true
	case AlertSuppressed:
		return now.After(a.SuppressedUntil)
	}
	return false
}

// ExecutionStatus is the state of one monitoring tick.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// TargetStatus summarizes one target within a tick.
type TargetStatus string

const (
	TargetSuccess  TargetStatus = "success"
	TargetWarning  TargetStatus = "warning"
	TargetError    TargetStatus = "error"
	TargetCritical TargetStatus = "critical"
)

// IssueMonitoringError marks issues synthesized from collector faults
// rather than threshold violations.
const IssueMonitoringError = "monitoring_error"

// Issue is one finding against a monitored target.
type Issue struct {
	Type      string         `json:"type"`
	Severity  types.Severity `json:"severity"`
	Message   string         `json:"message"`
	Metric    string         `json:"metric,omitempty"`
	Value     float64        `json:"value,omitempty"`
	Threshold float64        `json:"threshold,omitempty"`
}

// TargetResult is one target's outcome within a tick.
type TargetResult struct {
	TargetID    string                            `json:"target_id"`
	Type        TargetType                        `json:"type"`
	Status      TargetStatus                      `json:"status"`
	Metrics     map[string]float64                `json:"metrics,omitempty"`
	Issues      []Issue                           `json:"issues,omitempty"`
	Trends      map[string]regression.TrendResult `json:"trends,omitempty"`
	CollectedAt time.Time                         `json:"collected_at"`
	Duration    time.Duration                     `json:"duration"`
}

// MonitoringExecution is one tick of a configuration's timer.
type MonitoringExecution struct {
	ID         string          `json:"id"`
	ConfigID   string          `json:"config_id"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
	Targets    []TargetResult  `json:"targets"`
	Error      string          `json:"error,omitempty"`
}

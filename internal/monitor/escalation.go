package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Escalator advances open alerts through their rule's escalation ladder.
// An alert climbs one level each time the next level's cumulative delay
// since creation has elapsed while the alert remains unresolved.
type Escalator struct {
	manager *AlertManager
	logger  *log.Logger
}

// NewEscalator creates an escalator that dispatches level actions through
// the alert manager.
func NewEscalator(manager *AlertManager, logger *log.Logger) *Escalator {
	if logger == nil {
		logger = log.Default()
	}
	return &Escalator{manager: manager, logger: logger}
}

// Advance walks the open alerts of a configuration and applies any due
// escalation levels. Modified alerts are persisted through the manager's
// sink. Returns the alerts that escalated.
func (e *Escalator) Advance(ctx context.Context, cfg *Configuration, alerts []*Alert, now time.Time) []*Alert {
	rules := make(map[string]AlertRule, len(cfg.Alerts))
	for _, rule := range cfg.Alerts {
		rules[rule.ID] = rule
	}

	var escalated []*Alert
	for _, alert := range alerts {
		if !alert.Active(now) {
			continue
		}
		rule, ok := rules[alert.RuleID]
		if !ok || rule.Escalation == nil || !rule.Escalation.Enabled {
			continue
		}

		due := dueLevels(rule.Escalation.Levels, alert, now)
		if len(due) == 0 {
			continue
		}
		for _, level := range due {
			alert.EscalationLevel = level.Level
			e.logger.Warn("alert escalated",
				"alert", alert.ID, "rule", rule.ID, "level", level.Level,
				"recipients", len(level.Recipients))
			e.manager.DispatchActions(alert, level.Actions)
		}

		if err := e.manager.sink.SaveAlert(ctx, alert); err != nil {
			e.logger.Error("failed to persist escalated alert", "alert", alert.ID, "err", err)
			continue
		}
		escalated = append(escalated, alert)
	}
	return escalated
}

// dueLevels returns the levels above the alert's current one whose
// cumulative delay has elapsed, in ladder order.
func dueLevels(levels []EscalationLevel, alert *Alert, now time.Time) []EscalationLevel {
	var due []EscalationLevel
	elapsed := now.Sub(alert.CreatedAt)

	var cumulative time.Duration
	for _, level := range levels {
		cumulative += level.After
		if level.Level <= alert.EscalationLevel {
			continue
		}
		if elapsed >= cumulative {
			due = append(due, level)
		}
	}
	return due
}

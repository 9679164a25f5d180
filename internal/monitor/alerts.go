package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Dispatcher delivers an alert over one notification channel. Delivery
// failures are logged by the manager and never propagate.
type Dispatcher interface {
	Type() ActionType
	Dispatch(ctx context.Context, alert *Alert, action ActionConfig) error
}

// AlertSink is the persistence slice the alert manager writes to.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert *Alert) error
}

// ruleState tracks firing history for cooldown and cap enforcement.
type ruleState struct {
	lastFired time.Time
	fired     int
}

// AlertManager evaluates alert rules against metric snapshots and owns the
// fire-suppress bookkeeping per rule.
type AlertManager struct {
	sink        AlertSink
	logger      *log.Logger
	limiter     *rate.Limiter
	dispatchers map[ActionType]Dispatcher

	mu    sync.Mutex
	rules map[string]*ruleState
}

// AlertManagerConfig holds alert manager configuration.
type AlertManagerConfig struct {
	Sink   AlertSink
	Logger *log.Logger

	// DispatchRate caps outbound notifications per second across all
	// rules. Default: 10/s with a burst of 20.
	DispatchRate  rate.Limit
	DispatchBurst int
}

// NewAlertManager creates an alert manager with the built-in log, webhook,
// and slack dispatchers registered.
func NewAlertManager(cfg *AlertManagerConfig) (*AlertManager, error) {
	if cfg == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("alert sink is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	dispatchRate := cfg.DispatchRate
	if dispatchRate <= 0 {
		dispatchRate = 10
	}
	burst := cfg.DispatchBurst
	if burst <= 0 {
		burst = 20
	}

	m := &AlertManager{
		sink:        cfg.Sink,
		logger:      logger,
		limiter:     rate.NewLimiter(dispatchRate, burst),
		dispatchers: make(map[ActionType]Dispatcher),
		rules:       make(map[string]*ruleState),
	}
	for _, d := range []Dispatcher{
		logDispatcher{logger: logger},
		webhookDispatcher{client: &http.Client{Timeout: 10 * time.Second}},
		slackDispatcher{client: &http.Client{Timeout: 10 * time.Second}},
	} {
		m.dispatchers[d.Type()] = d
	}
	return m, nil
}

// RegisterDispatcher adds or replaces the dispatcher for an action type.
func (m *AlertManager) RegisterDispatcher(d Dispatcher) error {
	if !d.Type().IsValid() {
		return fmt.Errorf("cannot register dispatcher for unknown action type %q", d.Type())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchers[d.Type()] = d
	return nil
}

// Evaluate checks every enabled rule of the configuration against one
// target's snapshot, firing alerts for satisfied conditions that are not
// suppressed by cooldown or the max-alerts cap. Returns the alerts fired.
func (m *AlertManager) Evaluate(ctx context.Context, cfg *Configuration, result *TargetResult, raw map[string]string) []*Alert {
	now := time.Now()
	var fired []*Alert

	for _, rule := range cfg.Alerts {
		if !rule.Enabled {
			continue
		}
		matched, observed := matchCondition(rule.Condition, result.Metrics, raw)
		if !matched {
			continue
		}
		if !m.admit(cfg.ID, rule, now) {
			m.logger.Debug("alert suppressed",
				"config", cfg.ID, "rule", rule.ID, "target", result.TargetID)
			continue
		}

		alert := &Alert{
			ID:        uuid.NewString(),
			ConfigID:  cfg.ID,
			RuleID:    rule.ID,
			TargetID:  result.TargetID,
			Severity:  rule.Severity,
			Message:   conditionMessage(rule, observed),
			Tags:      rule.Tags,
			Status:    AlertOpen,
			CreatedAt: now,
		}

		if err := m.sink.SaveAlert(ctx, alert); err != nil {
			m.logger.Error("failed to persist alert", "rule", rule.ID, "err", err)
		}
		m.logger.Warn("alert fired",
			"config", cfg.ID, "rule", rule.ID, "severity", rule.Severity, "message", alert.Message)

		m.DispatchActions(alert, rule.Actions)
		fired = append(fired, alert)
	}

	return fired
}

// DispatchActions delivers notifications for an alert in the background.
// Fire and forget: a failing channel is logged and the alert stays open.
// Goroutines read a snapshot of the alert taken at call time, so later
// writes to it (status changes, escalation) never race the encoders.
func (m *AlertManager) DispatchActions(alert *Alert, actions []ActionConfig) {
	snapshot := *alert
	for _, action := range actions {
		go func(action ActionConfig) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if err := m.limiter.Wait(ctx); err != nil {
				m.logger.Warn("notification rate limit wait aborted",
					"alert", snapshot.ID, "action", action.Type, "err", err)
				return
			}

			m.mu.Lock()
			d, ok := m.dispatchers[action.Type]
			m.mu.Unlock()
			if !ok {
				m.logger.Warn("no dispatcher for action type", "alert", snapshot.ID, "action", action.Type)
				return
			}

			if err := d.Dispatch(ctx, &snapshot, action); err != nil {
				m.logger.Warn("alert action failed",
					"alert", snapshot.ID, "action", action.Type, "target", action.Target, "err", err)
			}
		}(action)
	}
}

// admit applies cooldown and the max-alerts cap, updating the rule's state
// when the alert is allowed through.
func (m *AlertManager) admit(configID string, rule AlertRule, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := configID + "/" + rule.ID
	state, ok := m.rules[key]
	if !ok {
		state = &ruleState{}
		m.rules[key] = state
	}

	if rule.MaxAlerts > 0 && state.fired >= rule.MaxAlerts {
		return false
	}
	if rule.Cooldown > 0 && !state.lastFired.IsZero() && now.Sub(state.lastFired) < rule.Cooldown {
		return false
	}

	state.lastFired = now
	state.fired++
	return true
}

// matchCondition evaluates an alert condition against a metric snapshot.
// Returns the observed value formatted for the alert message.
func matchCondition(cond Condition, metrics map[string]float64, raw map[string]string) (bool, string) {
	switch cond.Operator {
	case OpContains, OpMatches:
		payload, ok := raw[cond.Metric]
		if !ok {
			if v, numOk := metrics[cond.Metric]; numOk {
				payload = fmt.Sprintf("%g", v)
			} else {
				return false, ""
			}
		}
		if cond.Operator == OpContains {
			return strings.Contains(payload, cond.Pattern), payload
		}
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return false, ""
		}
		return re.MatchString(payload), payload
	}

	value, ok := metrics[cond.Metric]
	if !ok {
		return false, ""
	}
	observed := fmt.Sprintf("%g", value)
	switch cond.Operator {
	case OpGT:
		return value > cond.Value, observed
	case OpLT:
		return value < cond.Value, observed
	case OpGTE:
		return value >= cond.Value, observed
	case OpLTE:
		return value <= cond.Value, observed
	case OpEQ:
		return value == cond.Value, observed
	case OpNE:
		return value != cond.Value, observed
	}
	return false, ""
}

func conditionMessage(rule AlertRule, observed string) string {
	cond := rule.Condition
	switch cond.Operator {
	case OpContains, OpMatches:
		return fmt.Sprintf("%s: %s %s %q (observed %q)",
			rule.Name, cond.Metric, cond.Operator, cond.Pattern, observed)
	}
	return fmt.Sprintf("%s: %s %s %g (observed %s)",
		rule.Name, cond.Metric, cond.Operator, cond.Value, observed)
}

type logDispatcher struct {
	logger *log.Logger
}

func (logDispatcher) Type() ActionType { return ActionLog }

func (d logDispatcher) Dispatch(_ context.Context, alert *Alert, _ ActionConfig) error {
	d.logger.Warn("ALERT",
		"severity", alert.Severity, "config", alert.ConfigID, "rule", alert.RuleID,
		"message", alert.Message)
	return nil
}

// webhookDispatcher POSTs the alert as JSON to the action's target URL.
type webhookDispatcher struct {
	client *http.Client
}

func (webhookDispatcher) Type() ActionType { return ActionWebhook }

func (d webhookDispatcher) Dispatch(ctx context.Context, alert *Alert, action ActionConfig) error {
	if action.Target == "" {
		return fmt.Errorf("webhook action has no target URL")
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	return postJSON(ctx, d.client, action.Target, body)
}

// slackDispatcher posts a text payload to a Slack incoming-webhook URL.
type slackDispatcher struct {
	client *http.Client
}

func (slackDispatcher) Type() ActionType { return ActionSlack }

func (d slackDispatcher) Dispatch(ctx context.Context, alert *Alert, action ActionConfig) error {
	if action.Target == "" {
		return fmt.Errorf("slack action has no webhook URL")
	}
	payload := map[string]string{
		"text": fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Message),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}
	return postJSON(ctx, d.client, action.Target, body)
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

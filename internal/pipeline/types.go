// Package pipeline executes named, ordered sets of validators against
// features. The runner is agnostic to what a validator actually checks: it
// schedules checks, isolates their failures, applies the retry policy, and
// aggregates their results into an execution record.
package pipeline

import (
	"fmt"
	"time"

	"github.com/rolloutkit/rollout/internal/types"
)

// ValidatorType is the closed set of validator variants. Dispatch happens
// through a registry keyed by this type, not by runtime string switching.
type ValidatorType string

const (
	ValidatorCompatibility ValidatorType = "compatibility"
	ValidatorPerformance   ValidatorType = "performance"
	ValidatorSecurity      ValidatorType = "security"
	ValidatorFunctionality ValidatorType = "functionality"
	ValidatorRegression    ValidatorType = "regression"
	ValidatorWhiteLabel    ValidatorType = "whitelabel"
)

// IsValid checks if the validator type value is valid.
func (v ValidatorType) IsValid() bool {
	switch v {
	case ValidatorCompatibility, ValidatorPerformance, ValidatorSecurity,
		ValidatorFunctionality, ValidatorRegression, ValidatorWhiteLabel:
		return true
	}
	return false
}

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// IsValid checks if the backoff strategy value is valid.
func (b BackoffStrategy) IsValid() bool {
	switch b {
	case BackoffExponential, BackoffLinear, BackoffFixed:
		return true
	}
	return false
}

// RetryPolicy governs validator retries within a pipeline.
type RetryPolicy struct {
	MaxRetries          int             `json:"max_retries" yaml:"max_retries"`
	Backoff             BackoffStrategy `json:"backoff" yaml:"backoff"`
	BaseDelay           time.Duration   `json:"base_delay" yaml:"base_delay"`
	MaxDelay            time.Duration   `json:"max_delay" yaml:"max_delay"`
	RetryableCategories []ErrorCategory `json:"retryable_categories" yaml:"retryable_categories"`
}

// DefaultRetryPolicy returns the standard retry configuration: up to three
// retries with exponential backoff on timeouts and transient faults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		Backoff:             BackoffExponential,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		RetryableCategories: []ErrorCategory{CategoryTimeout, CategoryTransient},
	}
}

// Delay computes the backoff before retry attempt n (0-based), capped at
// MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt+1)
	case BackoffFixed:
		d = p.BaseDelay
	default:
		d = p.BaseDelay << uint(attempt)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether faults of the given category may be retried
// under this policy.
func (p RetryPolicy) Retryable(c ErrorCategory) bool {
	for _, rc := range p.RetryableCategories {
		if rc == c {
			return true
		}
	}
	return false
}

// ValidatorConfig declares one validator within a pipeline. DependsOn is
// informational: the runner orders validators by the pipeline's execution
// order and priority only.
type ValidatorConfig struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Type      ValidatorType `json:"type" yaml:"type"`
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Priority  int           `json:"priority" yaml:"priority"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	Retries   int           `json:"retries" yaml:"retries"`
	DependsOn []string      `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Pipeline is a named validator configuration.
type Pipeline struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Validators     []ValidatorConfig `json:"validators" yaml:"validators"`
	ExecutionOrder []string          `json:"execution_order,omitempty" yaml:"execution_order,omitempty"`
	Parallel       bool              `json:"parallel" yaml:"parallel"`
	FailFast       bool              `json:"fail_fast" yaml:"fail_fast"`
	Retry          RetryPolicy       `json:"retry" yaml:"retry"`
}

// Validate checks the pipeline configuration.
func (p *Pipeline) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	if len(p.Validators) == 0 {
		return fmt.Errorf("pipeline %s: at least one validator is required", p.ID)
	}
	seen := make(map[string]bool, len(p.Validators))
	for _, v := range p.Validators {
		if v.ID == "" {
			return fmt.Errorf("pipeline %s: validator id is required", p.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("pipeline %s: duplicate validator id %s", p.ID, v.ID)
		}
		seen[v.ID] = true
		if !v.Type.IsValid() {
			return fmt.Errorf("pipeline %s: validator %s: invalid type %s", p.ID, v.ID, v.Type)
		}
	}
	if p.Retry.Backoff != "" && !p.Retry.Backoff.IsValid() {
		return fmt.Errorf("pipeline %s: invalid backoff strategy %s", p.ID, p.Retry.Backoff)
	}
	return nil
}

// ExecutionStatus is the lifecycle state of one pipeline execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// ResultStatus is the outcome of one validator within an execution.
type ResultStatus string

const (
	ResultPassed  ResultStatus = "passed"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
)

// Issue is a finding reported by a validator check.
type Issue struct {
	ValidatorID string         `json:"validator_id"`
	Severity    types.Severity `json:"severity"`
	Message     string         `json:"message"`
}

// ValidatorResult records one validator's outcome, keyed by validator id
// rather than positional index so parallel completions stay attributable.
type ValidatorResult struct {
	ValidatorID     string        `json:"validator_id"`
	Type            ValidatorType `json:"type"`
	Status          ResultStatus  `json:"status"`
	Score           float64       `json:"score"`
	Issues          []Issue       `json:"issues,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
	Attempts        int           `json:"attempts"`
}

// LogEntry is one line of an execution's append-only narrative.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Execution is one run of a pipeline against one feature.
type Execution struct {
	ID              string            `json:"id"`
	PipelineID      string            `json:"pipeline_id"`
	FeatureID       string            `json:"feature_id"`
	Status          ExecutionStatus   `json:"status"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at,omitzero"`
	Results         []ValidatorResult `json:"results"`
	OverallScore    float64           `json:"overall_score"`
	Passed          bool              `json:"passed"`
	Issues          []Issue           `json:"issues,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Log             []LogEntry        `json:"log,omitempty"`
}

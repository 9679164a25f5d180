package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rolloutkit/rollout/internal/regression"
	"github.com/rolloutkit/rollout/internal/types"
)

// Request carries everything a check may inspect: the feature under
// validation plus optional metric snapshots for regression-style checks and
// free-form parameters.
type Request struct {
	Feature  types.Feature
	Baseline map[string]float64
	Current  map[string]float64
	Params   map[string]string
}

// CheckResult is the opaque outcome a check hands back to the runner. The
// runner never interprets how the score was produced.
type CheckResult struct {
	Passed          bool
	Score           float64
	Issues          []Issue
	Recommendations []string
}

// Check is one pluggable validation routine. Implementations must be safe
// for concurrent use: parallel pipelines run checks from multiple
// goroutines.
type Check interface {
	Type() ValidatorType
	Run(ctx context.Context, req Request) (*CheckResult, error)
}

// Registry resolves validator types to their check implementations.
type Registry struct {
	mu     sync.RWMutex
	checks map[ValidatorType]Check
}

// NewRegistry creates a registry pre-populated with the built-in checks for
// every validator type.
func NewRegistry() *Registry {
	r := &Registry{checks: make(map[ValidatorType]Check)}
	for _, c := range []Check{
		compatibilityCheck{},
		performanceCheck{},
		securityCheck{},
		functionalityCheck{},
		regressionCheck{},
		whiteLabelCheck{},
	} {
		r.checks[c.Type()] = c
	}
	return r
}

// Register adds or replaces the check for a validator type. Replacing a
// built-in is allowed so embedders can supply real collectors.
func (r *Registry) Register(c Check) error {
	if !c.Type().IsValid() {
		return fmt.Errorf("cannot register check for unknown validator type %q", c.Type())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[c.Type()] = c
	return nil
}

// Lookup returns the check for a validator type.
func (r *Registry) Lookup(t ValidatorType) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[t]
	return c, ok
}

// The built-in checks below score features from their declared attributes.
// They give the engine useful default behavior; production embedders
// typically replace them with checks backed by real test and scan tooling.

type compatibilityCheck struct{}

func (compatibilityCheck) Type() ValidatorType { return ValidatorCompatibility }

func (compatibilityCheck) Run(ctx context.Context, req Request) (*CheckResult, error) {
	res := &CheckResult{Score: 100}

	deps := len(req.Feature.Dependencies)
	res.Score -= float64(5 * deps)
	if res.Score < 20 {
		res.Score = 20
	}

	if deps > 8 {
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("feature touches %d other features; integration surface is very wide", deps),
		})
		res.Recommendations = append(res.Recommendations,
			"Split the integration into smaller, independently verifiable features")
	} else if deps > 4 {
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityMedium,
			Message:  fmt.Sprintf("feature depends on %d other features", deps),
		})
	}

	res.Passed = res.Score >= 60
	return res, ctx.Err()
}

type performanceCheck struct{}

func (performanceCheck) Type() ValidatorType { return ValidatorPerformance }

func (performanceCheck) Run(ctx context.Context, req Request) (*CheckResult, error) {
	res := &CheckResult{Score: 95}

	switch req.Feature.Effort {
	case types.EffortLarge:
		res.Score = 70
	case types.EffortEpic:
		res.Score = 50
	}
	if req.Feature.EstimatedHours > 80 && req.Feature.Risk == types.RiskCritical {
		res.Score -= 20
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityHigh,
			Message:  "large high-risk change is likely to shift performance baselines",
		})
		res.Recommendations = append(res.Recommendations,
			"Capture a performance baseline before integrating and re-measure after")
	}

	res.Passed = res.Score >= 60
	return res, ctx.Err()
}

type securityCheck struct{}

func (securityCheck) Type() ValidatorType { return ValidatorSecurity }

func (securityCheck) Run(ctx context.Context, req Request) (*CheckResult, error) {
	res := &CheckResult{}

	switch req.Feature.Risk {
	case types.RiskLow:
		res.Score = 95
	case types.RiskMedium:
		res.Score = 80
	case types.RiskHigh:
		res.Score = 55
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityHigh,
			Message:  "high-risk feature requires a security review before integration",
		})
	case types.RiskCritical:
		res.Score = 25
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityCritical,
			Message:  "critical-risk feature must not ship without a dedicated security audit",
		})
		res.Recommendations = append(res.Recommendations,
			"Schedule a security audit and threat-model the touched surfaces")
	}

	res.Passed = res.Score >= 60
	return res, ctx.Err()
}

type functionalityCheck struct{}

func (functionalityCheck) Type() ValidatorType { return ValidatorFunctionality }

func (functionalityCheck) Run(ctx context.Context, req Request) (*CheckResult, error) {
	res := &CheckResult{
		Score: (req.Feature.BusinessValue + req.Feature.TechnicalValue) / 2,
	}

	if req.Feature.BusinessValue < 20 {
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityMedium,
			Message:  "business value is marginal; confirm the feature is still wanted",
		})
	}

	res.Passed = res.Score >= 50
	return res, ctx.Err()
}

// regressionCheck compares the request's baseline and current metric
// snapshots. With no snapshots it passes vacuously.
type regressionCheck struct{}

func (regressionCheck) Type() ValidatorType { return ValidatorRegression }

func (regressionCheck) Run(ctx context.Context, req Request) (*CheckResult, error) {
	res := &CheckResult{Score: 100, Passed: true}
	if len(req.Baseline) == 0 || len(req.Current) == 0 {
		return res, ctx.Err()
	}

	for _, reg := range regression.Detect(req.Baseline, req.Current) {
		res.Issues = append(res.Issues, Issue{
			Severity: reg.Severity,
			Message:  reg.Description,
		})
		switch reg.Severity {
		case types.SeverityCritical:
			res.Score -= 25
		case types.SeverityHigh:
			res.Score -= 15
		default:
			res.Score -= 5
		}
	}
	if res.Score < 0 {
		res.Score = 0
	}
	if len(res.Issues) > 0 {
		res.Recommendations = append(res.Recommendations,
			"Investigate the regressed metrics before promoting this feature")
	}

	res.Passed = res.Score >= 60
	return res, ctx.Err()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// whiteLabelCheck verifies the feature stays brand-neutral: white-label
// deployments must not pick up tenant-specific wording.
type whiteLabelCheck struct{}

func (whiteLabelCheck) Type() ValidatorType { return ValidatorWhiteLabel }

func (whiteLabelCheck) Run(ctx context.Context, req Request) (*CheckResult, error) {
	res := &CheckResult{Score: 100, Passed: true}

	brand, ok := req.Params["brand_token"]
	if !ok || brand == "" {
		return res, ctx.Err()
	}

	if containsFold(req.Feature.Title, brand) {
		res.Score = 40
		res.Passed = false
		res.Issues = append(res.Issues, Issue{
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("feature title embeds the brand token %q; white-label builds would leak it", brand),
		})
		res.Recommendations = append(res.Recommendations,
			"Move brand-specific wording into the branding configuration store")
	}

	return res, ctx.Err()
}

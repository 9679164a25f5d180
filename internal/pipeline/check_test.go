package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rollout/internal/types"
)

func TestRegistryHasAllBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []ValidatorType{
		ValidatorCompatibility, ValidatorPerformance, ValidatorSecurity,
		ValidatorFunctionality, ValidatorRegression, ValidatorWhiteLabel,
	} {
		c, ok := r.Lookup(typ)
		require.True(t, ok, "missing built-in check for %s", typ)
		assert.Equal(t, typ, c.Type())
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := NewRegistry()
	err := r.Register(stubCheck{typ: "chaos"})
	assert.Error(t, err)
}

func TestRegistryReplaceBuiltin(t *testing.T) {
	r := NewRegistry()
	custom := stubCheck{typ: ValidatorSecurity, run: func(context.Context, Request) (*CheckResult, error) {
		return &CheckResult{Passed: true, Score: 1}, nil
	}}
	require.NoError(t, r.Register(custom))

	c, ok := r.Lookup(ValidatorSecurity)
	require.True(t, ok)
	res, err := c.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
}

func TestCompatibilityCheckScoresByDependencyCount(t *testing.T) {
	run := func(deps int) *CheckResult {
		f := testFeature()
		f.Dependencies = make([]string, deps)
		for i := range f.Dependencies {
			f.Dependencies[i] = "dep"
		}
		res, err := compatibilityCheck{}.Run(context.Background(), Request{Feature: f})
		require.NoError(t, err)
		return res
	}

	res := run(0)
	assert.Equal(t, 100.0, res.Score)
	assert.True(t, res.Passed)
	assert.Empty(t, res.Issues)

	res = run(5)
	assert.Equal(t, 75.0, res.Score)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.SeverityMedium, res.Issues[0].Severity)

	res = run(9)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.SeverityHigh, res.Issues[0].Severity)
	assert.NotEmpty(t, res.Recommendations)

	// Score never drops below the floor.
	res = run(30)
	assert.Equal(t, 20.0, res.Score)
	assert.False(t, res.Passed)
}

func TestPerformanceCheckPenalizesLargeRiskyWork(t *testing.T) {
	f := testFeature()
	f.Effort = types.EffortEpic
	f.EstimatedHours = 120
	f.Risk = types.RiskCritical

	res, err := performanceCheck{}.Run(context.Background(), Request{Feature: f})
	require.NoError(t, err)

	assert.Equal(t, 30.0, res.Score)
	assert.False(t, res.Passed)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.SeverityHigh, res.Issues[0].Severity)
}

func TestSecurityCheckScoresByRisk(t *testing.T) {
	tests := []struct {
		risk   types.RiskLevel
		score  float64
		passed bool
	}{
		{types.RiskLow, 95, true},
		{types.RiskMedium, 80, true},
		{types.RiskHigh, 55, false},
		{types.RiskCritical, 25, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			f := testFeature()
			f.Risk = tt.risk
			res, err := securityCheck{}.Run(context.Background(), Request{Feature: f})
			require.NoError(t, err)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, tt.passed, res.Passed)
		})
	}
}

func TestSecurityCheckCriticalRiskReportsCriticalIssue(t *testing.T) {
	f := testFeature()
	f.Risk = types.RiskCritical

	res, err := securityCheck{}.Run(context.Background(), Request{Feature: f})
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.SeverityCritical, res.Issues[0].Severity)
}

func TestFunctionalityCheckAveragesValue(t *testing.T) {
	f := testFeature()
	f.BusinessValue = 90
	f.TechnicalValue = 70

	res, err := functionalityCheck{}.Run(context.Background(), Request{Feature: f})
	require.NoError(t, err)
	assert.Equal(t, 80.0, res.Score)
	assert.True(t, res.Passed)

	f.BusinessValue = 10
	f.TechnicalValue = 10
	res, err = functionalityCheck{}.Run(context.Background(), Request{Feature: f})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Issues, 1)
}

func TestRegressionCheckPassesWithoutSnapshots(t *testing.T) {
	res, err := regressionCheck{}.Run(context.Background(), Request{Feature: testFeature()})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 100.0, res.Score)
}

func TestRegressionCheckFlagsRegressedMetrics(t *testing.T) {
	req := Request{
		Feature:  testFeature(),
		Baseline: map[string]float64{"latency_ms": 100, "error_rate": 1},
		Current:  map[string]float64{"latency_ms": 130, "error_rate": 1},
	}

	res, err := regressionCheck{}.Run(context.Background(), req)
	require.NoError(t, err)

	// 30% latency increase is a critical regression: 100 - 25.
	assert.Equal(t, 75.0, res.Score)
	assert.True(t, res.Passed)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.SeverityCritical, res.Issues[0].Severity)
	assert.NotEmpty(t, res.Recommendations)
}

func TestWhiteLabelCheckFlagsBrandLeak(t *testing.T) {
	f := testFeature()
	f.Title = "Acme checkout redesign"

	res, err := whiteLabelCheck{}.Run(context.Background(), Request{
		Feature: f,
		Params:  map[string]string{"brand_token": "acme"},
	})
	require.NoError(t, err)

	assert.False(t, res.Passed)
	assert.Equal(t, 40.0, res.Score)
	require.Len(t, res.Issues, 1)
	assert.True(t, strings.Contains(res.Issues[0].Message, "acme"))
}

func TestWhiteLabelCheckPassesWithoutToken(t *testing.T) {
	res, err := whiteLabelCheck{}.Run(context.Background(), Request{Feature: testFeature()})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 100.0, res.Score)
}

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolloutkit/rollout/internal/scoring"
	"github.com/rolloutkit/rollout/internal/types"
)

func feat(id string, deps ...string) types.Feature {
	return types.Feature{
		ID:             id,
		Title:          "Feature " + id,
		Effort:         types.EffortMedium,
		Risk:           types.RiskMedium,
		BusinessValue:  50,
		TechnicalValue: 50,
		Dependencies:   deps,
		EstimatedHours: 16,
	}
}

func buildPlan(t *testing.T, features ...types.Feature) *Plan {
	t.Helper()
	plan, err := New(scoring.DefaultWeights()).BuildPlan(features)
	require.NoError(t, err)
	return plan
}

func sequenceOf(t *testing.T, plan *Plan, id string) int {
	t.Helper()
	for _, f := range plan.Features {
		if f.ID == id {
			return f.Sequence
		}
	}
	t.Fatalf("feature %s not in plan", id)
	return 0
}

func TestTopologicalValidity(t *testing.T) {
	plan := buildPlan(t,
		feat("a", "b"),
		feat("b", "c"),
		feat("c"),
		feat("d", "c"),
	)

	assert.Greater(t, sequenceOf(t, plan, "a"), sequenceOf(t, plan, "b"))
	assert.Greater(t, sequenceOf(t, plan, "b"), sequenceOf(t, plan, "c"))
	assert.Greater(t, sequenceOf(t, plan, "d"), sequenceOf(t, plan, "c"))
}

func TestPhaseCompleteness(t *testing.T) {
	features := []types.Feature{
		feat("a", "b"), feat("b"), feat("c"), feat("d", "a", "c"), feat("e"),
	}
	plan := buildPlan(t, features...)

	seen := make(map[string]int)
	for _, phase := range plan.Phases {
		for _, id := range phase.FeatureIDs {
			seen[id]++
		}
	}
	require.Len(t, seen, len(features))
	for _, f := range features {
		assert.Equal(t, 1, seen[f.ID], "feature %s must appear in exactly one phase", f.ID)
	}
}

func TestPhaseOrderingRespectsDependencies(t *testing.T) {
	plan := buildPlan(t, feat("a", "b"), feat("b"), feat("c", "a"))

	require.Len(t, plan.Phases, 3)
	assert.Equal(t, []string{"b"}, plan.Phases[0].FeatureIDs)
	assert.Equal(t, []string{"a"}, plan.Phases[1].FeatureIDs)
	assert.Equal(t, []string{"c"}, plan.Phases[2].FeatureIDs)
	assert.Equal(t, []int{1}, plan.Phases[1].DependsOnPhases)
	assert.Equal(t, []int{2}, plan.Phases[2].DependsOnPhases)
}

func TestUnknownPrerequisitesIgnored(t *testing.T) {
	plan := buildPlan(t, feat("a", "ghost"), feat("b"))

	require.Len(t, plan.Phases, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Phases[0].FeatureIDs)
	for _, f := range plan.Features {
		assert.Empty(t, f.BlockedBy)
	}
}

func TestCycleHandling(t *testing.T) {
	// A two-cycle must still produce phases covering both features without
	// an error: force-admission breaks the deadlock.
	plan := buildPlan(t, feat("a", "b"), feat("b", "a"))

	var covered []string
	for _, phase := range plan.Phases {
		covered = append(covered, phase.FeatureIDs...)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, covered)
	assert.LessOrEqual(t, len(plan.Phases), 2)

	// Both features still receive sequence numbers.
	assert.NotZero(t, sequenceOf(t, plan, "a"))
	assert.NotZero(t, sequenceOf(t, plan, "b"))
}

func TestPhaseRiskAggregation(t *testing.T) {
	low := feat("low")
	low.Risk = types.RiskLow
	critical := feat("crit")
	critical.Risk = types.RiskCritical

	// Scales 1 and 4 average to 2.5, which rounds up to high.
	plan := buildPlan(t, low, critical)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, types.RiskHigh, plan.Phases[0].Risk)
}

func TestPhaseDurationIsMaxOfMembers(t *testing.T) {
	quick := feat("quick")
	quick.EstimatedHours = 4
	slow := feat("slow")
	slow.EstimatedHours = 40

	plan := buildPlan(t, quick, slow)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, 40.0, plan.Phases[0].EstimatedHours)
}

func TestCriticalPath(t *testing.T) {
	// b -> a -> c is the longest chain; d is a short independent branch.
	plan := buildPlan(t, feat("a", "b"), feat("b"), feat("c", "a"), feat("d", "b"))

	assert.Equal(t, []string{"b", "a", "c"}, plan.CriticalPath)
}

func TestCriticalPathWithCycleDoesNotLoop(t *testing.T) {
	plan := buildPlan(t, feat("root"), feat("a", "root", "b"), feat("b", "a"))
	assert.NotEmpty(t, plan.CriticalPath)
	assert.Equal(t, "root", plan.CriticalPath[0])
}

func TestHigherPriorityRootsSequencedFirst(t *testing.T) {
	big := feat("big")
	big.BusinessValue = 95
	big.TechnicalValue = 95
	small := feat("small")
	small.BusinessValue = 5
	small.TechnicalValue = 5

	plan := buildPlan(t, small, big)
	assert.Less(t, sequenceOf(t, plan, "big"), sequenceOf(t, plan, "small"))
}

func TestEmptyPlan(t *testing.T) {
	plan := buildPlan(t)
	assert.Empty(t, plan.Features)
	assert.Empty(t, plan.Phases)
	assert.Empty(t, plan.CriticalPath)
}

func TestBuildPlanRejectsInvalidFeature(t *testing.T) {
	bad := feat("bad")
	bad.Title = ""
	_, err := New(scoring.DefaultWeights()).BuildPlan([]types.Feature{bad})
	assert.Error(t, err)
}

func TestBlockedByAndBlocksBackReferences(t *testing.T) {
	plan := buildPlan(t, feat("a", "b"), feat("b"))

	for _, f := range plan.Features {
		switch f.ID {
		case "a":
			assert.Equal(t, []string{"b"}, f.BlockedBy)
			assert.Empty(t, f.Blocks)
		case "b":
			assert.Empty(t, f.BlockedBy)
			assert.Equal(t, []string{"a"}, f.Blocks)
		}
	}
}

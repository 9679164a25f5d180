// Package scoring computes normalized multi-criteria priority scores for
// features. Scoring is a pure computation: identical inputs always produce
// identical scores.
package scoring

import (
	"fmt"
	"sort"

	"github.com/rolloutkit/rollout/internal/types"
)

// Weights holds the per-criterion weighting applied to normalized sub-scores.
//
// Note the sign convention: complexity, risk, dependency and effort
// sub-scores are already inverted during normalization (lower effort or risk
// yields a higher sub-score), and the default weights for those criteria are
// negative on top of that. The combined arithmetic is preserved exactly for
// compatibility with historical scores; see TestDefaultWeightsDoubleInvert.
type Weights struct {
	BusinessValue   float64 `json:"business_value" yaml:"business_value"`
	TechnicalValue  float64 `json:"technical_value" yaml:"technical_value"`
	Complexity      float64 `json:"complexity" yaml:"complexity"`
	Risk            float64 `json:"risk" yaml:"risk"`
	DependencyCount float64 `json:"dependency_count" yaml:"dependency_count"`
	Effort          float64 `json:"effort" yaml:"effort"`
}

// DefaultWeights returns the standard criteria weighting.
func DefaultWeights() Weights {
	return Weights{
		BusinessValue:   0.30,
		TechnicalValue:  0.25,
		Complexity:      -0.20,
		Risk:            -0.15,
		DependencyCount: -0.05,
		Effort:          -0.05,
	}
}

// Score computes the priority score for a single feature under the given
// weights. Each criterion is normalized to 0-100 independently before the
// weighted total is taken.
func Score(f types.Feature, w Weights) types.PriorityScore {
	s := types.PriorityScore{
		BusinessValue:   clamp(f.BusinessValue),
		TechnicalValue:  clamp(f.TechnicalValue),
		Complexity:      effortClassScore(f.Effort),
		Risk:            riskScore(f.Risk),
		DependencyCount: dependencyScore(len(f.Dependencies)),
		Effort:          hoursScore(f.EstimatedHours),
	}

	total := w.BusinessValue*s.BusinessValue +
		w.TechnicalValue*s.TechnicalValue +
		w.Complexity*s.Complexity +
		w.Risk*s.Risk +
		w.DependencyCount*s.DependencyCount +
		w.Effort*s.Effort

	s.Total = clamp(total)
	return s
}

// Rank validates, scores, and ranks a feature set. Ranks are 1-based by
// descending total score; ties keep the original input order (stable sort).
// Any invalid feature fails the whole call before scoring begins.
func Rank(features []types.Feature, w Weights) ([]types.PrioritizedFeature, error) {
	for i := range features {
		if err := features[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid feature set: %w", err)
		}
	}

	ranked := make([]types.PrioritizedFeature, len(features))
	for i, f := range features {
		ranked[i] = types.PrioritizedFeature{
			Feature: f,
			Score:   Score(f, w),
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score.Total > ranked[j].Score.Total
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	return ranked, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// effortClassScore maps the effort class to an inverted 0-100 scale:
// smaller work scores higher.
func effortClassScore(e types.EffortClass) float64 {
	switch e {
	case types.EffortSmall:
		return 90
	case types.EffortMedium:
		return 70
	case types.EffortLarge:
		return 40
	case types.EffortEpic:
		return 20
	}
	return 70
}

// riskScore maps the risk level to an inverted 0-100 scale: lower risk
// scores higher.
func riskScore(r types.RiskLevel) float64 {
	switch r {
	case types.RiskLow:
		return 90
	case types.RiskMedium:
		return 70
	case types.RiskHigh:
		return 40
	case types.RiskCritical:
		return 20
	}
	return 70
}

// dependencyScore buckets the prerequisite count onto an inverted scale:
// fewer dependencies score higher.
func dependencyScore(n int) float64 {
	switch {
	case n == 0:
		return 100
	case n <= 2:
		return 80
	case n <= 5:
		return 60
	case n <= 10:
		return 40
	default:
		return 20
	}
}

// hoursScore buckets estimated hours onto an inverted scale: shorter work
// scores higher.
func hoursScore(h float64) float64 {
	switch {
	case h <= 8:
		return 90
	case h <= 24:
		return 75
	case h <= 40:
		return 60
	case h <= 80:
		return 45
	case h <= 160:
		return 30
	default:
		return 10
	}
}

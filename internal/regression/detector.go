// Package regression compares metric snapshots against baselines and
// characterizes metric histories as directional trends. Both computations
// are pure: records are computed fresh on every call and never persisted as
// mutable state.
package regression

import (
	"fmt"
	"math"
	"sort"

	"github.com/rolloutkit/rollout/internal/types"
)

// Deviation thresholds, in percent. Changes at or below the reporting
// threshold are not reported at all.
const (
	reportThresholdPct   = 5.0
	highThresholdPct     = 10.0
	criticalThresholdPct = 20.0
)

// Regression describes one metric whose current value deviates meaningfully
// from its baseline.
type Regression struct {
	Metric        string         `json:"metric"`
	Baseline      float64        `json:"baseline"`
	Current       float64        `json:"current"`
	Change        float64        `json:"change"`
	ChangePercent float64        `json:"change_percent"`
	Severity      types.Severity `json:"severity"`
	Description   string         `json:"description"`
}

// Detect compares a current snapshot against a baseline and returns one
// record per metric whose deviation exceeds 5%. Severity is critical above
// 20%, high above 10%, medium otherwise; a deviation of exactly 20% is high,
// not critical. Metrics missing from either snapshot are skipped, as are
// metrics with a zero baseline (no meaningful percentage exists).
func Detect(baseline, current map[string]float64) []Regression {
	metrics := make([]string, 0, len(baseline))
	for name := range baseline {
		metrics = append(metrics, name)
	}
	sort.Strings(metrics)

	var found []Regression
	for _, name := range metrics {
		base := baseline[name]
		cur, ok := current[name]
		if !ok || base == 0 {
			continue
		}

		change := cur - base
		changePct := change / base * 100
		if math.Abs(changePct) <= reportThresholdPct {
			continue
		}

		found = append(found, Regression{
			Metric:        name,
			Baseline:      base,
			Current:       cur,
			Change:        change,
			ChangePercent: changePct,
			Severity:      severityFor(changePct),
			Description:   describe(name, base, cur, changePct),
		})
	}

	return found
}

func severityFor(changePct float64) types.Severity {
	abs := math.Abs(changePct)
	switch {
	case abs > criticalThresholdPct:
		return types.SeverityCritical
	case abs > highThresholdPct:
		return types.SeverityHigh
	default:
		return types.SeverityMedium
	}
}

func describe(metric string, baseline, current, changePct float64) string {
	direction := "increased"
	if changePct < 0 {
		direction = "decreased"
	}
	return fmt.Sprintf("%s %s %.1f%% from baseline (%.2f → %.2f)",
		metric, direction, math.Abs(changePct), baseline, current)
}

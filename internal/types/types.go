package types

import (
	"fmt"
	"strings"
)

// Feature represents a unit of proposed work to be prioritized, scheduled,
// and validated. It is an immutable input: scoring and scheduling derive new
// records from it rather than mutating it in place.
type Feature struct {
	ID             string      `json:"id" yaml:"id"`
	Title          string      `json:"title" yaml:"title"`
	Category       string      `json:"category,omitempty" yaml:"category,omitempty"`
	Effort         EffortClass `json:"effort" yaml:"effort"`
	Risk           RiskLevel   `json:"risk" yaml:"risk"`
	BusinessValue  float64     `json:"business_value" yaml:"business_value"`
	TechnicalValue float64     `json:"technical_value" yaml:"technical_value"`
	Dependencies   []string    `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	EstimatedHours float64     `json:"estimated_hours" yaml:"estimated_hours"`
}

// Validate checks if the feature has valid field values.
// Unknown dependency IDs are deliberately not an error here: the scheduler
// ignores prerequisites that are not part of the planning set.
func (f *Feature) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("feature id is required")
	}
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("feature %s: title is required", f.ID)
	}
	if len(f.Title) > 500 {
		return fmt.Errorf("feature %s: title must be 500 characters or less (got %d)", f.ID, len(f.Title))
	}
	if f.BusinessValue < 0 || f.BusinessValue > 100 {
		return fmt.Errorf("feature %s: business_value must be between 0 and 100 (got %g)", f.ID, f.BusinessValue)
	}
	if f.TechnicalValue < 0 || f.TechnicalValue > 100 {
		return fmt.Errorf("feature %s: technical_value must be between 0 and 100 (got %g)", f.ID, f.TechnicalValue)
	}
	if !f.Effort.IsValid() {
		return fmt.Errorf("feature %s: invalid effort class: %s", f.ID, f.Effort)
	}
	if !f.Risk.IsValid() {
		return fmt.Errorf("feature %s: invalid risk level: %s", f.ID, f.Risk)
	}
	if f.EstimatedHours < 0 {
		return fmt.Errorf("feature %s: estimated_hours cannot be negative", f.ID)
	}
	return nil
}

// EffortClass categorizes the implementation size of a feature.
type EffortClass string

const (
	EffortSmall  EffortClass = "small"
	EffortMedium EffortClass = "medium"
	EffortLarge  EffortClass = "large"
	EffortEpic   EffortClass = "epic"
)

// IsValid checks if the effort class value is valid.
func (e EffortClass) IsValid() bool {
	switch e {
	case EffortSmall, EffortMedium, EffortLarge, EffortEpic:
		return true
	}
	return false
}

// RiskLevel categorizes the integration risk of a feature or phase.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid checks if the risk level value is valid.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Scale maps a risk level onto the 1-4 numeric encoding used when averaging
// risk across a phase.
func (r RiskLevel) Scale() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 2
}

// RiskFromScale maps an averaged numeric risk back to a discrete level.
// Thresholds round toward the nearest category on the 1-4 encoding.
func RiskFromScale(avg float64) RiskLevel {
	switch {
	case avg >= 3.5:
		return RiskCritical
	case avg >= 2.5:
		return RiskHigh
	case avg >= 1.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// PriorityScore is the weighted multi-criteria score attached to a feature.
// Sub-scores are normalized to 0-100 before weighting. A score is never
// mutated in place: re-scoring replaces the whole record.
type PriorityScore struct {
	Total           float64 `json:"total"`
	BusinessValue   float64 `json:"business_value"`
	TechnicalValue  float64 `json:"technical_value"`
	Complexity      float64 `json:"complexity"`
	Risk            float64 `json:"risk"`
	DependencyCount float64 `json:"dependency_count"`
	Effort          float64 `json:"effort"`
}

// PrioritizedFeature is a feature with its derived planning attributes:
// priority score, 1-based rank, topological sequence position, and the
// dependency back-references resolved within the planning set.
//
// BlockedBy and Blocks are derived views; the authoritative dependency data
// is the Dependencies list on the feature itself.
type PrioritizedFeature struct {
	Feature   `yaml:",inline"`
	Score     PriorityScore `json:"score"`
	Rank      int           `json:"rank"`
	Sequence  int           `json:"sequence"`
	BlockedBy []string      `json:"blocked_by,omitempty"`
	Blocks    []string      `json:"blocks,omitempty"`
}

// IntegrationPhase is an ordered batch of features whose prerequisites are
// all satisfied by prior phases. Phases are read-only artifacts of a single
// planning run.
type IntegrationPhase struct {
	Number          int       `json:"number"`
	FeatureIDs      []string  `json:"feature_ids"`
	EstimatedHours  float64   `json:"estimated_hours"`
	Risk            RiskLevel `json:"risk"`
	DependsOnPhases []int     `json:"depends_on_phases,omitempty"`
}

// Severity classifies issues raised by validators and monitors.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is valid.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for worst-of comparisons. Higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Package pattern mines finalized conversation outcomes for statistically
// notable strategy, timing, and objection-handling correlations.
package pattern

import "time"

// Priority ranks how urgently a pattern should influence live behavior.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Pattern type labels, one per mining strategy.
const (
	TypeStrategyArchetype      = "strategy_archetype"
	TypeExplanationTiming      = "explanation_timing"
	TypeEngagementDifferential = "engagement_differential"
	TypeObjectionResolution    = "objection_resolution"
)

// Pattern is one mined behavioral correlation. Patterns are append-only;
// a newer discovery run supersedes older rows for the same name rather than
// mutating them.
type Pattern struct {
	PatternID               string         `json:"pattern_id"`
	PatternName             string         `json:"pattern_name"`
	PatternType             string         `json:"pattern_type"`
	Description             string         `json:"description"`
	Conditions              map[string]any `json:"pattern_conditions"`
	Outcomes                map[string]any `json:"pattern_outcomes"`
	ConfidenceScore         float64        `json:"confidence_score"` // 0-0.95
	SampleSize              int            `json:"sample_size"`
	EffectSize              float64        `json:"effect_size"`
	StatisticalSignificance float64        `json:"statistical_significance"`
	ApplicableArchetypes    []string       `json:"applicable_archetypes"`
	RecommendedActions      []string       `json:"recommended_actions"`
	ImplementationPriority  Priority       `json:"implementation_priority"`
	DiscoveredAt            time.Time      `json:"discovered_at"`
	LastValidated           *time.Time     `json:"last_validated"`
	ValidationFrequencyDays int            `json:"validation_frequency_days"`
}

// priorityForEffect buckets an effect size into an implementation priority.
func priorityForEffect(effect float64) Priority {
	switch {
	case effect >= 0.4:
		return PriorityCritical
	case effect >= 0.25:
		return PriorityHigh
	case effect >= 0.15:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

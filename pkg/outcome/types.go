// Package outcome tracks live conversation signal and finalizes it into
// immutable outcome records that feed bandit rewards and pattern mining.
package outcome

import "time"

// Outcome labels how a conversation ended.
type Outcome string

const (
	OutcomeConverted          Outcome = "converted"
	OutcomeLost               Outcome = "lost"
	OutcomeFollowUpScheduled  Outcome = "follow_up_scheduled"
	OutcomeTransferredToHuman Outcome = "transferred_to_human"
	OutcomeAbandoned          Outcome = "abandoned"
	OutcomeInProgress         Outcome = "in_progress"
)

// Metrics captures measurable conversation signal. Mutated incrementally by
// the tracker during a conversation, frozen at finalize time.
type Metrics struct {
	DurationSeconds          float64  `json:"duration_seconds"`
	TotalMessages            int      `json:"total_messages"`
	UserMessages             int      `json:"user_messages"`
	AgentMessages            int      `json:"agent_messages"`
	AvgResponseSeconds       float64  `json:"avg_response_seconds"`
	EngagementScore          float64  `json:"engagement_score"`           // 0-10
	SatisfactionScore        *float64 `json:"satisfaction_score"`         // 0-10, absent unless reported
	EmotionalStability       float64  `json:"emotional_stability"`        // 0-1
	ConversionProbability    float64  `json:"conversion_probability"`     // 0-1
	TierRecommended          string   `json:"tier_recommended"`
	TierAccepted             *string  `json:"tier_accepted"`
	ObjectionsRaised         int      `json:"objections_raised"`
	ObjectionsResolved       int      `json:"objections_resolved"`
	ExplanationEffectiveness float64  `json:"explanation_effectiveness"` // 0-1
}

// ClientData is what the conversation layer knows about a client when
// tracking begins. Demographics are opaque to the core; the archetype
// classifier only reads a few well-known keys.
type ClientData struct {
	Demographics  map[string]any `json:"demographics"`
	InitialIntent string         `json:"initial_intent"`
}

// Record is the immutable end-of-life summary of one conversation. Created
// once at finalize time; experiment assignments reference experiments by ID
// only, so deleting an experiment never invalidates historical records.
type Record struct {
	OutcomeID             string         `json:"outcome_id"`
	ConversationID        string         `json:"conversation_id"`
	ClientArchetype       string         `json:"client_archetype"`
	ClientDemographics    map[string]any `json:"client_demographics"`
	InitialIntent         string         `json:"initial_intent"`
	StrategiesUsed        []string       `json:"strategies_used"`
	ExperimentAssignments []string       `json:"experiment_assignments"`
	Outcome               Outcome        `json:"outcome"`
	Metrics               Metrics        `json:"metrics"`
	SuccessFactors        []string       `json:"success_factors"`
	FailureFactors        []string       `json:"failure_factors"`
	LearningInsights      []string       `json:"learning_insights"`
	AgentVersion          string         `json:"agent_version"`
	RecordedAt            time.Time      `json:"recorded_at"`
}

// Converted reports whether the conversation ended in a sale.
func (r *Record) Converted() bool {
	return r != nil && r.Outcome == OutcomeConverted
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single conversation turn fed to the tracker.
type Message struct {
	Role    Role
	Content string
	SentAt  time.Time
}

// RealTimeMetrics is the live heuristic estimate maintained while a
// conversation is in flight. Seeded with neutral priors.
type RealTimeMetrics struct {
	Engagement            float64 `json:"engagement"`             // 0-10
	ConversionProbability float64 `json:"conversion_probability"` // 0-1
	EmotionalStability    float64 `json:"emotional_stability"`    // 0-1
	ResponseQuality       float64 `json:"response_quality"`       // 0-1
}

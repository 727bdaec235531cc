// Package experiment implements the adaptive A/B testing framework: experiment
// lifecycle management, UCB1-driven variant assignment, reward attribution, and
// statistical winner analysis.
package experiment

import (
	"math"
	"time"
)

// Type categorizes what an experiment is testing.
type Type string

const (
	TypePromptVariant      Type = "prompt_variant"
	TypeStrategyTest       Type = "strategy_test"
	TypeFlowOptimization   Type = "flow_optimization"
	TypeArchetypeDetection Type = "archetype_detection"
	TypeTimingOptimization Type = "timing_optimization"
)

// Status captures lifecycle state for an experiment.
//
// Transitions run forward only, except the explicit pause/resume pair:
//
//	planning -> running -> {analyzing -> completed | paused -> running | cancelled}
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusAnalyzing Status = "analyzing"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPlanning:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusAnalyzing || next == StatusPaused || next == StatusCompleted || next == StatusCancelled
	case StatusAnalyzing:
		return next == StatusCompleted || next == StatusCancelled
	case StatusPaused:
		return next == StatusRunning || next == StatusCancelled
	}
	return false
}

// Target metrics understood by the reward function.
const (
	MetricConversionRate    = "conversion_rate"
	MetricEngagementScore   = "engagement_score"
	MetricSatisfactionScore = "satisfaction_score"
	MetricTimeToClose       = "time_to_close"
)

// Variant is one concrete alternative being tested within an experiment.
// The content blob is opaque business material (prompt text, strategy
// parameters); the framework never inspects it. Immutable after creation
// except for Active.
type Variant struct {
	ID        string
	Name      string
	Type      string
	Content   map[string]any
	Weight    float64
	Active    bool
	CreatedAt time.Time
}

// Experiment is a named test over two or more variants with a target metric,
// sample-size and duration gates, and a lifecycle status. An experiment
// exclusively owns its variants and its bandit arm set.
type Experiment struct {
	ID                string
	Name              string
	Type              Type
	Description       string
	Hypothesis        string
	Variants          []Variant
	TargetMetric      string
	MinimumSampleSize int
	ConfidenceLevel   float64
	Status            Status
	StartDate         *time.Time
	EndDate           *time.Time
	AutoDeployWinner  bool
	Results           map[string]any
	WinningVariantID  string
	ConfidenceScore   float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Variant returns the variant with the given ID, or nil.
func (e *Experiment) Variant(id string) *Variant {
	if e == nil {
		return nil
	}
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// VariantIDs returns variant IDs in declaration order.
func (e *Experiment) VariantIDs() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, 0, len(e.Variants))
	for i := range e.Variants {
		ids = append(ids, e.Variants[i].ID)
	}
	return ids
}

// weightTolerance is how far variant weights may drift from summing to 1.0
// before normalization kicks in.
const weightTolerance = 0.01

// NormalizeWeights rescales variant weights to sum to 1.0, preserving their
// relative proportions. Weights already within tolerance are left untouched;
// an all-zero weight set becomes uniform.
func NormalizeWeights(variants []Variant) {
	if len(variants) == 0 {
		return
	}
	sum := 0.0
	for i := range variants {
		if variants[i].Weight < 0 {
			variants[i].Weight = 0
		}
		sum += variants[i].Weight
	}
	if math.Abs(sum-1.0) <= weightTolerance {
		return
	}
	if sum == 0 {
		uniform := 1.0 / float64(len(variants))
		for i := range variants {
			variants[i].Weight = uniform
		}
		return
	}
	for i := range variants {
		variants[i].Weight /= sum
	}
}

// Assignment records which variant a conversation was shown, so a later
// outcome can be attributed back to the arm that produced it.
type Assignment struct {
	ID             string
	ExperimentID   string
	VariantID      string
	ConversationID string
	Context        map[string]string
	AssignedAt     time.Time
	Reward         *float64
	Outcome        string
	RewardedAt     *time.Time
}

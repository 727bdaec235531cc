package outcome

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pitchlab/pitchlab/pkg/logging"
	"github.com/pitchlab/pitchlab/pkg/telemetry"
)

// strategyTriggers maps a sales strategy name to the agent phrases that mark
// its use. Matching is case-insensitive substring search over agent messages.
var strategyTriggers = map[string][]string{
	"empathy":             {"i understand", "i hear you", "that makes sense", "i can see why"},
	"roi_pitch":           {"return on investment", "pays for itself", "save you", "over the course of a year"},
	"urgency":             {"limited time", "only available", "act now", "before the offer ends"},
	"social_proof":        {"other customers", "clients like you", "most people choose", "our most popular"},
	"tier_recommendation": {"i recommend", "best fit for you", "i'd suggest the"},
	"objection_handling":  {"great question", "let me address", "good point", "happy to explain"},
}

// objectionTriggers are user phrases that count as a raised objection.
var objectionTriggers = []string{
	"too expensive", "can't afford", "cannot afford", "not sure",
	"need to think", "not interested", "worried", "concern", "too much",
}

// explanationTriggers mark the start of a structured explanation; engagement
// measured after the first one proxies explanation effectiveness.
var explanationTriggers = []string{
	"let me explain", "here's how", "the way it works", "to break it down",
}

const (
	seedEngagement            = 5.0
	seedConversionProbability = 0.5
	seedEmotionalStability    = 0.7
	seedResponseQuality       = 0.8
)

// session is the mutable in-flight state for one tracked conversation.
type session struct {
	conversationID        string
	client                ClientData
	experimentAssignments []string
	startedAt             time.Time
	transcript            []Message
	strategies            map[string]struct{}
	responseTimes         []float64
	metrics               RealTimeMetrics
	objectionsRaised      int
	objectionsResolved    int
	lastObjectionOpen     bool
	explanationGiven      bool
	engagementAtExplain   float64
}

// TrackerDependencies holds the tracker's collaborators; all are optional.
type TrackerDependencies struct {
	Store     *Store
	Logger    *logging.Logger
	Telemetry *telemetry.Hub
	Clock     func() time.Time
	// AgentVersion is stamped onto every finalized record.
	AgentVersion string
}

// Tracker accumulates live conversation signal and finalizes it into
// immutable outcome records. It owns the per-conversation tracking map; no
// other component mutates it.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*session
	deps     TrackerDependencies
	now      func() time.Time
}

// NewTracker constructs a conversation tracker.
func NewTracker(deps TrackerDependencies) *Tracker {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sessions: make(map[string]*session),
		deps:     deps,
		now:      now,
	}
}

// StartConversation begins tracking a conversation with neutral priors.
// Starting an already-tracked conversation resets its state.
func (t *Tracker) StartConversation(conversationID string, client ClientData, experimentAssignments []string) {
	if t == nil || conversationID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[conversationID] = &session{
		conversationID:        conversationID,
		client:                client,
		experimentAssignments: append([]string(nil), experimentAssignments...),
		startedAt:             t.now(),
		strategies:            make(map[string]struct{}),
		metrics: RealTimeMetrics{
			Engagement:            seedEngagement,
			ConversionProbability: seedConversionProbability,
			EmotionalStability:    seedEmotionalStability,
			ResponseQuality:       seedResponseQuality,
		},
	}
}

// UpdateMetrics folds one conversation turn into the live metrics. Agent
// messages run strategy and objection-resolution detection; user messages run
// objection detection. additionalMetrics carries externally computed signal
// (currently the "emotional_stability" key is honored).
func (t *Tracker) UpdateMetrics(conversationID string, msg Message, responseTimeSeconds float64, additionalMetrics map[string]float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[conversationID]
	if !ok {
		return
	}

	s.transcript = append(s.transcript, msg)
	lower := strings.ToLower(msg.Content)

	switch msg.Role {
	case RoleAgent:
		if responseTimeSeconds > 0 {
			s.responseTimes = append(s.responseTimes, responseTimeSeconds)
		}
		for name, phrases := range strategyTriggers {
			for _, phrase := range phrases {
				if strings.Contains(lower, phrase) {
					s.strategies[name] = struct{}{}
					break
				}
			}
		}
		if s.lastObjectionOpen && containsAny(lower, strategyTriggers["objection_handling"]) {
			s.objectionsResolved++
			s.lastObjectionOpen = false
		}
		if !s.explanationGiven && containsAny(lower, explanationTriggers) {
			s.explanationGiven = true
			s.engagementAtExplain = s.metrics.Engagement
		}
	case RoleUser:
		if containsAny(lower, objectionTriggers) {
			s.objectionsRaised++
			s.lastObjectionOpen = true
		}
	}

	s.recompute(additionalMetrics)
}

// RealTimeMetrics returns the live metric estimate for a tracked
// conversation.
func (t *Tracker) RealTimeMetrics(conversationID string) (RealTimeMetrics, bool) {
	if t == nil {
		return RealTimeMetrics{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[conversationID]
	if !ok {
		return RealTimeMetrics{}, false
	}
	return s.metrics, true
}

// Tracking reports whether the conversation is currently tracked.
func (t *Tracker) Tracking(conversationID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[conversationID]
	return ok
}

// RecordOutcome finalizes a tracked conversation into an immutable record,
// persists it best-effort, and evicts the session. Returns nil for an
// untracked conversation, including a second call for the same id.
func (t *Tracker) RecordOutcome(conversationID string, final Outcome, tierRecommended string, tierAccepted *string, satisfactionScore *float64) *Record {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	s, ok := t.sessions[conversationID]
	if ok {
		delete(t.sessions, conversationID)
	}
	t.mu.Unlock()
	if !ok {
		// Finalizing an untracked conversation indicates a caller bug.
		t.deps.Logger.Error(logging.CategoryOutcome, "untracked_conversation",
			"record_conversation_outcome called for untracked conversation",
			map[string]any{"conversation_id": conversationID})
		return nil
	}

	now := t.now()
	metrics := s.finalMetrics(now, tierRecommended, tierAccepted, satisfactionScore)
	archetype := classifyArchetype(s.client)
	success, failure := deriveFactors(final, metrics, s)

	rec := &Record{
		OutcomeID:             ulid.Make().String(),
		ConversationID:        conversationID,
		ClientArchetype:       archetype,
		ClientDemographics:    s.client.Demographics,
		InitialIntent:         s.client.InitialIntent,
		StrategiesUsed:        s.strategyList(),
		ExperimentAssignments: s.experimentAssignments,
		Outcome:               final,
		Metrics:               metrics,
		SuccessFactors:        success,
		FailureFactors:        failure,
		LearningInsights:      deriveInsights(final, archetype, s),
		AgentVersion:          t.deps.AgentVersion,
		RecordedAt:            now,
	}

	if err := t.deps.Store.InsertOutcome(rec); err != nil {
		t.deps.Logger.Error(logging.CategoryStorage, "insert_outcome_failed", err.Error(),
			map[string]any{"conversation_id": conversationID})
	}

	t.deps.Logger.Log(logging.Event{
		Level:          logging.LevelInfo,
		Category:       logging.CategoryOutcome,
		EventType:      "outcome_recorded",
		ConversationID: conversationID,
		Details:        map[string]any{"outcome": string(final), "archetype": archetype},
	})
	t.deps.Telemetry.Publish(telemetry.Event{
		Type:           telemetry.EventOutcomeRecorded,
		ConversationID: conversationID,
		Data:           map[string]any{"outcome": string(final)},
	})
	telemetry.RecordOutcome(string(final))
	return rec
}

// recompute rebuilds the live heuristic metrics from the transcript so far.
func (s *session) recompute(additional map[string]float64) {
	userChars, userMessages, questions := 0, 0, 0
	for _, msg := range s.transcript {
		if msg.Role != RoleUser {
			continue
		}
		userMessages++
		userChars += len(msg.Content)
		questions += strings.Count(msg.Content, "?")
	}

	if userMessages > 0 {
		avgLen := float64(userChars) / float64(userMessages)
		engagement := minFloat(10, avgLen/20)
		engagement += minFloat(2, 0.5*float64(questions))
		s.metrics.Engagement = minFloat(10, engagement)
	}

	conversion := 0.3
	conversion += minFloat(0.2, 0.05*float64(len(s.strategies)))
	switch {
	case s.metrics.Engagement >= 7:
		conversion += 0.2
	case s.metrics.Engagement >= 5:
		conversion += 0.1
	}
	if s.objectionsRaised > 0 && s.objectionsResolved >= s.objectionsRaised {
		conversion += 0.1
	}
	if stability, ok := additional["emotional_stability"]; ok {
		s.metrics.EmotionalStability = clamp01(stability)
	}
	conversion += 0.1 * s.metrics.EmotionalStability
	s.metrics.ConversionProbability = minFloat(1.0, conversion)

	if avg := mean(s.responseTimes); avg > 0 {
		switch {
		case avg <= 2:
			s.metrics.ResponseQuality = 0.9
		case avg <= 5:
			s.metrics.ResponseQuality = 0.8
		default:
			s.metrics.ResponseQuality = 0.6
		}
	}
}

// finalMetrics freezes the session into ConversationMetrics.
func (s *session) finalMetrics(now time.Time, tierRecommended string, tierAccepted *string, satisfactionScore *float64) Metrics {
	agentMessages, userMessages := 0, 0
	for _, msg := range s.transcript {
		switch msg.Role {
		case RoleAgent:
			agentMessages++
		case RoleUser:
			userMessages++
		}
	}

	effectiveness := 0.0
	if s.explanationGiven {
		// Engagement delta after the first explanation, recentered to [0,1].
		effectiveness = clamp01(0.5 + (s.metrics.Engagement-s.engagementAtExplain)/10)
	}

	return Metrics{
		DurationSeconds:          now.Sub(s.startedAt).Seconds(),
		TotalMessages:            len(s.transcript),
		UserMessages:             userMessages,
		AgentMessages:            agentMessages,
		AvgResponseSeconds:       mean(s.responseTimes),
		EngagementScore:          s.metrics.Engagement,
		SatisfactionScore:        satisfactionScore,
		EmotionalStability:       s.metrics.EmotionalStability,
		ConversionProbability:    s.metrics.ConversionProbability,
		TierRecommended:          tierRecommended,
		TierAccepted:             tierAccepted,
		ObjectionsRaised:         s.objectionsRaised,
		ObjectionsResolved:       s.objectionsResolved,
		ExplanationEffectiveness: effectiveness,
	}
}

func (s *session) strategyList() []string {
	out := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		out = append(out, name)
	}
	return out
}

// classifyArchetype maps coarse demographic signal to a segment label used
// by pattern mining. Unknown demographics fall back to general_consumer.
func classifyArchetype(client ClientData) string {
	demo := client.Demographics
	intent := strings.ToLower(client.InitialIntent)

	if strings.Contains(intent, "price") || strings.Contains(intent, "cheap") || strings.Contains(intent, "cost") {
		return "budget_conscious"
	}
	if occupation, ok := stringValue(demo, "occupation"); ok {
		switch {
		case containsAny(occupation, []string{"engineer", "analyst", "scientist", "developer"}):
			return "analytical_buyer"
		case containsAny(occupation, []string{"manager", "executive", "director", "owner"}):
			return "busy_professional"
		}
	}
	if size, ok := numberValue(demo, "family_size"); ok && size >= 3 {
		return "family_decision_maker"
	}
	if age, ok := numberValue(demo, "age"); ok && age < 30 {
		return "digital_native"
	}
	return "general_consumer"
}

func deriveFactors(final Outcome, metrics Metrics, s *session) (success, failure []string) {
	if final == OutcomeConverted {
		success = append(success, "conversion_achieved")
	}
	if metrics.EngagementScore >= 7 {
		success = append(success, "high_engagement")
	}
	if s.objectionsRaised > 0 && s.objectionsResolved >= s.objectionsRaised {
		success = append(success, "all_objections_resolved")
	}
	if len(s.strategies) >= 3 {
		success = append(success, "diverse_strategies")
	}

	if final == OutcomeLost || final == OutcomeAbandoned {
		failure = append(failure, "no_conversion")
	}
	if metrics.EngagementScore < 4 {
		failure = append(failure, "low_engagement")
	}
	if s.objectionsResolved < s.objectionsRaised {
		failure = append(failure, "unresolved_objections")
	}
	if metrics.AvgResponseSeconds > 5 {
		failure = append(failure, "slow_responses")
	}
	return success, failure
}

func deriveInsights(final Outcome, archetype string, s *session) []string {
	var insights []string
	if final == OutcomeConverted {
		for name := range s.strategies {
			insights = append(insights, "strategy "+name+" contributed to conversion for "+archetype)
		}
	} else if s.objectionsResolved < s.objectionsRaised {
		insights = append(insights, "unresolved objections preceded a non-conversion for "+archetype)
	}
	return insights
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func stringValue(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key].(string)
	if !ok {
		return "", false
	}
	return strings.ToLower(v), true
}

func numberValue(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

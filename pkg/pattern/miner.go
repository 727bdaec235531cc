package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pitchlab/pitchlab/pkg/bus"
	"github.com/pitchlab/pitchlab/pkg/logging"
	"github.com/pitchlab/pitchlab/pkg/outcome"
	"github.com/pitchlab/pitchlab/pkg/telemetry"
)

// maxConfidence bounds every mined pattern's confidence. Mining heuristics
// never produce certainty.
const maxConfidence = 0.95

// DefaultSubjectPrefix is the bus subject namespace for pattern
// announcements.
const DefaultSubjectPrefix = "pitchlab.patterns"

// OutcomeSource is the slice of the outcome store the miner reads.
type OutcomeSource interface {
	ListSince(since time.Time) ([]outcome.Record, error)
}

// Dependencies holds the miner's collaborators. Store and OutcomeSource are
// required for useful work; the rest are optional.
type Dependencies struct {
	Outcomes  OutcomeSource
	Store     *Store
	Logger    *logging.Logger
	Telemetry *telemetry.Hub
	Bus       bus.MessageBus
	Clock     func() time.Time
}

// Config tunes mining thresholds.
type Config struct {
	// MinSampleSize is the smallest cohort a pattern may be mined from.
	MinSampleSize int
	// StrategySuccessRate is the per-strategy success rate required to emit
	// a strategy/archetype pattern.
	StrategySuccessRate float64
	// EngagementRelativeDiff is the relative metric difference between
	// converted and non-converted cohorts required for an engagement
	// pattern.
	EngagementRelativeDiff float64
	// ObjectionLift is how much resolving objections must raise conversion
	// over leaving them unresolved.
	ObjectionLift float64
	// ValidationFrequencyDays is stamped onto emitted patterns.
	ValidationFrequencyDays int
}

// DefaultConfig returns the mining thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:           10,
		StrategySuccessRate:     0.7,
		EngagementRelativeDiff:  0.20,
		ObjectionLift:           0.10,
		ValidationFrequencyDays: 30,
	}
}

// Miner batch-mines the outcome corpus for behavioral patterns.
type Miner struct {
	cfg  Config
	deps Dependencies
	now  func() time.Time
}

// NewMiner constructs a pattern miner. Zero config fields fall back to
// defaults.
func NewMiner(cfg Config, deps Dependencies) *Miner {
	def := DefaultConfig()
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = def.MinSampleSize
	}
	if cfg.StrategySuccessRate <= 0 {
		cfg.StrategySuccessRate = def.StrategySuccessRate
	}
	if cfg.EngagementRelativeDiff <= 0 {
		cfg.EngagementRelativeDiff = def.EngagementRelativeDiff
	}
	if cfg.ObjectionLift <= 0 {
		cfg.ObjectionLift = def.ObjectionLift
	}
	if cfg.ValidationFrequencyDays <= 0 {
		cfg.ValidationFrequencyDays = def.ValidationFrequencyDays
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Miner{cfg: cfg, deps: deps, now: now}
}

// AnalyzeConversationPatterns runs one mining pass over the lookback window.
// A non-positive minSampleSize falls back to the configured default. Every
// emitted pattern is persisted and announced; persistence failures are
// logged per pattern and do not abort the pass.
func (m *Miner) AnalyzeConversationPatterns(ctx context.Context, lookbackDays, minSampleSize int) ([]Pattern, error) {
	if m == nil {
		return nil, nil
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	if minSampleSize <= 0 {
		minSampleSize = m.cfg.MinSampleSize
	}
	if m.deps.Outcomes == nil {
		return nil, fmt.Errorf("no outcome source configured")
	}

	since := m.now().AddDate(0, 0, -lookbackDays)
	records, err := m.deps.Outcomes.ListSince(since)
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}

	var patterns []Pattern
	patterns = append(patterns, m.mineStrategyArchetype(records, minSampleSize)...)
	patterns = append(patterns, m.mineExplanationTiming(records, minSampleSize)...)
	patterns = append(patterns, m.mineEngagementDifferential(records, minSampleSize)...)
	patterns = append(patterns, m.mineObjectionResolution(records, minSampleSize)...)

	for i := range patterns {
		m.emit(ctx, &patterns[i])
	}

	m.deps.Logger.Info(logging.CategoryPattern, "mining_pass_complete", "",
		map[string]any{
			"lookback_days": lookbackDays,
			"outcomes":      len(records),
			"patterns":      len(patterns),
		})
	return patterns, nil
}

// mineStrategyArchetype groups outcomes by archetype and computes the
// conversion rate of each strategy within the group.
func (m *Miner) mineStrategyArchetype(records []outcome.Record, minSampleSize int) []Pattern {
	type cohort struct {
		total     int
		converted int
	}
	byArchetype := make(map[string]map[string]*cohort)
	for i := range records {
		rec := &records[i]
		if rec.ClientArchetype == "" {
			continue
		}
		strategies := byArchetype[rec.ClientArchetype]
		if strategies == nil {
			strategies = make(map[string]*cohort)
			byArchetype[rec.ClientArchetype] = strategies
		}
		for _, strategy := range rec.StrategiesUsed {
			c := strategies[strategy]
			if c == nil {
				c = &cohort{}
				strategies[strategy] = c
			}
			c.total++
			if rec.Converted() {
				c.converted++
			}
		}
	}

	var patterns []Pattern
	for _, archetype := range sortedKeys(byArchetype) {
		strategies := byArchetype[archetype]
		for _, strategy := range sortedKeys(strategies) {
			c := strategies[strategy]
			if c.total < minSampleSize {
				continue
			}
			rate := float64(c.converted) / float64(c.total)
			if rate < m.cfg.StrategySuccessRate {
				continue
			}
			patterns = append(patterns, m.newPattern(
				TypeStrategyArchetype,
				fmt.Sprintf("%s works for %s", strategy, archetype),
				fmt.Sprintf("strategy %q converts %.0f%% of %s conversations", strategy, rate*100, archetype),
				map[string]any{"strategy": strategy, "archetype": archetype},
				map[string]any{"conversion_rate": rate},
				c.total,
				rate-0.5,
				rate,
				[]string{archetype},
				[]string{fmt.Sprintf("prefer strategy %q for archetype %q", strategy, archetype)},
			))
		}
	}
	return patterns
}

// mineExplanationTiming compares conversations where a structured explanation
// landed well against those where it did not.
func (m *Miner) mineExplanationTiming(records []outcome.Record, minSampleSize int) []Pattern {
	var high, low struct {
		total     int
		converted int
	}
	for i := range records {
		rec := &records[i]
		switch {
		case rec.Metrics.ExplanationEffectiveness >= 0.7:
			high.total++
			if rec.Converted() {
				high.converted++
			}
		case rec.Metrics.ExplanationEffectiveness > 0 && rec.Metrics.ExplanationEffectiveness < 0.4:
			low.total++
			if rec.Converted() {
				low.converted++
			}
		}
	}
	if high.total < minSampleSize || low.total < minSampleSize {
		return nil
	}
	highRate := float64(high.converted) / float64(high.total)
	lowRate := float64(low.converted) / float64(low.total)
	diff := highRate - lowRate
	if diff <= m.cfg.ObjectionLift {
		return nil
	}
	return []Pattern{m.newPattern(
		TypeExplanationTiming,
		"effective explanations drive conversion",
		fmt.Sprintf("high-effectiveness explanations convert %.0f%% vs %.0f%% for low", highRate*100, lowRate*100),
		map[string]any{"explanation_effectiveness": ">=0.7"},
		map[string]any{"high_rate": highRate, "low_rate": lowRate},
		high.total+low.total,
		diff,
		diff,
		nil,
		[]string{"deliver the structured explanation early, while engagement is rising"},
	)}
}

// mineEngagementDifferential compares converted vs non-converted cohorts on
// numeric engagement metrics.
func (m *Miner) mineEngagementDifferential(records []outcome.Record, minSampleSize int) []Pattern {
	metrics := []struct {
		name  string
		value func(*outcome.Record) float64
	}{
		{"engagement_score", func(r *outcome.Record) float64 { return r.Metrics.EngagementScore }},
		{"conversion_probability", func(r *outcome.Record) float64 { return r.Metrics.ConversionProbability }},
		{"emotional_stability", func(r *outcome.Record) float64 { return r.Metrics.EmotionalStability }},
	}

	var patterns []Pattern
	for _, metric := range metrics {
		var converted, other []float64
		for i := range records {
			rec := &records[i]
			if rec.Converted() {
				converted = append(converted, metric.value(rec))
			} else {
				other = append(other, metric.value(rec))
			}
		}
		if len(converted) < minSampleSize || len(other) < minSampleSize {
			continue
		}
		convMean := meanOf(converted)
		otherMean := meanOf(other)
		if otherMean == 0 {
			continue
		}
		relative := math.Abs(convMean-otherMean) / math.Abs(otherMean)
		if relative <= m.cfg.EngagementRelativeDiff {
			continue
		}
		patterns = append(patterns, m.newPattern(
			TypeEngagementDifferential,
			fmt.Sprintf("%s separates converted conversations", metric.name),
			fmt.Sprintf("converted conversations average %.2f %s vs %.2f for others", convMean, metric.name, otherMean),
			map[string]any{"metric": metric.name},
			map[string]any{"converted_mean": convMean, "other_mean": otherMean, "relative_diff": relative},
			len(converted)+len(other),
			relative,
			minFloat(relative, 1.0),
			nil,
			[]string{fmt.Sprintf("treat low %s as an early churn signal", metric.name)},
		))
	}
	return patterns
}

// mineObjectionResolution checks whether resolving raised objections
// measurably improves conversion.
func (m *Miner) mineObjectionResolution(records []outcome.Record, minSampleSize int) []Pattern {
	var resolved, unresolved struct {
		total     int
		converted int
	}
	for i := range records {
		rec := &records[i]
		if rec.Metrics.ObjectionsRaised == 0 {
			continue
		}
		if rec.Metrics.ObjectionsResolved >= rec.Metrics.ObjectionsRaised {
			resolved.total++
			if rec.Converted() {
				resolved.converted++
			}
		} else {
			unresolved.total++
			if rec.Converted() {
				unresolved.converted++
			}
		}
	}
	if resolved.total < minSampleSize || unresolved.total < minSampleSize {
		return nil
	}
	resolvedRate := float64(resolved.converted) / float64(resolved.total)
	unresolvedRate := float64(unresolved.converted) / float64(unresolved.total)
	if resolvedRate <= unresolvedRate+m.cfg.ObjectionLift {
		return nil
	}
	lift := resolvedRate - unresolvedRate
	return []Pattern{m.newPattern(
		TypeObjectionResolution,
		"objection resolution lifts conversion",
		fmt.Sprintf("resolving objections converts %.0f%% vs %.0f%% when left open", resolvedRate*100, unresolvedRate*100),
		map[string]any{"objections_raised": ">0"},
		map[string]any{"resolved_rate": resolvedRate, "unresolved_rate": unresolvedRate},
		resolved.total+unresolved.total,
		lift,
		lift,
		nil,
		[]string{"always address a raised objection before moving the pitch forward"},
	)}
}

func (m *Miner) newPattern(patternType, name, description string, conditions, outcomes map[string]any, sampleSize int, effect, significance float64, archetypes, actions []string) Pattern {
	confidence := minFloat(maxConfidence, 0.5+effect)
	if confidence < 0 {
		confidence = 0
	}
	return Pattern{
		PatternID:               ulid.Make().String(),
		PatternName:             name,
		PatternType:             patternType,
		Description:             description,
		Conditions:              conditions,
		Outcomes:                outcomes,
		ConfidenceScore:         confidence,
		SampleSize:              sampleSize,
		EffectSize:              effect,
		StatisticalSignificance: minFloat(significance, maxConfidence),
		ApplicableArchetypes:    archetypes,
		RecommendedActions:      actions,
		ImplementationPriority:  priorityForEffect(effect),
		DiscoveredAt:            m.now(),
		ValidationFrequencyDays: m.cfg.ValidationFrequencyDays,
	}
}

// emit persists and announces one pattern.
func (m *Miner) emit(ctx context.Context, p *Pattern) {
	if err := m.deps.Store.InsertPattern(p); err != nil {
		m.deps.Logger.Error(logging.CategoryStorage, "insert_pattern_failed", err.Error(),
			map[string]any{"pattern_name": p.PatternName})
	}

	m.deps.Logger.Log(logging.Event{
		Level:     logging.LevelInfo,
		Category:  logging.CategoryPattern,
		EventType: "pattern_discovered",
		Message:   p.PatternName,
		Details: map[string]any{
			"type":        p.PatternType,
			"confidence":  p.ConfidenceScore,
			"sample_size": p.SampleSize,
		},
	})
	m.deps.Telemetry.Publish(telemetry.Event{
		Type: telemetry.EventPatternDiscovered,
		Data: map[string]any{"pattern_name": p.PatternName, "pattern_type": p.PatternType},
	})
	telemetry.RecordPatternDiscovered(p.PatternType)

	if m.deps.Bus != nil {
		payload, err := json.Marshal(p)
		if err == nil {
			subject := DefaultSubjectPrefix + "." + p.PatternType
			if err := m.deps.Bus.Publish(ctx, subject, payload); err != nil {
				m.deps.Logger.Warn(logging.CategoryPattern, "announce_failed", err.Error(),
					map[string]any{"subject": subject})
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func meanOf(values []float64) float64 {
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

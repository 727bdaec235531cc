package outcome

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitchlab/pitchlab/pkg/storage"
)

// ErrStoreUnavailable indicates the outcome store is not configured.
var ErrStoreUnavailable = errors.New("outcome store unavailable")

// Store persists finalized conversation outcome records.
type Store struct {
	db *sql.DB
}

// NewStore constructs an outcome store from a database handle.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// NewStoreFromStorage constructs an outcome store from the main storage store.
func NewStoreFromStorage(store *storage.Store) *Store {
	if store == nil {
		return nil
	}
	return NewStore(store.DB())
}

// InsertOutcome persists one immutable outcome record.
func (s *Store) InsertOutcome(rec *Record) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if rec == nil {
		return errors.New("record is nil")
	}

	demographics, err := marshalField(rec.ClientDemographics)
	if err != nil {
		return fmt.Errorf("marshal demographics: %w", err)
	}
	strategies, err := marshalField(rec.StrategiesUsed)
	if err != nil {
		return fmt.Errorf("marshal strategies: %w", err)
	}
	assignments, err := marshalField(rec.ExperimentAssignments)
	if err != nil {
		return fmt.Errorf("marshal assignments: %w", err)
	}
	success, err := marshalField(rec.SuccessFactors)
	if err != nil {
		return fmt.Errorf("marshal success factors: %w", err)
	}
	failure, err := marshalField(rec.FailureFactors)
	if err != nil {
		return fmt.Errorf("marshal failure factors: %w", err)
	}
	insights, err := marshalField(rec.LearningInsights)
	if err != nil {
		return fmt.Errorf("marshal insights: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO conversation_outcomes (
			outcome_id, conversation_id, client_archetype, client_demographics,
			initial_intent, strategies_used, experiment_assignments, outcome,
			duration_seconds, total_messages, user_messages, agent_messages,
			avg_response_seconds, engagement_score, satisfaction_score,
			emotional_stability, conversion_probability, tier_recommended,
			tier_accepted, objections_raised, objections_resolved,
			explanation_effectiveness, success_factors, failure_factors,
			learning_insights, agent_version, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.OutcomeID,
		rec.ConversationID,
		emptyToNull(rec.ClientArchetype),
		emptyToNull(demographics),
		emptyToNull(rec.InitialIntent),
		emptyToNull(strategies),
		emptyToNull(assignments),
		string(rec.Outcome),
		rec.Metrics.DurationSeconds,
		rec.Metrics.TotalMessages,
		rec.Metrics.UserMessages,
		rec.Metrics.AgentMessages,
		rec.Metrics.AvgResponseSeconds,
		rec.Metrics.EngagementScore,
		floatPtrOrNull(rec.Metrics.SatisfactionScore),
		rec.Metrics.EmotionalStability,
		rec.Metrics.ConversionProbability,
		emptyToNull(rec.Metrics.TierRecommended),
		stringPtrOrNull(rec.Metrics.TierAccepted),
		rec.Metrics.ObjectionsRaised,
		rec.Metrics.ObjectionsResolved,
		rec.Metrics.ExplanationEffectiveness,
		emptyToNull(success),
		emptyToNull(failure),
		emptyToNull(insights),
		emptyToNull(rec.AgentVersion),
		rec.RecordedAt,
	)
	return err
}

// ListSince returns outcome records recorded at or after the given time,
// oldest first. The pattern miner's lookback window drives this query.
func (s *Store) ListSince(since time.Time) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}

	rows, err := s.db.Query(`
		SELECT outcome_id, conversation_id, client_archetype, client_demographics,
		       initial_intent, strategies_used, experiment_assignments, outcome,
		       duration_seconds, total_messages, user_messages, agent_messages,
		       avg_response_seconds, engagement_score, satisfaction_score,
		       emotional_stability, conversion_probability, tier_recommended,
		       tier_accepted, objections_raised, objections_resolved,
		       explanation_effectiveness, success_factors, failure_factors,
		       learning_insights, agent_version, recorded_at
		FROM conversation_outcomes
		WHERE recorded_at >= ?
		ORDER BY recorded_at
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var archetype, demographics, intent, strategies, assignments sql.NullString
		var outcomeStr string
		var satisfaction sql.NullFloat64
		var tierRecommended, tierAccepted sql.NullString
		var success, failure, insights, agentVersion sql.NullString

		if err := rows.Scan(
			&rec.OutcomeID,
			&rec.ConversationID,
			&archetype,
			&demographics,
			&intent,
			&strategies,
			&assignments,
			&outcomeStr,
			&rec.Metrics.DurationSeconds,
			&rec.Metrics.TotalMessages,
			&rec.Metrics.UserMessages,
			&rec.Metrics.AgentMessages,
			&rec.Metrics.AvgResponseSeconds,
			&rec.Metrics.EngagementScore,
			&satisfaction,
			&rec.Metrics.EmotionalStability,
			&rec.Metrics.ConversionProbability,
			&tierRecommended,
			&tierAccepted,
			&rec.Metrics.ObjectionsRaised,
			&rec.Metrics.ObjectionsResolved,
			&rec.Metrics.ExplanationEffectiveness,
			&success,
			&failure,
			&insights,
			&agentVersion,
			&rec.RecordedAt,
		); err != nil {
			return nil, err
		}

		rec.ClientArchetype = archetype.String
		rec.InitialIntent = intent.String
		rec.Outcome = Outcome(outcomeStr)
		rec.Metrics.TierRecommended = tierRecommended.String
		rec.AgentVersion = agentVersion.String
		if satisfaction.Valid {
			v := satisfaction.Float64
			rec.Metrics.SatisfactionScore = &v
		}
		if tierAccepted.Valid {
			v := tierAccepted.String
			rec.Metrics.TierAccepted = &v
		}
		if err := unmarshalField(demographics.String, &rec.ClientDemographics); err != nil {
			return nil, fmt.Errorf("decode demographics: %w", err)
		}
		if err := unmarshalField(strategies.String, &rec.StrategiesUsed); err != nil {
			return nil, fmt.Errorf("decode strategies: %w", err)
		}
		if err := unmarshalField(assignments.String, &rec.ExperimentAssignments); err != nil {
			return nil, fmt.Errorf("decode assignments: %w", err)
		}
		if err := unmarshalField(success.String, &rec.SuccessFactors); err != nil {
			return nil, fmt.Errorf("decode success factors: %w", err)
		}
		if err := unmarshalField(failure.String, &rec.FailureFactors); err != nil {
			return nil, fmt.Errorf("decode failure factors: %w", err)
		}
		if err := unmarshalField(insights.String, &rec.LearningInsights); err != nil {
			return nil, fmt.Errorf("decode insights: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func marshalField(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "", nil
	}
	return string(data), nil
}

func unmarshalField(raw string, target any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

func emptyToNull(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func floatPtrOrNull(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func stringPtrOrNull(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

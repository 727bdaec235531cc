package pattern

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitchlab/pitchlab/pkg/storage"
)

// ErrStoreUnavailable indicates the pattern store is not configured.
var ErrStoreUnavailable = errors.New("pattern store unavailable")

// Store persists mined patterns. Rows are append-only.
type Store struct {
	db *sql.DB
}

// NewStore constructs a pattern store from a database handle.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// NewStoreFromStorage constructs a pattern store from the main storage store.
func NewStoreFromStorage(store *storage.Store) *Store {
	if store == nil {
		return nil
	}
	return NewStore(store.DB())
}

// InsertPattern appends one mined pattern.
func (s *Store) InsertPattern(p *Pattern) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if p == nil {
		return errors.New("pattern is nil")
	}

	conditions, err := marshalColumn(p.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	outcomes, err := marshalColumn(p.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}
	archetypes, err := marshalColumn(p.ApplicableArchetypes)
	if err != nil {
		return fmt.Errorf("marshal archetypes: %w", err)
	}
	actions, err := marshalColumn(p.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO identified_patterns (
			pattern_id, pattern_name, pattern_type, description,
			pattern_conditions, pattern_outcomes, confidence_score, sample_size,
			effect_size, statistical_significance, applicable_archetypes,
			recommended_actions, implementation_priority, discovered_at,
			last_validated, validation_frequency_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.PatternID,
		p.PatternName,
		p.PatternType,
		blankToNull(p.Description),
		blankToNull(conditions),
		blankToNull(outcomes),
		p.ConfidenceScore,
		p.SampleSize,
		p.EffectSize,
		p.StatisticalSignificance,
		blankToNull(archetypes),
		blankToNull(actions),
		string(p.ImplementationPriority),
		p.DiscoveredAt,
		timePtrOrNull(p.LastValidated),
		p.ValidationFrequencyDays,
	)
	return err
}

// ListPatterns returns patterns newest first, optionally filtered by type.
func (s *Store) ListPatterns(patternType string, limit int) ([]Pattern, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}

	query := `
		SELECT pattern_id, pattern_name, pattern_type, description,
		       pattern_conditions, pattern_outcomes, confidence_score, sample_size,
		       effect_size, statistical_significance, applicable_archetypes,
		       recommended_actions, implementation_priority, discovered_at,
		       last_validated, validation_frequency_days
		FROM identified_patterns
	`
	var args []any
	if patternType != "" {
		query += " WHERE pattern_type = ?"
		args = append(args, patternType)
	}
	query += " ORDER BY discovered_at DESC, pattern_id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		var p Pattern
		var description, conditions, outcomes, archetypes, actions sql.NullString
		var priority string
		var lastValidated sql.NullTime

		if err := rows.Scan(
			&p.PatternID,
			&p.PatternName,
			&p.PatternType,
			&description,
			&conditions,
			&outcomes,
			&p.ConfidenceScore,
			&p.SampleSize,
			&p.EffectSize,
			&p.StatisticalSignificance,
			&archetypes,
			&actions,
			&priority,
			&p.DiscoveredAt,
			&lastValidated,
			&p.ValidationFrequencyDays,
		); err != nil {
			return nil, err
		}

		p.Description = description.String
		p.ImplementationPriority = Priority(priority)
		if lastValidated.Valid {
			p.LastValidated = &lastValidated.Time
		}
		if err := unmarshalColumn(conditions.String, &p.Conditions); err != nil {
			return nil, fmt.Errorf("decode conditions: %w", err)
		}
		if err := unmarshalColumn(outcomes.String, &p.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes: %w", err)
		}
		if err := unmarshalColumn(archetypes.String, &p.ApplicableArchetypes); err != nil {
			return nil, fmt.Errorf("decode archetypes: %w", err)
		}
		if err := unmarshalColumn(actions.String, &p.RecommendedActions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// LatestByName collapses the append-only history to the newest row per
// pattern name, so consumers see only the current version of each pattern.
func (s *Store) LatestByName() (map[string]Pattern, error) {
	all, err := s.ListPatterns("", 0)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Pattern, len(all))
	for _, p := range all {
		if _, ok := latest[p.PatternName]; !ok {
			latest[p.PatternName] = p
		}
	}
	return latest, nil
}

func marshalColumn(value any) (string, error) {
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

func unmarshalColumn(raw string, target any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

func blankToNull(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func timePtrOrNull(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return *value
}

package experiment

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pitchlab/pitchlab/pkg/storage"
)

// ErrStoreUnavailable indicates the experiment store is not configured.
var ErrStoreUnavailable = errors.New("experiment store unavailable")

// Store manages experiment and assignment persistence.
type Store struct {
	db *sql.DB
}

// NewStore constructs an experiment store from a database handle.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// NewStoreFromStorage constructs an experiment store from the main storage store.
func NewStoreFromStorage(store *storage.Store) *Store {
	if store == nil {
		return nil
	}
	return NewStore(store.DB())
}

// CreateExperiment persists a new experiment along with its variants.
func (s *Store) CreateExperiment(exp *Experiment) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if exp == nil {
		return errors.New("experiment is nil")
	}
	if exp.ID == "" {
		exp.ID = ulid.Make().String()
	}
	if exp.Status == "" {
		exp.Status = StatusPlanning
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now()
	}
	if exp.UpdatedAt.IsZero() {
		exp.UpdatedAt = exp.CreatedAt
	}

	results, err := marshalJSON(exp.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
		INSERT INTO experiments (
			id, name, experiment_type, description, hypothesis, target_metric,
			minimum_sample_size, confidence_level, status, start_date, end_date,
			auto_deploy_winner, results, winning_variant_id, confidence_score,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exp.ID,
		exp.Name,
		string(exp.Type),
		nullIfEmpty(exp.Description),
		nullIfEmpty(exp.Hypothesis),
		exp.TargetMetric,
		exp.MinimumSampleSize,
		exp.ConfidenceLevel,
		string(exp.Status),
		nullTime(exp.StartDate),
		nullTime(exp.EndDate),
		boolToInt(exp.AutoDeployWinner),
		nullIfEmpty(results),
		nullIfEmpty(exp.WinningVariantID),
		nullIfZeroFloat(exp.ConfidenceScore),
		exp.CreatedAt,
		exp.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if len(exp.Variants) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.Prepare(`
			INSERT INTO experiment_variants (
				id, experiment_id, name, variant_type, content, weight, active, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range exp.Variants {
			variant := &exp.Variants[i]
			if variant.ID == "" {
				variant.ID = ulid.Make().String()
			}
			if variant.CreatedAt.IsZero() {
				variant.CreatedAt = exp.CreatedAt
			}

			var content string
			content, err = marshalJSON(variant.Content)
			if err != nil {
				return fmt.Errorf("marshal variant content: %w", err)
			}

			_, err = stmt.Exec(
				variant.ID,
				exp.ID,
				variant.Name,
				variant.Type,
				nullIfEmpty(content),
				variant.Weight,
				boolToInt(variant.Active),
				variant.CreatedAt,
			)
			if err != nil {
				return err
			}
		}
	}

	err = tx.Commit()
	return err
}

// UpdateExperiment persists lifecycle fields for an existing experiment.
// Variants are immutable after creation and are not touched.
func (s *Store) UpdateExperiment(exp *Experiment) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if exp == nil || strings.TrimSpace(exp.ID) == "" {
		return errors.New("experiment id is required")
	}

	results, err := marshalJSON(exp.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	exp.UpdatedAt = time.Now()

	_, err = s.db.Exec(`
		UPDATE experiments
		SET status = ?, start_date = ?, end_date = ?, results = ?,
		    winning_variant_id = ?, confidence_score = ?, updated_at = ?
		WHERE id = ?
	`,
		string(exp.Status),
		nullTime(exp.StartDate),
		nullTime(exp.EndDate),
		nullIfEmpty(results),
		nullIfEmpty(exp.WinningVariantID),
		nullIfZeroFloat(exp.ConfidenceScore),
		exp.UpdatedAt,
		exp.ID,
	)
	return err
}

// GetExperiment loads a single experiment with its variants. Returns
// (nil, nil) when no experiment exists with the given id.
func (s *Store) GetExperiment(id string) (*Experiment, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("experiment id is required")
	}

	row := s.db.QueryRow(`
		SELECT id, name, experiment_type, description, hypothesis, target_metric,
		       minimum_sample_size, confidence_level, status, start_date, end_date,
		       auto_deploy_winner, results, winning_variant_id, confidence_score,
		       created_at, updated_at
		FROM experiments WHERE id = ?
	`, id)

	exp, err := scanExperiment(row)
	if err != nil || exp == nil {
		return exp, err
	}

	variants, err := s.listVariants(exp.ID)
	if err != nil {
		return nil, err
	}
	exp.Variants = variants
	return exp, nil
}

// ListExperiments returns recent experiments, optionally filtered by status.
// Variants are loaded for each returned experiment.
func (s *Store) ListExperiments(status Status, limit int) ([]Experiment, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}

	query := `
		SELECT id, name, experiment_type, description, hypothesis, target_metric,
		       minimum_sample_size, confidence_level, status, start_date, end_date,
		       auto_deploy_winner, results, winning_variant_id, confidence_score,
		       created_at, updated_at
		FROM experiments
	`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var experiments []Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			continue
		}
		experiments = append(experiments, *exp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range experiments {
		variants, err := s.listVariants(experiments[i].ID)
		if err != nil {
			return nil, err
		}
		experiments[i].Variants = variants
	}
	return experiments, nil
}

// SaveAssignment inserts or updates an assignment row.
func (s *Store) SaveAssignment(a *Assignment) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if a == nil {
		return errors.New("assignment is nil")
	}
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}

	contextJSON, err := marshalJSON(a.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO experiment_assignments (
			id, experiment_id, variant_id, conversation_id, context,
			assigned_at, reward, outcome, rewarded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reward = excluded.reward,
			outcome = excluded.outcome,
			rewarded_at = excluded.rewarded_at
	`,
		a.ID,
		a.ExperimentID,
		a.VariantID,
		a.ConversationID,
		nullIfEmpty(contextJSON),
		a.AssignedAt,
		nullFloatPtr(a.Reward),
		nullIfEmpty(a.Outcome),
		nullTime(a.RewardedAt),
	)
	return err
}

// PendingAssignments returns assignments that have not yet received a
// reward; their conversations were still in flight when the rows were
// written.
func (s *Store) PendingAssignments(experimentID string) ([]Assignment, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if strings.TrimSpace(experimentID) == "" {
		return nil, errors.New("experiment id is required")
	}

	rows, err := s.db.Query(`
		SELECT id, experiment_id, variant_id, conversation_id, context, assigned_at
		FROM experiment_assignments
		WHERE experiment_id = ? AND reward IS NULL
		ORDER BY assigned_at, id
	`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		var contextJSON sql.NullString
		if err := rows.Scan(&a.ID, &a.ExperimentID, &a.VariantID, &a.ConversationID, &contextJSON, &a.AssignedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(contextJSON.String, &a.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ArmTotal aggregates persisted rewards for one variant.
type ArmTotal struct {
	VariantID        string
	Pulls            int
	CumulativeReward float64
}

// ArmTotals aggregates rewarded assignments per variant so bandit state can
// be rebuilt after a restart. Assignments that never received a reward are
// excluded; they never mutated the bandit in the first place.
func (s *Store) ArmTotals(experimentID string) ([]ArmTotal, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if strings.TrimSpace(experimentID) == "" {
		return nil, errors.New("experiment id is required")
	}

	rows, err := s.db.Query(`
		SELECT variant_id, COUNT(*), COALESCE(SUM(reward), 0)
		FROM experiment_assignments
		WHERE experiment_id = ? AND reward IS NOT NULL
		GROUP BY variant_id
	`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []ArmTotal
	for rows.Next() {
		var t ArmTotal
		if err := rows.Scan(&t.VariantID, &t.Pulls, &t.CumulativeReward); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var typ string
	var desc, hypo, results, winner sql.NullString
	var statusStr string
	var start, end sql.NullTime
	var autoDeploy int
	var confidence sql.NullFloat64

	if err := row.Scan(
		&exp.ID,
		&exp.Name,
		&typ,
		&desc,
		&hypo,
		&exp.TargetMetric,
		&exp.MinimumSampleSize,
		&exp.ConfidenceLevel,
		&statusStr,
		&start,
		&end,
		&autoDeploy,
		&results,
		&winner,
		&confidence,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	exp.Type = Type(typ)
	exp.Description = desc.String
	exp.Hypothesis = hypo.String
	exp.Status = Status(statusStr)
	exp.AutoDeployWinner = autoDeploy == 1
	exp.WinningVariantID = winner.String
	exp.ConfidenceScore = confidence.Float64
	if start.Valid {
		exp.StartDate = &start.Time
	}
	if end.Valid {
		exp.EndDate = &end.Time
	}
	if err := unmarshalJSON(results.String, &exp.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return &exp, nil
}

func (s *Store) listVariants(experimentID string) ([]Variant, error) {
	rows, err := s.db.Query(`
		SELECT id, name, variant_type, content, weight, active, created_at
		FROM experiment_variants
		WHERE experiment_id = ?
		ORDER BY created_at, id
	`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		var variantType, content sql.NullString
		var active int

		if err := rows.Scan(&v.ID, &v.Name, &variantType, &content, &v.Weight, &active, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Type = variantType.String
		v.Active = active == 1
		if err := unmarshalJSON(content.String, &v.Content); err != nil {
			return nil, fmt.Errorf("decode variant content: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func marshalJSON(value any) (string, error) {
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

func unmarshalJSON(raw string, target any) error {
	if target == nil {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), target)
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullFloatPtr(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullIfZeroFloat(value float64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pitchlab/pitchlab/pkg/bandit"
	"github.com/pitchlab/pitchlab/pkg/logging"
	"github.com/pitchlab/pitchlab/pkg/outcome"
	"github.com/pitchlab/pitchlab/pkg/telemetry"
)

// Deployer rolls out a winning variant once an experiment completes with
// high enough confidence.
type Deployer interface {
	DeployVariant(ctx context.Context, experimentType Type, variant *Variant) error
}

// Config tunes manager behavior.
type Config struct {
	// MaxActiveExperiments caps concurrent planning plus running experiments.
	MaxActiveExperiments int
	// MinimumDuration is how long an experiment must run before it can
	// complete, regardless of sample counts.
	MinimumDuration time.Duration
	// AutoDeployThreshold is the confidence required before a winning
	// variant is handed to the deployer.
	AutoDeployThreshold float64
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		MaxActiveExperiments: 5,
		MinimumDuration:      24 * time.Hour,
		AutoDeployThreshold:  0.95,
	}
}

// Dependencies holds the manager's collaborators. Any of them may be nil;
// persistence and observability degrade gracefully while the in-memory
// engine keeps working.
type Dependencies struct {
	Store     *Store
	Logger    *logging.Logger
	Telemetry *telemetry.Hub
	Deployer  Deployer
	// Clock overrides time.Now, letting tests drive the duration gate.
	Clock func() time.Time
}

// Manager owns the experiment registry: lifecycle transitions, bandit-driven
// variant assignment, reward attribution, and completion checks. In-memory
// state is authoritative; the store is written behind it on a best-effort
// basis, and store failures are logged and swallowed.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	deps        Dependencies
	analyzer    *Analyzer
	experiments map[string]*Experiment
	bandits     map[string]*bandit.Bandit
	assignments map[string]*Assignment
	now         func() time.Time
}

// NewManager constructs a manager. Zero config fields fall back to defaults.
func NewManager(cfg Config, deps Dependencies) *Manager {
	def := DefaultConfig()
	if cfg.MaxActiveExperiments <= 0 {
		cfg.MaxActiveExperiments = def.MaxActiveExperiments
	}
	if cfg.MinimumDuration <= 0 {
		cfg.MinimumDuration = def.MinimumDuration
	}
	if cfg.AutoDeployThreshold <= 0 {
		cfg.AutoDeployThreshold = def.AutoDeployThreshold
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:         cfg,
		deps:        deps,
		analyzer:    NewAnalyzer(),
		experiments: make(map[string]*Experiment),
		bandits:     make(map[string]*bandit.Bandit),
		assignments: make(map[string]*Assignment),
		now:         now,
	}
}

// CreateExperiment registers a new experiment in planning state. Returns
// (nil, nil) when the active experiment cap is reached; the refusal is
// logged, not an error, because hitting the cap is normal operation.
func (m *Manager) CreateExperiment(ctx context.Context, exp Experiment) (*Experiment, error) {
	if exp.Name == "" {
		return nil, errors.New("experiment name is required")
	}
	if len(exp.Variants) < 2 {
		return nil, errors.New("experiment needs at least two variants")
	}
	if exp.TargetMetric == "" {
		exp.TargetMetric = MetricConversionRate
	}
	if exp.MinimumSampleSize <= 0 {
		exp.MinimumSampleSize = 100
	}
	if exp.ConfidenceLevel <= 0 {
		exp.ConfidenceLevel = 0.95
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCountLocked() >= m.cfg.MaxActiveExperiments {
		m.deps.Logger.Warn(logging.CategoryExperiment, "experiment_cap_reached",
			"refusing to create experiment, active cap reached",
			map[string]any{"name": exp.Name, "cap": m.cfg.MaxActiveExperiments})
		return nil, nil
	}

	now := m.now()
	exp.ID = ulid.Make().String()
	exp.Status = StatusPlanning
	exp.CreatedAt = now
	exp.UpdatedAt = now
	for i := range exp.Variants {
		exp.Variants[i].ID = ulid.Make().String()
		exp.Variants[i].Active = true
		exp.Variants[i].CreatedAt = now
	}
	NormalizeWeights(exp.Variants)

	m.experiments[exp.ID] = &exp
	m.persistCreateLocked(&exp)

	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryExperiment,
		EventType:    "experiment_created",
		ExperimentID: exp.ID,
		Message:      exp.Name,
		Details:      map[string]any{"type": string(exp.Type), "variants": len(exp.Variants)},
	})
	m.deps.Telemetry.Publish(telemetry.Event{
		Type:         telemetry.EventExperimentCreated,
		ExperimentID: exp.ID,
		Data:         map[string]any{"name": exp.Name, "type": string(exp.Type)},
	})
	telemetry.SetActiveExperiments(m.activeCountLocked())

	copied := exp
	return &copied, nil
}

// StartExperiment moves a planning experiment to running and spins up its
// bandit.
func (m *Manager) StartExperiment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		// Fall back to the store so experiments created by a previous
		// process can still be started.
		loaded, err := m.deps.Store.GetExperiment(id)
		if err != nil || loaded == nil {
			return fmt.Errorf("experiment %s not found", id)
		}
		exp = loaded
		m.experiments[id] = exp
	}
	if !exp.Status.CanTransitionTo(StatusRunning) {
		return fmt.Errorf("cannot start experiment in status %s", exp.Status)
	}

	wasResumed := exp.Status == StatusPaused
	exp.Status = StatusRunning
	if exp.StartDate == nil {
		now := m.now()
		exp.StartDate = &now
	}
	if m.bandits[id] == nil {
		m.bandits[id] = bandit.New(exp.VariantIDs())
	}
	m.persistUpdateLocked(exp)

	eventType := telemetry.EventExperimentStarted
	logType := "experiment_started"
	if wasResumed {
		eventType = telemetry.EventExperimentResumed
		logType = "experiment_resumed"
	}
	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryExperiment,
		EventType:    logType,
		ExperimentID: id,
		Message:      exp.Name,
	})
	m.deps.Telemetry.Publish(telemetry.Event{Type: eventType, ExperimentID: id})
	return nil
}

// PauseExperiment suspends variant assignment for a running experiment.
// Bandit state is retained for resume.
func (m *Manager) PauseExperiment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		return fmt.Errorf("experiment %s not found", id)
	}
	if !exp.Status.CanTransitionTo(StatusPaused) {
		return fmt.Errorf("cannot pause experiment in status %s", exp.Status)
	}
	exp.Status = StatusPaused
	m.persistUpdateLocked(exp)

	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryExperiment,
		EventType:    "experiment_paused",
		ExperimentID: id,
	})
	m.deps.Telemetry.Publish(telemetry.Event{Type: telemetry.EventExperimentPaused, ExperimentID: id})
	return nil
}

// ResumeExperiment returns a paused experiment to running.
func (m *Manager) ResumeExperiment(ctx context.Context, id string) error {
	m.mu.Lock()
	status, ok := m.statusLocked(id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("experiment %s not found", id)
	}
	if status != StatusPaused {
		return fmt.Errorf("cannot resume experiment in status %s", status)
	}
	return m.StartExperiment(ctx, id)
}

// CancelExperiment terminates an experiment without declaring a winner.
func (m *Manager) CancelExperiment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		return fmt.Errorf("experiment %s not found", id)
	}
	if !exp.Status.CanTransitionTo(StatusCancelled) {
		return fmt.Errorf("cannot cancel experiment in status %s", exp.Status)
	}
	exp.Status = StatusCancelled
	now := m.now()
	exp.EndDate = &now
	m.persistUpdateLocked(exp)
	m.retireLocked(id)

	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryExperiment,
		EventType:    "experiment_cancelled",
		ExperimentID: id,
	})
	m.deps.Telemetry.Publish(telemetry.Event{Type: telemetry.EventExperimentCancelled, ExperimentID: id})
	telemetry.SetActiveExperiments(m.activeCountLocked())
	return nil
}

// AssignVariant picks a variant for the conversation via UCB1. Returns nil
// when the experiment is absent or not running; callers treat nil as "no
// experiment applies" and use their default behavior. Repeated calls for the
// same conversation return the originally assigned variant.
func (m *Manager) AssignVariant(ctx context.Context, experimentID, conversationID string, assignContext map[string]string) *Variant {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[experimentID]
	if !ok || exp.Status != StatusRunning {
		return nil
	}

	if existing, ok := m.assignments[conversationID]; ok && existing.ExperimentID == experimentID {
		return exp.Variant(existing.VariantID)
	}

	b := m.bandits[experimentID]
	variantID, ok := b.Select()
	if !ok {
		return nil
	}
	variant := exp.Variant(variantID)
	if variant == nil {
		return nil
	}

	a := &Assignment{
		ID:             ulid.Make().String(),
		ExperimentID:   experimentID,
		VariantID:      variantID,
		ConversationID: conversationID,
		Context:        assignContext,
		AssignedAt:     m.now(),
	}
	m.assignments[conversationID] = a
	if err := m.deps.Store.SaveAssignment(a); err != nil && !errors.Is(err, ErrStoreUnavailable) {
		m.logStoreError("save_assignment", experimentID, err)
	}

	m.deps.Telemetry.Publish(telemetry.Event{
		Type:           telemetry.EventVariantAssigned,
		ExperimentID:   experimentID,
		ConversationID: conversationID,
		Data:           map[string]any{"variant_id": variantID},
	})
	telemetry.RecordAssignment(string(exp.Type))
	return variant
}

// RecordOutcome attributes a finished conversation back to its assigned
// variant: the reward is computed from the experiment's target metric, the
// bandit arm updated, and a completion check run. Conversations that never
// received an assignment are ignored.
func (m *Manager) RecordOutcome(ctx context.Context, conversationID string, rec *outcome.Record) {
	if rec == nil {
		return
	}
	m.mu.Lock()
	deploy := m.recordOutcomeLocked(ctx, conversationID, rec)
	m.mu.Unlock()
	if deploy != nil {
		m.deployWinner(ctx, deploy)
	}
}

func (m *Manager) recordOutcomeLocked(ctx context.Context, conversationID string, rec *outcome.Record) *pendingDeploy {
	a, ok := m.assignments[conversationID]
	if !ok {
		return nil
	}
	exp, ok := m.experiments[a.ExperimentID]
	if !ok {
		delete(m.assignments, conversationID)
		return nil
	}

	reward := CalculateReward(rec, exp.TargetMetric)
	if err := m.bandits[exp.ID].Update(a.VariantID, reward); err != nil {
		m.deps.Logger.Error(logging.CategoryBandit, "bandit_update_failed", err.Error(),
			map[string]any{"experiment_id": exp.ID, "variant_id": a.VariantID})
		return nil
	}

	now := m.now()
	a.Reward = &reward
	a.Outcome = string(rec.Outcome)
	a.RewardedAt = &now
	delete(m.assignments, conversationID)
	if err := m.deps.Store.SaveAssignment(a); err != nil && !errors.Is(err, ErrStoreUnavailable) {
		m.logStoreError("save_reward", exp.ID, err)
	}

	m.deps.Telemetry.Publish(telemetry.Event{
		Type:           telemetry.EventRewardRecorded,
		ExperimentID:   exp.ID,
		ConversationID: conversationID,
		Data:           map[string]any{"variant_id": a.VariantID, "reward": reward},
	})
	telemetry.RecordReward(exp.TargetMetric)

	return m.checkCompletionLocked(ctx, exp)
}

// Stats is the reporting view over a live experiment.
type Stats struct {
	ExperimentID string
	Name         string
	Status       Status
	TargetMetric string
	TotalSamples int
	Arms         map[string]bandit.ArmStats
	Analysis     Analysis
}

// GetStats returns current bandit statistics and a significance analysis for
// the experiment, or nil if it is not in the registry.
func (m *Manager) GetStats(experimentID string) *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		return nil
	}
	b := m.bandits[experimentID]
	armStats := b.Stats()
	return &Stats{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		Status:       exp.Status,
		TargetMetric: exp.TargetMetric,
		TotalSamples: b.TotalPulls(),
		Arms:         armStats,
		Analysis:     m.analyzer.Analyze(armStats),
	}
}

// GetExperiment returns a copy of the registered experiment, or nil.
func (m *Manager) GetExperiment(id string) *Experiment {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.experiments[id]
	if !ok {
		return nil
	}
	copied := *exp
	copied.Variants = append([]Variant(nil), exp.Variants...)
	return &copied
}

// ListActive returns experiments currently in planning or running state.
func (m *Manager) ListActive() []Experiment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Experiment
	for _, exp := range m.experiments {
		if exp.Status == StatusPlanning || exp.Status == StatusRunning {
			out = append(out, *exp)
		}
	}
	return out
}

// CheckCompletions sweeps every running experiment through the completion
// gates. Called periodically by the scheduler and after each reward.
func (m *Manager) CheckCompletions(ctx context.Context) {
	m.mu.Lock()
	var deploys []*pendingDeploy
	for _, exp := range m.experiments {
		if exp.Status == StatusRunning {
			if d := m.checkCompletionLocked(ctx, exp); d != nil {
				deploys = append(deploys, d)
			}
		}
	}
	m.mu.Unlock()
	for _, d := range deploys {
		m.deployWinner(ctx, d)
	}
}

// LoadRunning restores running and paused experiments from the store,
// rebuilds their bandit state from rewarded assignment rows, and reloads
// in-flight assignments so conversations that straddle a restart still get
// their outcomes attributed.
func (m *Manager) LoadRunning(ctx context.Context) error {
	if m.deps.Store == nil {
		return nil
	}
	for _, status := range []Status{StatusRunning, StatusPaused} {
		experiments, err := m.deps.Store.ListExperiments(status, 0)
		if err != nil {
			return fmt.Errorf("list %s experiments: %w", status, err)
		}
		for i := range experiments {
			exp := experiments[i]
			totals, err := m.deps.Store.ArmTotals(exp.ID)
			if err != nil {
				return fmt.Errorf("load arm totals for %s: %w", exp.ID, err)
			}
			b := bandit.New(exp.VariantIDs())
			for _, t := range totals {
				if err := b.Seed(t.VariantID, t.Pulls, t.CumulativeReward); err != nil {
					m.deps.Logger.Warn(logging.CategoryBandit, "seed_unknown_arm",
						"persisted assignment references unknown variant",
						map[string]any{"experiment_id": exp.ID, "variant_id": t.VariantID})
				}
			}

			pending, err := m.deps.Store.PendingAssignments(exp.ID)
			if err != nil {
				return fmt.Errorf("load pending assignments for %s: %w", exp.ID, err)
			}

			m.mu.Lock()
			m.experiments[exp.ID] = &exp
			m.bandits[exp.ID] = b
			for i := range pending {
				a := pending[i]
				m.assignments[a.ConversationID] = &a
			}
			m.mu.Unlock()
		}
	}
	m.mu.Lock()
	telemetry.SetActiveExperiments(m.activeCountLocked())
	m.mu.Unlock()
	return nil
}

// pendingDeploy carries a winner out of the lock so the deployer runs with
// the registry released.
type pendingDeploy struct {
	experimentID   string
	experimentType Type
	variant        Variant
}

// checkCompletionLocked runs the three completion gates: enough samples,
// enough elapsed time, and a statistically significant winner at the
// experiment's own confidence level. Returns the deploy to perform once the
// lock is released, if any.
func (m *Manager) checkCompletionLocked(ctx context.Context, exp *Experiment) *pendingDeploy {
	if exp.Status != StatusRunning {
		return nil
	}
	b := m.bandits[exp.ID]
	if b.TotalPulls() < exp.MinimumSampleSize {
		return nil
	}
	if exp.StartDate == nil || m.now().Sub(*exp.StartDate) < m.cfg.MinimumDuration {
		return nil
	}
	analysis := m.analyzer.Analyze(b.Stats())
	if !analysis.HasWinner || analysis.Confidence < exp.ConfidenceLevel {
		return nil
	}
	return m.completeLocked(ctx, exp, analysis)
}

func (m *Manager) completeLocked(ctx context.Context, exp *Experiment, analysis Analysis) *pendingDeploy {
	exp.Status = StatusCompleted
	now := m.now()
	exp.EndDate = &now
	exp.WinningVariantID = analysis.WinningVariantID
	exp.ConfidenceScore = analysis.Confidence

	arms := make(map[string]any, len(analysis.Stats))
	for id, s := range analysis.Stats {
		arms[id] = map[string]any{
			"count":       s.Pulls,
			"mean_reward": s.MeanReward,
		}
	}
	exp.Results = map[string]any{
		"winning_variant_id": analysis.WinningVariantID,
		"confidence":         analysis.Confidence,
		"total_samples":      analysis.TotalSamples,
		"arms":               arms,
	}
	m.persistUpdateLocked(exp)

	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryExperiment,
		EventType:    "experiment_completed",
		ExperimentID: exp.ID,
		Message:      exp.Name,
		Details: map[string]any{
			"winning_variant_id": analysis.WinningVariantID,
			"confidence":         analysis.Confidence,
		},
	})
	m.deps.Telemetry.Publish(telemetry.Event{
		Type:         telemetry.EventExperimentCompleted,
		ExperimentID: exp.ID,
		Data:         exp.Results,
	})
	telemetry.RecordExperimentCompleted()

	var deploy *pendingDeploy
	if exp.AutoDeployWinner && analysis.Confidence >= m.cfg.AutoDeployThreshold && m.deps.Deployer != nil {
		if variant := exp.Variant(analysis.WinningVariantID); variant != nil {
			deploy = &pendingDeploy{
				experimentID:   exp.ID,
				experimentType: exp.Type,
				variant:        *variant,
			}
		}
	}

	m.retireLocked(exp.ID)
	telemetry.SetActiveExperiments(m.activeCountLocked())
	return deploy
}

// deployWinner hands the winning variant to the deployer. Runs without the
// registry lock held so a slow bus publish cannot stall assignment, and so
// deployers may call back into the manager.
func (m *Manager) deployWinner(ctx context.Context, d *pendingDeploy) {
	if err := m.deps.Deployer.DeployVariant(ctx, d.experimentType, &d.variant); err != nil {
		m.deps.Logger.Error(logging.CategoryDeploy, "deploy_failed", err.Error(),
			map[string]any{"experiment_id": d.experimentID, "variant_id": d.variant.ID})
		return
	}
	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategoryDeploy,
		EventType:    "winner_deployed",
		ExperimentID: d.experimentID,
		Details:      map[string]any{"variant_id": d.variant.ID},
	})
	m.deps.Telemetry.Publish(telemetry.Event{
		Type:         telemetry.EventWinnerDeployed,
		ExperimentID: d.experimentID,
		Data:         map[string]any{"variant_id": d.variant.ID},
	})
	telemetry.RecordWinnerDeployed()
}

// retireLocked drops a terminal experiment's bandit and pending assignments.
// The experiment record itself stays readable via GetExperiment.
func (m *Manager) retireLocked(id string) {
	delete(m.bandits, id)
	for conversationID, a := range m.assignments {
		if a.ExperimentID == id {
			delete(m.assignments, conversationID)
		}
	}
}

func (m *Manager) activeCountLocked() int {
	count := 0
	for _, exp := range m.experiments {
		if exp.Status == StatusPlanning || exp.Status == StatusRunning {
			count++
		}
	}
	return count
}

func (m *Manager) statusLocked(id string) (Status, bool) {
	exp, ok := m.experiments[id]
	if !ok {
		return "", false
	}
	return exp.Status, true
}

func (m *Manager) persistCreateLocked(exp *Experiment) {
	if err := m.deps.Store.CreateExperiment(exp); err != nil && !errors.Is(err, ErrStoreUnavailable) {
		m.logStoreError("create_experiment", exp.ID, err)
	}
}

func (m *Manager) persistUpdateLocked(exp *Experiment) {
	exp.UpdatedAt = m.now()
	if err := m.deps.Store.UpdateExperiment(exp); err != nil && !errors.Is(err, ErrStoreUnavailable) {
		m.logStoreError("update_experiment", exp.ID, err)
	}
}

func (m *Manager) logStoreError(op, experimentID string, err error) {
	m.deps.Logger.Log(logging.Event{
		Level:        logging.LevelError,
		Category:     logging.CategoryStorage,
		EventType:    op + "_failed",
		ExperimentID: experimentID,
		Message:      err.Error(),
	})
}

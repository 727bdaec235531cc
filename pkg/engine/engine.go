// Package engine wires the experimentation subsystem together: experiment
// manager, outcome tracker, and pattern miner composed behind one
// caller-facing API. The conversation layer holds a single *Engine and never
// reaches into collaborator internals.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pitchlab/pitchlab/pkg/bus"
	"github.com/pitchlab/pitchlab/pkg/config"
	"github.com/pitchlab/pitchlab/pkg/deploy"
	"github.com/pitchlab/pitchlab/pkg/experiment"
	"github.com/pitchlab/pitchlab/pkg/logging"
	"github.com/pitchlab/pitchlab/pkg/outcome"
	"github.com/pitchlab/pitchlab/pkg/pattern"
	"github.com/pitchlab/pitchlab/pkg/storage"
	"github.com/pitchlab/pitchlab/pkg/telemetry"
)

// Engine is the top-level coordinator for the adaptive experimentation
// subsystem. It owns the shared infrastructure (storage, logging, telemetry,
// bus) and composes the three domain collaborators explicitly.
type Engine struct {
	cfg config.Config

	store     *storage.Store
	logger    *logging.Logger
	hub       *telemetry.Hub
	messaging bus.MessageBus

	manager *experiment.Manager
	tracker *outcome.Tracker
	miner   *pattern.Miner

	completionSweep *experiment.Scheduler
	miningSweep     *pattern.Scheduler
}

// New builds a fully wired engine from configuration. The caller owns the
// returned engine's lifecycle: Start to launch background sweeps, Stop to
// tear everything down.
func New(cfg config.Config) (*Engine, error) {
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	logger, err := logging.NewLogger(filepath.Clean(cfg.Logging.Dir))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open logger: %w", err)
	}
	logger.SetMinLevel(logging.Level(cfg.Logging.MinLevel))

	var messaging bus.MessageBus
	if cfg.Bus.Enabled {
		messaging, err = bus.NewNATSBus(bus.Config{
			URL:     cfg.Bus.URL,
			Name:    cfg.Bus.Name,
			Timeout: 30 * time.Second,
		})
		if err != nil {
			logger.Close()
			store.Close()
			return nil, fmt.Errorf("connect bus: %w", err)
		}
	} else {
		messaging = bus.NewMemoryBus()
	}

	hub := telemetry.NewHub()

	manager := experiment.NewManager(
		experiment.Config{
			MaxActiveExperiments: cfg.Experiment.MaxActive,
			MinimumDuration:      cfg.Experiment.MinimumDuration,
			AutoDeployThreshold:  cfg.Experiment.AutoDeployThreshold,
		},
		experiment.Dependencies{
			Store:     experiment.NewStoreFromStorage(store),
			Logger:    logger,
			Telemetry: hub,
			Deployer:  deploy.NewBusDeployer(messaging, deploy.DefaultSubjectPrefix),
		},
	)

	outcomeStore := outcome.NewStoreFromStorage(store)
	tracker := outcome.NewTracker(outcome.TrackerDependencies{
		Store:        outcomeStore,
		Logger:       logger,
		Telemetry:    hub,
		AgentVersion: cfg.AgentVersion,
	})

	miner := pattern.NewMiner(
		pattern.Config{MinSampleSize: cfg.Mining.MinSampleSize},
		pattern.Dependencies{
			Outcomes:  outcomeStore,
			Store:     pattern.NewStoreFromStorage(store),
			Logger:    logger,
			Telemetry: hub,
			Bus:       messaging,
		},
	)

	return &Engine{
		cfg:             cfg,
		store:           store,
		logger:          logger,
		hub:             hub,
		messaging:       messaging,
		manager:         manager,
		tracker:         tracker,
		miner:           miner,
		completionSweep: experiment.NewScheduler(manager, cfg.Experiment.CompletionSweepEvery),
		miningSweep:     pattern.NewScheduler(miner, cfg.Mining.Interval, cfg.Mining.LookbackDays),
	}, nil
}

// Start restores running experiments from the store and launches the
// background completion and mining sweeps.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.manager.LoadRunning(ctx); err != nil {
		return fmt.Errorf("restore experiments: %w", err)
	}
	e.completionSweep.Start(ctx)
	e.miningSweep.Start(ctx)
	e.logger.Info(logging.CategoryEngine, "engine_started", "", nil)
	return nil
}

// Stop halts background sweeps and closes shared infrastructure.
func (e *Engine) Stop() error {
	e.completionSweep.Stop()
	e.miningSweep.Stop()
	e.hub.Close()

	var firstErr error
	if err := e.messaging.Close(); err != nil {
		firstErr = err
	}
	if err := e.logger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CreateExperiment registers a new experiment. Returns (nil, nil) at the
// active-experiment cap.
func (e *Engine) CreateExperiment(ctx context.Context, exp experiment.Experiment) (*experiment.Experiment, error) {
	return e.manager.CreateExperiment(ctx, exp)
}

// StartExperiment transitions an experiment to running.
func (e *Engine) StartExperiment(ctx context.Context, id string) error {
	return e.manager.StartExperiment(ctx, id)
}

// PauseExperiment suspends a running experiment.
func (e *Engine) PauseExperiment(ctx context.Context, id string) error {
	return e.manager.PauseExperiment(ctx, id)
}

// ResumeExperiment returns a paused experiment to running.
func (e *Engine) ResumeExperiment(ctx context.Context, id string) error {
	return e.manager.ResumeExperiment(ctx, id)
}

// CancelExperiment terminates an experiment without a winner.
func (e *Engine) CancelExperiment(ctx context.Context, id string) error {
	return e.manager.CancelExperiment(ctx, id)
}

// AssignVariant picks a variant for the conversation, or nil when no
// experiment applies. A nil return means the caller should use its default
// behavior; experimentation is never a blocking dependency.
func (e *Engine) AssignVariant(ctx context.Context, experimentID, conversationID string, assignContext map[string]string) *experiment.Variant {
	return e.manager.AssignVariant(ctx, experimentID, conversationID, assignContext)
}

// GetExperimentStats returns live bandit statistics and significance
// analysis for an experiment.
func (e *Engine) GetExperimentStats(experimentID string) *experiment.Stats {
	return e.manager.GetStats(experimentID)
}

// StartTrackingConversation begins outcome tracking for a conversation.
func (e *Engine) StartTrackingConversation(conversationID string, client outcome.ClientData, experimentAssignments []string) {
	e.tracker.StartConversation(conversationID, client, experimentAssignments)
}

// UpdateConversationMetrics folds one conversation turn into the live
// metrics.
func (e *Engine) UpdateConversationMetrics(conversationID string, msg outcome.Message, responseTimeSeconds float64, additionalMetrics map[string]float64) {
	e.tracker.UpdateMetrics(conversationID, msg, responseTimeSeconds, additionalMetrics)
}

// RecordConversationOutcome finalizes a conversation and feeds the resulting
// record to every experiment the conversation was assigned to. Returns the
// immutable record, or nil if the conversation was never tracked.
func (e *Engine) RecordConversationOutcome(ctx context.Context, conversationID string, final outcome.Outcome, tierRecommended string, tierAccepted *string, satisfactionScore *float64) *outcome.Record {
	rec := e.tracker.RecordOutcome(conversationID, final, tierRecommended, tierAccepted, satisfactionScore)
	if rec == nil {
		return nil
	}
	e.manager.RecordOutcome(ctx, conversationID, rec)
	return rec
}

// AnalyzeConversationPatterns runs an on-demand mining pass.
func (e *Engine) AnalyzeConversationPatterns(ctx context.Context, lookbackDays, minSampleSize int) ([]pattern.Pattern, error) {
	return e.miner.AnalyzeConversationPatterns(ctx, lookbackDays, minSampleSize)
}

// Telemetry exposes the engine's telemetry hub for subscribers.
func (e *Engine) Telemetry() *telemetry.Hub {
	return e.hub
}

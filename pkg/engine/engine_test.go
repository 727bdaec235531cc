package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchlab/pitchlab/pkg/config"
	"github.com/pitchlab/pitchlab/pkg/experiment"
	"github.com/pitchlab/pitchlab/pkg/outcome"
	"github.com/pitchlab/pitchlab/pkg/telemetry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "engine.db")
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	cfg.Experiment.MinimumDuration = time.Nanosecond
	cfg.AgentVersion = "test"

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Stop() })
	return e
}

func TestEngine_EndToEndConversationFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	exp, err := e.CreateExperiment(ctx, experiment.Experiment{
		Name:              "greeting tone",
		Type:              experiment.TypePromptVariant,
		TargetMetric:      experiment.MetricConversionRate,
		MinimumSampleSize: 1000,
		Variants: []experiment.Variant{
			{Name: "formal", Weight: 0.5},
			{Name: "casual", Weight: 0.5},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, exp)
	require.NoError(t, e.StartExperiment(ctx, exp.ID))

	events, unsubscribe := e.Telemetry().Subscribe()
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		convID := fmt.Sprintf("conv-%d", i)
		v := e.AssignVariant(ctx, exp.ID, convID, map[string]string{"channel": "web"})
		require.NotNil(t, v)

		e.StartTrackingConversation(convID, outcome.ClientData{InitialIntent: "compare plans"}, []string{exp.ID})
		e.UpdateConversationMetrics(convID, outcome.Message{Role: outcome.RoleUser, Content: "what does the pro plan cost?"}, 0, nil)
		e.UpdateConversationMetrics(convID, outcome.Message{Role: outcome.RoleAgent, Content: "I understand, let me explain the pricing."}, 1.2, nil)

		rec := e.RecordConversationOutcome(ctx, convID, outcome.OutcomeConverted, "pro", nil, nil)
		require.NotNil(t, rec)
		assert.Equal(t, outcome.OutcomeConverted, rec.Outcome)
		assert.Equal(t, "test", rec.AgentVersion)
	}

	stats := e.GetExperimentStats(exp.ID)
	require.NotNil(t, stats)
	assert.Equal(t, 10, stats.TotalSamples)
	assert.Equal(t, experiment.StatusRunning, stats.Status)

	sawAssignment := false
	deadline := time.After(time.Second)
	for !sawAssignment {
		select {
		case ev := <-events:
			if ev.Type == telemetry.EventVariantAssigned {
				sawAssignment = true
			}
		case <-deadline:
			t.Fatal("no variant assignment telemetry observed")
		}
	}
}

func TestEngine_RestartRestoresRunningExperiments(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "engine.db")
	cfg.Logging.Dir = filepath.Join(dir, "logs")
	ctx := context.Background()

	first, err := New(cfg)
	require.NoError(t, err)
	exp, err := first.CreateExperiment(ctx, experiment.Experiment{
		Name:         "survives restart",
		Type:         experiment.TypeStrategyTest,
		TargetMetric: experiment.MetricConversionRate,
		Variants: []experiment.Variant{
			{Name: "a", Weight: 0.5},
			{Name: "b", Weight: 0.5},
		},
	})
	require.NoError(t, err)
	require.NoError(t, first.StartExperiment(ctx, exp.ID))

	// Attribute one outcome so there is bandit state to rebuild.
	v := first.AssignVariant(ctx, exp.ID, "conv-1", nil)
	require.NotNil(t, v)
	first.StartTrackingConversation("conv-1", outcome.ClientData{}, []string{exp.ID})
	require.NotNil(t, first.RecordConversationOutcome(ctx, "conv-1", outcome.OutcomeConverted, "pro", nil, nil))
	require.NoError(t, first.Stop())

	second, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { second.Stop() })
	require.NoError(t, second.Start(ctx))

	stats := second.GetExperimentStats(exp.ID)
	require.NotNil(t, stats, "running experiment should be restored after restart")
	assert.Equal(t, experiment.StatusRunning, stats.Status)
	assert.Equal(t, 1, stats.TotalSamples, "bandit state should be rebuilt from rewarded assignments")

	assert.NotNil(t, second.AssignVariant(ctx, exp.ID, "conv-2", nil))
}

func TestEngine_UntrackedOutcomeReturnsNil(t *testing.T) {
	e := newTestEngine(t)
	assert.Nil(t, e.RecordConversationOutcome(context.Background(), "ghost", outcome.OutcomeLost, "", nil, nil))
}

func TestEngine_MiningPassOnEmptyCorpus(t *testing.T) {
	e := newTestEngine(t)
	patterns, err := e.AnalyzeConversationPatterns(context.Background(), 30, 10)
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

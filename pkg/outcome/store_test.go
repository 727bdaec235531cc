package outcome

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchlab/pitchlab/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "outcomes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromStorage(db)
}

func sampleRecord(id string, recordedAt time.Time) *Record {
	satisfaction := 8.0
	tier := "pro"
	return &Record{
		OutcomeID:             id,
		ConversationID:        "conv-" + id,
		ClientArchetype:       "analytical_buyer",
		ClientDemographics:    map[string]any{"occupation": "engineer"},
		InitialIntent:         "compare plans",
		StrategiesUsed:        []string{"empathy", "roi_pitch"},
		ExperimentAssignments: []string{"exp-1"},
		Outcome:               OutcomeConverted,
		Metrics: Metrics{
			DurationSeconds:          320,
			TotalMessages:            14,
			UserMessages:             7,
			AgentMessages:            7,
			AvgResponseSeconds:       1.8,
			EngagementScore:          8.2,
			SatisfactionScore:        &satisfaction,
			EmotionalStability:       0.8,
			ConversionProbability:    0.85,
			TierRecommended:          "pro",
			TierAccepted:             &tier,
			ObjectionsRaised:         1,
			ObjectionsResolved:       1,
			ExplanationEffectiveness: 0.7,
		},
		SuccessFactors:   []string{"conversion_achieved"},
		LearningInsights: []string{"roi pitch worked for analytical_buyer"},
		AgentVersion:     "1.0.0",
		RecordedAt:       recordedAt,
	}
}

func TestStore_InsertAndListSince(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.InsertOutcome(sampleRecord("old", now.Add(-48*time.Hour))))
	require.NoError(t, s.InsertOutcome(sampleRecord("new", now)))

	records, err := s.ListSince(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "new", rec.OutcomeID)
	assert.Equal(t, OutcomeConverted, rec.Outcome)
	assert.Equal(t, "analytical_buyer", rec.ClientArchetype)
	assert.Equal(t, []string{"empathy", "roi_pitch"}, rec.StrategiesUsed)
	assert.Equal(t, []string{"exp-1"}, rec.ExperimentAssignments)
	require.NotNil(t, rec.Metrics.SatisfactionScore)
	assert.Equal(t, 8.0, *rec.Metrics.SatisfactionScore)
	require.NotNil(t, rec.Metrics.TierAccepted)
	assert.Equal(t, "pro", *rec.Metrics.TierAccepted)
	assert.Equal(t, 1, rec.Metrics.ObjectionsRaised)
	assert.Equal(t, "engineer", rec.ClientDemographics["occupation"])
}

func TestStore_ListSinceOrdersOldestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.InsertOutcome(sampleRecord("b", base.Add(time.Hour))))
	require.NoError(t, s.InsertOutcome(sampleRecord("a", base)))

	records, err := s.ListSince(base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].OutcomeID)
	assert.Equal(t, "b", records[1].OutcomeID)
}

func TestStore_NilReceiver(t *testing.T) {
	var s *Store
	assert.ErrorIs(t, s.InsertOutcome(sampleRecord("x", time.Now())), ErrStoreUnavailable)
	_, err := s.ListSince(time.Now())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestStore_MinimalRecord(t *testing.T) {
	s := newTestStore(t)
	rec := &Record{
		OutcomeID:      "minimal",
		ConversationID: "conv-minimal",
		Outcome:        OutcomeAbandoned,
		RecordedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.InsertOutcome(rec))

	records, err := s.ListSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, OutcomeAbandoned, records[0].Outcome)
	assert.Nil(t, records[0].Metrics.SatisfactionScore)
	assert.Nil(t, records[0].Metrics.TierAccepted)
	assert.Empty(t, records[0].StrategiesUsed)
}

package pattern

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
	db, err := storage.New(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreFromStorage(db)
}

func samplePattern(id, name string, discoveredAt time.Time) *Pattern {
	return &Pattern{
		PatternID:               id,
		PatternName:             name,
		PatternType:             TypeStrategyArchetype,
		Description:             "test pattern",
		Conditions:              map[string]any{"strategy": "empathy"},
		Outcomes:                map[string]any{"conversion_rate": 0.8},
		ConfidenceScore:         0.8,
		SampleSize:              20,
		EffectSize:              0.3,
		StatisticalSignificance: 0.8,
		ApplicableArchetypes:    []string{"general_consumer"},
		RecommendedActions:      []string{"use empathy early"},
		ImplementationPriority:  PriorityHigh,
		DiscoveredAt:            discoveredAt,
		ValidationFrequencyDays: 30,
	}
}

func TestStore_InsertAndList(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.InsertPattern(samplePattern("p1", "empathy works", now)))

	patterns, err := s.ListPatterns("", 0)
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, "empathy works", p.PatternName)
	assert.Equal(t, "empathy", p.Conditions["strategy"])
	assert.Equal(t, 0.8, p.Outcomes["conversion_rate"])
	assert.Equal(t, []string{"general_consumer"}, p.ApplicableArchetypes)
	assert.Equal(t, PriorityHigh, p.ImplementationPriority)
	assert.Equal(t, 30, p.ValidationFrequencyDays)
	assert.Nil(t, p.LastValidated)
}

func TestStore_ListFiltersByType(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	strategy := samplePattern("p1", "a", now)
	timing := samplePattern("p2", "b", now)
	timing.PatternType = TypeExplanationTiming
	require.NoError(t, s.InsertPattern(strategy))
	require.NoError(t, s.InsertPattern(timing))

	got, err := s.ListPatterns(TypeExplanationTiming, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].PatternID)
}

func TestStore_LatestByNameSupersedes(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	old := samplePattern("p1", "empathy works", base)
	old.ConfidenceScore = 0.6
	newer := samplePattern("p2", "empathy works", base.Add(time.Hour))
	newer.ConfidenceScore = 0.9
	require.NoError(t, s.InsertPattern(old))
	require.NoError(t, s.InsertPattern(newer))

	// Both rows survive; the old version is superseded, not deleted.
	all, err := s.ListPatterns("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	latest, err := s.LatestByName()
	require.NoError(t, err)
	require.Contains(t, latest, "empathy works")
	assert.Equal(t, "p2", latest["empathy works"].PatternID)
	assert.Equal(t, 0.9, latest["empathy works"].ConfidenceScore)
}

func TestStore_NilReceiver(t *testing.T) {
	var s *Store
	assert.ErrorIs(t, s.InsertPattern(samplePattern("p", "n", time.Now())), ErrStoreUnavailable)
	_, err := s.ListPatterns("", 0)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

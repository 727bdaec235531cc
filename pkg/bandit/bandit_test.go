package bandit

import (
	"math"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want int
	}{
		{"empty", nil, 0},
		{"two arms", []string{"a", "b"}, 2},
		{"skips duplicates", []string{"a", "a", "b"}, 2},
		{"skips empty ids", []string{"a", "", "b"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.ids)
			if got := len(b.Arms()); got != tt.want {
				t.Errorf("len(Arms()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelect_EmptyBandit(t *testing.T) {
	b := New(nil)
	if _, ok := b.Select(); ok {
		t.Error("Select() on empty bandit should return false")
	}
}

func TestSelect_TriesEveryArmBeforeExploiting(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	b := New(ids)

	seen := make(map[string]bool)
	for i := 0; i < len(ids); i++ {
		id, ok := b.Select()
		if !ok {
			t.Fatal("Select() returned false")
		}
		if seen[id] {
			t.Fatalf("Select() returned already-pulled arm %q before all arms were tried", id)
		}
		seen[id] = true
		if err := b.Update(id, 0.5); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("got %d distinct arms, want %d", len(seen), len(ids))
	}
}

func TestSelect_FavorsHigherMeanReward(t *testing.T) {
	b := New([]string{"weak", "strong"})

	for i := 0; i < 50; i++ {
		_ = b.Update("weak", 0.1)
		_ = b.Update("strong", 0.9)
	}

	id, ok := b.Select()
	if !ok || id != "strong" {
		t.Errorf("Select() = %q, want %q", id, "strong")
	}
}

func TestSelect_DeterministicTieBreak(t *testing.T) {
	b := New([]string{"first", "second"})
	_ = b.Update("first", 0.5)
	_ = b.Update("second", 0.5)

	for i := 0; i < 10; i++ {
		id, _ := b.Select()
		if id != "first" {
			t.Fatalf("Select() = %q on identical arms, want first-seen %q", id, "first")
		}
	}
}

func TestUpdate_UnknownArm(t *testing.T) {
	b := New([]string{"a"})
	if err := b.Update("nope", 1.0); err != ErrUnknownArm {
		t.Errorf("Update(unknown) error = %v, want ErrUnknownArm", err)
	}
}

func TestUpdate_RewardMonotonicity(t *testing.T) {
	b := New([]string{"a", "b"})
	const reward = 0.7
	for i := 0; i < 8; i++ {
		_ = b.Update("a", reward)
	}

	stats := b.Stats()
	a := stats["a"]
	if math.Abs(a.MeanReward-reward) > 1e-9 {
		t.Errorf("MeanReward = %v, want %v", a.MeanReward, reward)
	}
	if a.Pulls != 8 {
		t.Errorf("Pulls = %d, want 8", a.Pulls)
	}
	if a.SelectionProbability != 1.0 {
		t.Errorf("SelectionProbability = %v, want 1.0", a.SelectionProbability)
	}
}

func TestStats_ZeroHistory(t *testing.T) {
	b := New([]string{"a", "b"})
	stats := b.Stats()

	for _, id := range []string{"a", "b"} {
		s, ok := stats[id]
		if !ok {
			t.Fatalf("Stats() missing unpulled arm %q", id)
		}
		if s.Pulls != 0 || s.TotalReward != 0 || s.MeanReward != 0 || s.SelectionProbability != 0 {
			t.Errorf("Stats()[%q] = %+v, want zero values", id, s)
		}
	}
}

func TestSeed_RestoresState(t *testing.T) {
	b := New([]string{"a", "b"})
	if err := b.Seed("a", 20, 14.0); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	if err := b.Seed("b", 10, 2.0); err != nil {
		t.Fatalf("Seed() error: %v", err)
	}

	if b.TotalPulls() != 30 {
		t.Errorf("TotalPulls() = %d, want 30", b.TotalPulls())
	}
	stats := b.Stats()
	if got := stats["a"].MeanReward; math.Abs(got-0.7) > 1e-9 {
		t.Errorf("seeded mean reward = %v, want 0.7", got)
	}

	// Exploitation should prefer the better seeded arm.
	id, _ := b.Select()
	if id != "a" {
		t.Errorf("Select() after seed = %q, want %q", id, "a")
	}
}

func TestSelect_NoClampOnRawRewards(t *testing.T) {
	b := New([]string{"a"})
	_ = b.Update("a", 3.5)
	_ = b.Update("a", -1.5)

	stats := b.Stats()
	if got := stats["a"].TotalReward; math.Abs(got-2.0) > 1e-9 {
		t.Errorf("TotalReward = %v, want raw sum 2.0", got)
	}
}

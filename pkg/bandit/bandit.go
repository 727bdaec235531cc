// Package bandit implements UCB1 multi-armed bandit selection over
// experiment variants. The bandit balances exploration of under-sampled
// variants against exploitation of known-good ones.
package bandit

import (
	"errors"
	"math"
	"math/rand"
)

// ErrUnknownArm indicates an update for a variant that was never registered.
var ErrUnknownArm = errors.New("bandit: unknown arm")

// Arm holds pull counts and cumulative reward for one variant.
type Arm struct {
	VariantID        string
	Pulls            int
	CumulativeReward float64
}

// MeanReward returns the average observed reward, or 0 for an unpulled arm.
func (a *Arm) MeanReward() float64 {
	if a == nil || a.Pulls == 0 {
		return 0
	}
	return a.CumulativeReward / float64(a.Pulls)
}

// ArmStats summarizes one arm for reporting.
type ArmStats struct {
	VariantID            string  `json:"variant_id"`
	Pulls                int     `json:"count"`
	TotalReward          float64 `json:"total_reward"`
	MeanReward           float64 `json:"mean_reward"`
	SelectionProbability float64 `json:"selection_probability"`
}

// Bandit tracks per-variant arms and selects the next variant via UCB1.
// Arms keep first-seen order so tie-breaks stay deterministic. Not safe
// for concurrent use; the owning manager serializes access.
type Bandit struct {
	arms       []Arm
	index      map[string]int
	totalPulls int
}

// New constructs a bandit with one arm per variant ID. Empty and duplicate
// IDs are ignored.
func New(variantIDs []string) *Bandit {
	b := &Bandit{index: make(map[string]int, len(variantIDs))}
	for _, id := range variantIDs {
		if id == "" {
			continue
		}
		if _, ok := b.index[id]; ok {
			continue
		}
		b.index[id] = len(b.arms)
		b.arms = append(b.arms, Arm{VariantID: id})
	}
	return b
}

// Select returns the variant to show next. With no pull history the choice
// is uniform random; otherwise every unpulled arm is treated as having an
// infinite UCB score, so each arm is tried once before exploitation begins.
// Ties resolve to the first-seen arm. Returns false if no arms exist.
func (b *Bandit) Select() (string, bool) {
	if b == nil || len(b.arms) == 0 {
		return "", false
	}
	if b.totalPulls == 0 {
		return b.arms[rand.Intn(len(b.arms))].VariantID, true
	}

	// An unpulled arm always wins; first one found keeps selection O(arms)
	// and allocation-free.
	for i := range b.arms {
		if b.arms[i].Pulls == 0 {
			return b.arms[i].VariantID, true
		}
	}

	logTotal := math.Log(float64(b.totalPulls))
	best := 0
	bestScore := math.Inf(-1)
	for i := range b.arms {
		arm := &b.arms[i]
		score := arm.MeanReward() + math.Sqrt(2*logTotal/float64(arm.Pulls))
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return b.arms[best].VariantID, true
}

// Update records a reward observation for the given variant. The raw value
// is stored unclamped; callers are responsible for reward scaling.
func (b *Bandit) Update(variantID string, reward float64) error {
	if b == nil {
		return ErrUnknownArm
	}
	i, ok := b.index[variantID]
	if !ok {
		return ErrUnknownArm
	}
	b.arms[i].Pulls++
	b.arms[i].CumulativeReward += reward
	b.totalPulls++
	return nil
}

// Seed restores an arm's pull count and cumulative reward from persisted
// history. Used when rebuilding bandit state on process restart.
func (b *Bandit) Seed(variantID string, pulls int, cumulativeReward float64) error {
	if b == nil {
		return ErrUnknownArm
	}
	i, ok := b.index[variantID]
	if !ok {
		return ErrUnknownArm
	}
	if pulls < 0 {
		pulls = 0
	}
	b.totalPulls += pulls - b.arms[i].Pulls
	b.arms[i].Pulls = pulls
	b.arms[i].CumulativeReward = cumulativeReward
	return nil
}

// TotalPulls returns the number of recorded observations across all arms.
func (b *Bandit) TotalPulls() int {
	if b == nil {
		return 0
	}
	return b.totalPulls
}

// Arms returns a copy of the arm states in first-seen order.
func (b *Bandit) Arms() []Arm {
	if b == nil {
		return nil
	}
	return append([]Arm(nil), b.arms...)
}

// Stats returns per-variant statistics keyed by variant ID. Unpulled arms
// report zero values rather than being omitted.
func (b *Bandit) Stats() map[string]ArmStats {
	if b == nil {
		return map[string]ArmStats{}
	}
	total := b.totalPulls
	if total < 1 {
		total = 1
	}
	stats := make(map[string]ArmStats, len(b.arms))
	for i := range b.arms {
		arm := &b.arms[i]
		stats[arm.VariantID] = ArmStats{
			VariantID:            arm.VariantID,
			Pulls:                arm.Pulls,
			TotalReward:          arm.CumulativeReward,
			MeanReward:           arm.MeanReward(),
			SelectionProbability: float64(arm.Pulls) / float64(total),
		}
	}
	return stats
}

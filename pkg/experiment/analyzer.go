package experiment

import (
	"math"

	"github.com/pitchlab/pitchlab/pkg/bandit"
)

// Analysis summarizes a significance check over an experiment's arms.
type Analysis struct {
	HasWinner        bool
	WinningVariantID string
	Confidence       float64
	TotalSamples     int
	Stats            map[string]bandit.ArmStats
}

// Analyzer decides whether one variant is significantly better than its
// closest competitors.
//
// The confidence estimate maps the two-proportion z statistic through
// min(0.99, z/3). That is a coarse approximation carried over from the
// system this framework replaced, kept for behavioral parity with historical
// experiment data; it is not a true z-to-p mapping.
type Analyzer struct {
	// MinSamplesPerArm excludes arms with this many pulls or fewer from the
	// comparison (they still count toward TotalSamples). The best arm is held
	// to the same floor, so a winner is never declared from a thin best arm.
	MinSamplesPerArm int
	// MinImprovement is the absolute mean-reward gap required before a
	// comparison is attempted.
	MinImprovement float64
	// WinnerConfidence is the confidence at which a winner is declared.
	WinnerConfidence float64
}

// NewAnalyzer returns an analyzer with the framework defaults.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		MinSamplesPerArm: 10,
		MinImprovement:   0.05,
		WinnerConfidence: 0.8,
	}
}

// Analyze compares the best-performing arm against every sufficiently
// sampled competitor. Never errors: zero samples or degenerate inputs yield
// the no-winner default.
func (a *Analyzer) Analyze(stats map[string]bandit.ArmStats) Analysis {
	result := Analysis{Stats: stats}
	if a == nil || len(stats) == 0 {
		return result
	}

	total := 0
	var best *bandit.ArmStats
	for id := range stats {
		s := stats[id]
		total += s.Pulls
		if s.Pulls == 0 {
			continue
		}
		if best == nil || s.MeanReward > best.MeanReward {
			copied := s
			best = &copied
		}
	}
	result.TotalSamples = total
	if best == nil || total == 0 || best.Pulls <= a.MinSamplesPerArm {
		return result
	}

	for id := range stats {
		other := stats[id]
		if other.VariantID == best.VariantID || other.Pulls <= a.MinSamplesPerArm {
			continue
		}
		diff := best.MeanReward - other.MeanReward
		if diff <= a.MinImprovement {
			continue
		}
		confidence := comparisonConfidence(best.MeanReward, best.Pulls, other.MeanReward, other.Pulls, diff)
		if confidence > result.Confidence {
			result.Confidence = confidence
			result.WinningVariantID = best.VariantID
		}
	}

	result.HasWinner = result.Confidence >= a.WinnerConfidence
	if !result.HasWinner {
		result.WinningVariantID = ""
	}
	return result
}

// comparisonConfidence computes the standard error of the difference of two
// proportions and maps z = diff/se through the legacy min(0.99, z/3)
// heuristic. A zero standard error with a real gap means the arms separated
// perfectly, which caps out the scale.
func comparisonConfidence(p1 float64, n1 int, p2 float64, n2 int, diff float64) float64 {
	se := math.Sqrt(p1*(1-p1)/float64(n1) + p2*(1-p2)/float64(n2))
	if math.IsNaN(se) {
		return 0
	}
	if se == 0 {
		return 0.99
	}
	return math.Min(0.99, (diff/se)/3.0)
}

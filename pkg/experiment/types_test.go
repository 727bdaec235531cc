package experiment

import (
	"math"
	"testing"
)

func TestNormalizeWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		want    []float64
	}{
		{"already normalized", []float64{0.5, 0.5}, []float64{0.5, 0.5}},
		{"within tolerance untouched", []float64{0.495, 0.5}, []float64{0.495, 0.5}},
		{"rescales proportionally", []float64{0.3, 0.3, 0.3}, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
		{"all zero becomes uniform", []float64{0, 0, 0, 0}, []float64{0.25, 0.25, 0.25, 0.25}},
		{"negative treated as zero", []float64{-1, 2}, []float64{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			variants := make([]Variant, len(tt.weights))
			for i, w := range tt.weights {
				variants[i].Weight = w
			}
			NormalizeWeights(variants)
			sum := 0.0
			for i, v := range variants {
				if math.Abs(v.Weight-tt.want[i]) > 1e-9 {
					t.Errorf("weight[%d] = %v, want %v", i, v.Weight, tt.want[i])
				}
				sum += v.Weight
			}
			if math.Abs(sum-1.0) > 1e-6 {
				t.Errorf("weights sum to %v, want 1.0", sum)
			}
		})
	}
}

func TestNormalizeWeights_Idempotent(t *testing.T) {
	variants := []Variant{{Weight: 0.3}, {Weight: 0.3}, {Weight: 0.3}}
	NormalizeWeights(variants)
	first := []float64{variants[0].Weight, variants[1].Weight, variants[2].Weight}
	NormalizeWeights(variants)
	for i := range variants {
		if variants[i].Weight != first[i] {
			t.Errorf("second normalization changed weight[%d] from %v to %v", i, first[i], variants[i].Weight)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPlanning, StatusRunning, true},
		{StatusPlanning, StatusCancelled, true},
		{StatusPlanning, StatusCompleted, false},
		{StatusRunning, StatusPaused, true},
		{StatusRunning, StatusAnalyzing, true},
		{StatusRunning, StatusCompleted, true},
		{StatusPaused, StatusRunning, true},
		{StatusPaused, StatusCompleted, false},
		{StatusAnalyzing, StatusCompleted, true},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestExperimentVariantLookup(t *testing.T) {
	exp := &Experiment{Variants: []Variant{{ID: "a"}, {ID: "b"}}}
	if v := exp.Variant("b"); v == nil || v.ID != "b" {
		t.Errorf("Variant(%q) = %+v", "b", v)
	}
	if v := exp.Variant("missing"); v != nil {
		t.Errorf("Variant(missing) = %+v, want nil", v)
	}
	var nilExp *Experiment
	if v := nilExp.Variant("a"); v != nil {
		t.Errorf("nil experiment Variant() = %+v, want nil", v)
	}
}

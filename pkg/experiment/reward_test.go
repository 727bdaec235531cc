package experiment

import (
	"math"
	"testing"

	"github.com/pitchlab/pitchlab/pkg/outcome"
)

func floatPtr(v float64) *float64 { return &v }

func TestCalculateReward_ConversionRate(t *testing.T) {
	tests := []struct {
		name string
		rec  *outcome.Record
		want float64
	}{
		{"converted", &outcome.Record{Outcome: outcome.OutcomeConverted}, 1.0},
		{"lost", &outcome.Record{Outcome: outcome.OutcomeLost}, 0.0},
		{"abandoned", &outcome.Record{Outcome: outcome.OutcomeAbandoned}, 0.0},
		{"nil record", nil, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateReward(tt.rec, MetricConversionRate); got != tt.want {
				t.Errorf("CalculateReward() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateReward_Engagement(t *testing.T) {
	rec := &outcome.Record{Metrics: outcome.Metrics{EngagementScore: 7.5}}
	if got := CalculateReward(rec, MetricEngagementScore); got != 0.75 {
		t.Errorf("CalculateReward() = %v, want 0.75", got)
	}

	// Out-of-range scores clamp instead of leaking outside [0,1].
	rec.Metrics.EngagementScore = 15
	if got := CalculateReward(rec, MetricEngagementScore); got != 1.0 {
		t.Errorf("CalculateReward() with score 15 = %v, want 1.0", got)
	}
}

func TestCalculateReward_Satisfaction(t *testing.T) {
	rec := &outcome.Record{Metrics: outcome.Metrics{SatisfactionScore: floatPtr(8)}}
	if got := CalculateReward(rec, MetricSatisfactionScore); got != 0.8 {
		t.Errorf("CalculateReward() = %v, want 0.8", got)
	}

	rec.Metrics.SatisfactionScore = nil
	if got := CalculateReward(rec, MetricSatisfactionScore); got != 0.5 {
		t.Errorf("CalculateReward() without score = %v, want neutral 0.5", got)
	}
}

func TestCalculateReward_TimeToClose(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    float64
	}{
		{"under optimum", 300, 1.0},
		{"at optimum", 420, 1.0},
		{"halfway through decay", 420 + 1050, 0.5},
		{"past decay window floors", 10000, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &outcome.Record{Metrics: outcome.Metrics{DurationSeconds: tt.seconds}}
			got := CalculateReward(rec, MetricTimeToClose)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CalculateReward(%v) = %v, want %v", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestCalculateReward_UnknownMetricUsesConversion(t *testing.T) {
	rec := &outcome.Record{Outcome: outcome.OutcomeConverted}
	if got := CalculateReward(rec, "made_up_metric"); got != 1.0 {
		t.Errorf("CalculateReward() = %v, want conversion fallback 1.0", got)
	}
}

func TestCalculateReward_AlwaysInUnitInterval(t *testing.T) {
	metrics := []string{MetricConversionRate, MetricEngagementScore, MetricSatisfactionScore, MetricTimeToClose, ""}
	records := []*outcome.Record{
		nil,
		{},
		{Outcome: outcome.OutcomeConverted},
		{Metrics: outcome.Metrics{EngagementScore: -3, DurationSeconds: -100}},
		{Metrics: outcome.Metrics{EngagementScore: 99, DurationSeconds: 1e9, SatisfactionScore: floatPtr(40)}},
	}
	for _, metric := range metrics {
		for _, rec := range records {
			got := CalculateReward(rec, metric)
			if got < 0 || got > 1 {
				t.Errorf("CalculateReward(%+v, %q) = %v, outside [0,1]", rec, metric, got)
			}
		}
	}
}

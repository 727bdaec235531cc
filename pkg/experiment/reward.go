package experiment

import (
	"github.com/pitchlab/pitchlab/pkg/outcome"
)

// timeToCloseOptimumSeconds is the conversation duration at or under which a
// time_to_close experiment earns full reward. Roughly seven minutes.
const timeToCloseOptimumSeconds = 420.0

// timeToCloseDecaySeconds is the window over which reward decays linearly
// past the optimum before hitting the floor.
const timeToCloseDecaySeconds = 2100.0

// timeToCloseFloor is the minimum reward for any finished conversation.
const timeToCloseFloor = 0.1

// CalculateReward maps a conversation outcome to a scalar reward in [0,1]
// for the experiment's target metric. Total by design: unknown metrics and
// missing fields fall back to the conversion rule or a neutral default, and
// no input combination panics.
func CalculateReward(rec *outcome.Record, targetMetric string) float64 {
	if rec == nil {
		return 0
	}
	switch targetMetric {
	case MetricEngagementScore:
		return clamp01(rec.Metrics.EngagementScore / 10.0)
	case MetricSatisfactionScore:
		if rec.Metrics.SatisfactionScore == nil {
			return 0.5
		}
		return clamp01(*rec.Metrics.SatisfactionScore / 10.0)
	case MetricTimeToClose:
		return timeToCloseReward(rec.Metrics.DurationSeconds)
	case MetricConversionRate:
		return conversionReward(rec)
	default:
		return conversionReward(rec)
	}
}

func conversionReward(rec *outcome.Record) float64 {
	if rec.Outcome == outcome.OutcomeConverted {
		return 1.0
	}
	return 0.0
}

func timeToCloseReward(durationSeconds float64) float64 {
	if durationSeconds <= timeToCloseOptimumSeconds {
		return 1.0
	}
	reward := 1.0 - (durationSeconds-timeToCloseOptimumSeconds)/timeToCloseDecaySeconds
	if reward < timeToCloseFloor {
		return timeToCloseFloor
	}
	return reward
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

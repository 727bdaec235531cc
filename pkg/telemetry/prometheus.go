package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveExperiments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pitchlab",
		Name:      "experiments_active_total",
		Help:      "Number of experiments currently in planning or running state.",
	})
	metricAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchlab",
		Name:      "variant_assignments_total",
		Help:      "Variant assignments handed to conversations, by experiment type.",
	}, []string{"experiment_type"})
	metricRewards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchlab",
		Name:      "rewards_recorded_total",
		Help:      "Rewards attributed back to bandit arms, by target metric.",
	}, []string{"target_metric"})
	metricExperimentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitchlab",
		Name:      "experiments_completed_total",
		Help:      "Experiments that reached a statistically significant winner.",
	})
	metricWinnersDeployed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pitchlab",
		Name:      "winners_deployed_total",
		Help:      "Winning variants automatically deployed.",
	})
	metricOutcomesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchlab",
		Name:      "conversation_outcomes_total",
		Help:      "Finalized conversation outcome records, by outcome label.",
	}, []string{"outcome"})
	metricPatternsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchlab",
		Name:      "patterns_discovered_total",
		Help:      "Behavioral patterns emitted by mining passes, by pattern type.",
	}, []string{"pattern_type"})
)

// SetActiveExperiments records the current active experiment count.
func SetActiveExperiments(count int) {
	metricActiveExperiments.Set(float64(count))
}

// RecordAssignment counts a variant assignment.
func RecordAssignment(experimentType string) {
	metricAssignments.WithLabelValues(experimentType).Inc()
}

// RecordReward counts a reward attribution.
func RecordReward(targetMetric string) {
	metricRewards.WithLabelValues(targetMetric).Inc()
}

// RecordExperimentCompleted counts an experiment completion.
func RecordExperimentCompleted() {
	metricExperimentsCompleted.Inc()
}

// RecordWinnerDeployed counts an auto-deployment.
func RecordWinnerDeployed() {
	metricWinnersDeployed.Inc()
}

// RecordOutcome counts a finalized conversation outcome.
func RecordOutcome(outcome string) {
	metricOutcomesRecorded.WithLabelValues(outcome).Inc()
}

// RecordPatternDiscovered counts a mined pattern.
func RecordPatternDiscovered(patternType string) {
	metricPatternsDiscovered.WithLabelValues(patternType).Inc()
}

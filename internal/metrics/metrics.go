// Package metrics exposes Prometheus collectors for the quorum engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful agent dispatches.
	OutcomeSuccess = "success"
	// OutcomeFailure labels failed agent dispatches.
	OutcomeFailure = "failure"
)

var (
	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "incidents_total",
			Help:      "Total incidents reaching a terminal state, partitioned by state.",
		},
		[]string{"state"},
	)

	roundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "rounds_total",
			Help:      "Total consensus rounds executed.",
		},
	)

	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "agent_dispatches_total",
			Help:      "Total agent dispatches, partitioned by role and outcome.",
		},
		[]string{"role", "outcome"},
	)

	dispatchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quorum",
			Name:      "agent_dispatch_seconds",
			Help:      "Agent dispatch latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"role"},
	)

	consensusConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quorum",
			Name:      "consensus_weighted_confidence",
			Help:      "Weighted confidence of consensus decisions.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	breakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "breaker_trips_total",
			Help:      "Total circuit breaker trips, partitioned by agent role.",
		},
		[]string{"role"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "escalations_total",
			Help:      "Total escalations to a human, partitioned by reason.",
		},
		[]string{"reason"},
	)

	telemetryDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quorum",
			Name:      "telemetry_events_dropped_total",
			Help:      "Telemetry events dropped because a subscriber was slow or absent.",
		},
	)
)

// Register attaches all quorum collectors to the supplied registerer.
// Re-registration is tolerated so tests can use fresh registries.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsTotal,
		roundsTotal,
		dispatchesTotal,
		dispatchSeconds,
		consensusConfidence,
		breakerTripsTotal,
		escalationsTotal,
		telemetryDroppedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTerminalState counts an incident reaching a terminal state.
func ObserveTerminalState(state string) {
	incidentsTotal.WithLabelValues(state).Inc()
}

// ObserveRound counts one executed consensus round.
func ObserveRound() {
	roundsTotal.Inc()
}

// ObserveDispatch records one agent dispatch with its duration and outcome.
func ObserveDispatch(role string, duration time.Duration, outcome string) {
	if outcome != OutcomeSuccess {
		outcome = OutcomeFailure
	}
	dispatchesTotal.WithLabelValues(role, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	dispatchSeconds.WithLabelValues(role).Observe(duration.Seconds())
}

// ObserveConsensus records the weighted confidence of a decision.
func ObserveConsensus(weightedConfidence float64) {
	consensusConfidence.Observe(weightedConfidence)
}

// ObserveBreakerTrip counts a circuit breaker trip for an agent role.
func ObserveBreakerTrip(role string) {
	breakerTripsTotal.WithLabelValues(role).Inc()
}

// ObserveEscalation counts an escalation by reason.
func ObserveEscalation(reason string) {
	escalationsTotal.WithLabelValues(reason).Inc()
}

// ObserveTelemetryDrop counts a dropped telemetry event.
func ObserveTelemetryDrop() {
	telemetryDroppedTotal.Inc()
}

// Package prometheus provides Prometheus metrics for call sessions and their collaborators.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callkit"

var (
	// callsActive is a gauge of calls currently in progress.
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently in progress",
		},
	)

	// callsTotal is a counter of finished calls by end reason.
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of finished calls",
		},
		[]string{"reason"}, // complete, exchange_limit, questions_exhausted, transport_closed, invariant_violation
	)

	// callDuration is a histogram of call durations.
	callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Histogram of call durations in seconds",
			Buckets:   []float64{5, 15, 30, 60, 90, 120, 180, 300, 600},
		},
	)

	// callCompletion is a histogram of the completion ratio at call end.
	callCompletion = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_completion_ratio",
			Help:      "Share of required fields filled when the call ended",
			Buckets:   []float64{0, .25, .5, .75, 1},
		},
	)

	// stateTransitions is a counter of orchestrator transitions.
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of dialogue state transitions",
		},
		[]string{"from", "to"},
	)

	// collaboratorDuration is a histogram of external collaborator call durations.
	collaboratorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_duration_seconds",
			Help:      "Duration of recognition, reasoning and synthesis calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"collaborator", "status"}, // status: success, error
	)

	// fallbacksTotal is a counter of fallbacks taken by the orchestrator.
	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of soft-fail fallbacks",
		},
		[]string{"reason"}, // timeout, error, synthesis, degraded
	)

	// framesDropped is a counter of dropped frames and windows.
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of dropped audio frames or windows",
		},
		[]string{"stage"}, // inbound, recognizer, orchestrator
	)

	// turnLatency is a histogram of the time from turn-yield to first agent audio.
	turnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from the turn-yield decision to the first outbound frame",
			Buckets:   []float64{.1, .25, .5, .75, 1, 1.5, 2, 3, 5, 10},
		},
	)

	// utterancesTotal is a counter of final utterances by speaker.
	utterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total number of final utterances",
		},
		[]string{"speaker"}, // caller, agent
	)

	// fieldsCollected is a counter of collected field values.
	fieldsCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_collected_total",
			Help:      "Total number of collected field values",
		},
		[]string{"field"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		callsActive,
		callsTotal,
		callDuration,
		callCompletion,
		stateTransitions,
		collaboratorDuration,
		fallbacksTotal,
		framesDropped,
		turnLatency,
		utterancesTotal,
		fieldsCollected,
	}
)

// RecordCallStart records a call start.
func RecordCallStart() {
	callsActive.Inc()
}

// RecordCallEnd records a finished call.
func RecordCallEnd(reason string, durationSeconds, completion float64) {
	callsActive.Dec()
	callsTotal.WithLabelValues(reason).Inc()
	callDuration.Observe(durationSeconds)
	callCompletion.Observe(completion)
}

// RecordStateTransition records an orchestrator transition.
func RecordStateTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordCollaboratorCall records a call to an external collaborator.
func RecordCollaboratorCall(collaborator, status string, durationSeconds float64) {
	collaboratorDuration.WithLabelValues(collaborator, status).Observe(durationSeconds)
}

// RecordFallback records a soft-fail fallback.
func RecordFallback(reason string) {
	fallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordFramesDropped records dropped frames at a pipeline stage.
func RecordFramesDropped(stage string, count int) {
	if count > 0 {
		framesDropped.WithLabelValues(stage).Add(float64(count))
	}
}

// RecordTurnLatency records the time to first agent audio.
func RecordTurnLatency(seconds float64) {
	if seconds > 0 {
		turnLatency.Observe(seconds)
	}
}

// RecordUtterance records a final utterance.
func RecordUtterance(speaker string) {
	utterancesTotal.WithLabelValues(speaker).Inc()
}

// RecordFieldCollected records a collected field value.
func RecordFieldCollected(field string) {
	fieldsCollected.WithLabelValues(field).Inc()
}

package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "chrona_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	triggerDecisions *prometheus.CounterVec
	dedupSuppressed  *prometheus.CounterVec
	storeFailOpen    prometheus.Counter
	registryFallback prometheus.Counter

	sessionOutcomes  *prometheus.CounterVec
	sessionDurations *prometheus.HistogramVec

	gateOutcomes *prometheus.CounterVec

	sequenceOutcomes *prometheus.CounterVec
	missionRetries   prometheus.Counter
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		triggerDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trigger_decisions_total",
				Help: "Total trigger routing decisions by kind and action",
			},
			[]string{"kind", "action"},
		)
		dedupSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dedup_suppressed_total",
				Help: "Total trigger events suppressed by a dedup window",
			},
			[]string{"window"},
		)
		storeFailOpen = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_fail_open_total",
				Help: "Total dedup checks that failed open on storage errors",
			},
		)
		registryFallback = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "registry_snapshot_fallback_total",
				Help: "Total registry reads served from the event snapshot",
			},
		)

		sessionOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "session_outcomes_total",
				Help: "Total mission session outcomes by challenge kind and result",
			},
			[]string{"kind", "result"},
		)
		sessionDurations = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "session_duration_seconds",
				Help:    "Mission session duration in seconds",
				Buckets: []float64{15, 30, 60, 120, 180, 300, 450, 600},
			},
			[]string{"kind", "result"},
		)

		gateOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "wakecheck_gate_total",
				Help: "Total wake-check gate outcomes",
			},
			[]string{"outcome"},
		)

		sequenceOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sequence_outcomes_total",
				Help: "Total mission sequence outcomes by result",
			},
			[]string{"result"},
		)
		missionRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "mission_retries_total",
				Help: "Total sticky mission retries",
			},
		)

		prometheus.MustRegister(
			triggerDecisions,
			dedupSuppressed,
			storeFailOpen,
			registryFallback,
			sessionOutcomes,
			sessionDurations,
			gateOutcomes,
			sequenceOutcomes,
			missionRetries,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncTriggerDecision counts a routing decision.
func IncTriggerDecision(kind, action string) {
	if kind == "" {
		kind = "unknown"
	}
	if action == "" {
		action = "unknown"
	}
	if triggerDecisions != nil {
		triggerDecisions.WithLabelValues(kind, action).Inc()
	}
}

// IncDedupSuppressed counts a suppressed trigger by window name.
func IncDedupSuppressed(window string) {
	if window == "" {
		window = "unknown"
	}
	if dedupSuppressed != nil {
		dedupSuppressed.WithLabelValues(window).Inc()
	}
}

// IncStoreFailOpen counts a dedup check that failed open.
func IncStoreFailOpen() {
	if storeFailOpen != nil {
		storeFailOpen.Inc()
	}
}

// IncRegistryFallback counts a registry read served from a snapshot.
func IncRegistryFallback() {
	if registryFallback != nil {
		registryFallback.Inc()
	}
}

// ObserveSessionOutcome records a terminal session outcome and its duration.
func ObserveSessionOutcome(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if sessionOutcomes != nil {
		sessionOutcomes.WithLabelValues(kind, result).Inc()
	}
	if sessionDurations != nil {
		sessionDurations.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncGateOutcome counts a wake-check gate outcome.
func IncGateOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if gateOutcomes != nil {
		gateOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncSequenceOutcome counts a sequence result.
func IncSequenceOutcome(result string) {
	if result == "" {
		result = "unknown"
	}
	if sequenceOutcomes != nil {
		sequenceOutcomes.WithLabelValues(result).Inc()
	}
}

// IncMissionRetry counts one sticky retry.
func IncMissionRetry() {
	if missionRetries != nil {
		missionRetries.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine Metrics
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_mutations_total",
			Help: "Total number of accepted mutations by kind and the sync phase they reached",
		},
		[]string{"kind", "phase"}, // phase: "confirmed-remote", "queued-for-retry", "applied-locally"
	)

	MutationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_mutation_errors_total",
			Help: "Total number of mutations rejected by kind and error kind",
		},
		[]string{"kind", "error_kind"},
	)

	MutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placesync_mutation_duration_seconds",
			Help:    "End-to-end mutation latency including lock wait and remote write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	// Scheduler Metrics
	SchedulerTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_scheduler_triggers_total",
			Help: "Total number of scheduler triggers by source and what became of them",
		},
		[]string{"trigger", "result"}, // result: "ran", "coalesced", "skipped"
	)

	// Lock Metrics
	LockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placesync_lock_wait_seconds",
			Help:    "Time spent waiting for the engine lock",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 3, 5, 8},
		},
		[]string{"owner", "granted"},
	)

	LockForceReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_lock_force_releases_total",
			Help: "Total number of stale lock holders reclaimed by the watchdog",
		},
		[]string{"owner"},
	)

	// Reconciliation Metrics
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_reconcile_runs_total",
			Help: "Total number of reconciliation runs by routine and result",
		},
		[]string{"routine", "result"}, // routine: "process-queue", "full-refresh"
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placesync_reconcile_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"routine"},
	)

	ReconcileOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_reconcile_operations_total",
			Help: "Total number of replayed operations by outcome",
		},
		[]string{"outcome"}, // "processed", "skipped", "failed"
	)

	LastSyncTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "placesync_last_sync_timestamp_seconds",
			Help: "Unix timestamp of the last confirmed remote write or refresh",
		},
	)

	// Remote Store Metrics
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placesync_remote_request_duration_seconds",
			Help:    "Remote store call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "collection"},
	)

	RemoteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placesync_remote_errors_total",
			Help: "Total number of failed remote store calls",
		},
		[]string{"op", "collection", "error_type"}, // "not_found", "transport"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)
)

// RecordMutation records an accepted mutation and the phase it reached.
func RecordMutation(kind, phase string, duration time.Duration) {
	MutationsTotal.WithLabelValues(kind, phase).Inc()
	MutationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordMutationError records a rejected mutation.
func RecordMutationError(kind, errorKind string) {
	MutationErrors.WithLabelValues(kind, errorKind).Inc()
}

// RecordLockWait records one lock acquisition attempt.
func RecordLockWait(owner string, waited time.Duration, granted bool) {
	LockWait.WithLabelValues(owner, strconv.FormatBool(granted)).Observe(waited.Seconds())
}

// RecordLockForceRelease records a watchdog reclaim.
func RecordLockForceRelease(owner string) {
	LockForceReleases.WithLabelValues(owner).Inc()
}

// RecordReconcile records a reconciliation run.
func RecordReconcile(routine string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	ReconcileRuns.WithLabelValues(routine, result).Inc()
	ReconcileDuration.WithLabelValues(routine).Observe(duration.Seconds())
}

// RecordReplayOutcomes records per-operation outcomes of a process-queue pass.
func RecordReplayOutcomes(processed, skipped, failed int) {
	ReconcileOperations.WithLabelValues("processed").Add(float64(processed))
	ReconcileOperations.WithLabelValues("skipped").Add(float64(skipped))
	ReconcileOperations.WithLabelValues("failed").Add(float64(failed))
}

// RecordSchedulerTrigger records one scheduler trigger.
func RecordSchedulerTrigger(trigger, result string) {
	SchedulerTriggers.WithLabelValues(trigger, result).Inc()
}

// RecordSync sets the last-sync timestamp.
func RecordSync(at time.Time) {
	LastSyncTimestamp.Set(float64(at.Unix()))
}

// RecordRemoteCall records a remote store call. errorType is empty on success.
func RecordRemoteCall(op, collection string, duration time.Duration, errorType string) {
	RemoteRequestDuration.WithLabelValues(op, collection).Observe(duration.Seconds())
	if errorType != "" {
		RemoteErrors.WithLabelValues(op, collection, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

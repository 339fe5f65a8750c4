// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

// Package metrics registers the Prometheus collectors for terminal polling,
// roster sync, backend calls and the status API. Queue metrics live with the
// queue package.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Terminal polling
	TerminalPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_terminal_polls_total",
			Help: "Total number of terminal poll attempts",
		},
		[]string{"terminal", "result"}, // result: "success", "failure"
	)

	TerminalRecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_terminal_records_read_total",
			Help: "Total number of attendance records read from terminals",
		},
		[]string{"terminal"},
	)

	TerminalConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zkbridge_terminal_connected",
			Help: "Whether the last poll reached the terminal (1) or not (0)",
		},
		[]string{"terminal"},
	)

	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zkbridge_poll_cycle_duration_seconds",
			Help:    "Duration of a full poll cycle over all terminals",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Chunk protocol
	ChunkAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_chunk_attempts_total",
			Help: "Total number of roster chunk delivery attempts",
		},
		[]string{"terminal", "result"},
	)

	ChunkAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zkbridge_chunk_attempt_duration_seconds",
			Help:    "Duration of a single chunk delivery attempt",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// Roster sync
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_sync_runs_total",
			Help: "Total number of roster sync runs by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "complete", "stalled", "empty", "failed", "skipped"
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkbridge_sync_run_duration_seconds",
			Help:    "Duration of roster sync runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	SyncTerminalChunk = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zkbridge_sync_terminal_chunk_index",
			Help: "Current chunk index of each terminal in the running sync",
		},
		[]string{"terminal"},
	)

	RosterBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_roster_batches_total",
			Help: "Total number of incremental roster batches applied to terminals",
		},
		[]string{"operation", "result"}, // operation: "write", "delete"
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zkbridge_sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync run",
		},
		[]string{"type"},
	)

	// Backend gateway
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_backend_requests_total",
			Help: "Total number of backend HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkbridge_backend_request_duration_seconds",
			Help:    "Backend HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zkbridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Status API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zkbridge_api_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zkbridge_api_request_duration_seconds",
			Help:    "Status API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zkbridge_api_active_requests",
			Help: "Status API requests currently in flight",
		},
	)

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zkbridge_websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zkbridge_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)
)

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordTerminalPoll records the outcome of polling one terminal.
func RecordTerminalPoll(terminal string, ok bool, records int) {
	TerminalPollsTotal.WithLabelValues(terminal, resultLabel(ok)).Inc()
	if ok {
		TerminalConnected.WithLabelValues(terminal).Set(1)
		TerminalRecordsRead.WithLabelValues(terminal).Add(float64(records))
	} else {
		TerminalConnected.WithLabelValues(terminal).Set(0)
	}
}

// ObservePollCycle records the duration of a poll cycle.
func ObservePollCycle(d time.Duration) {
	PollCycleDuration.Observe(d.Seconds())
}

// RecordChunkAttempt counts one chunk delivery attempt.
func RecordChunkAttempt(terminal, result string) {
	ChunkAttemptsTotal.WithLabelValues(terminal, result).Inc()
}

// ObserveChunkLatency records the duration of one chunk attempt.
func ObserveChunkLatency(seconds float64) {
	ChunkAttemptDuration.Observe(seconds)
}

// RecordSyncRun records a finished roster sync run.
func RecordSyncRun(syncType, outcome string, d time.Duration) {
	SyncRunsTotal.WithLabelValues(syncType, outcome).Inc()
	SyncRunDuration.WithLabelValues(syncType).Observe(d.Seconds())
	if outcome == "complete" || outcome == "empty" {
		SyncLastSuccess.WithLabelValues(syncType).Set(float64(time.Now().Unix()))
	}
}

// SetTerminalChunk publishes a terminal's chunk index during a run.
func SetTerminalChunk(terminal string, index int) {
	SyncTerminalChunk.WithLabelValues(terminal).Set(float64(index))
}

// RecordRosterBatch counts one incremental batch.
func RecordRosterBatch(operation string, ok bool) {
	RosterBatchesTotal.WithLabelValues(operation, resultLabel(ok)).Inc()
}

// RecordBackendRequest records one backend HTTP call. status is the HTTP code
// or "error" when no response was received.
func RecordBackendRequest(endpoint, status string, d time.Duration) {
	BackendRequestsTotal.WithLabelValues(endpoint, status).Inc()
	BackendRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordAPIRequest records a status API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight API request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

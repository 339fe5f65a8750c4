// ZK Bridge - Biometric Terminal Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/zkbridge

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the offline event queue
var (
	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkbridge_queue_enqueued_total",
		Help: "Total number of attendance events persisted to the offline queue",
	}, []string{"backend"})

	queueEnqueueFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkbridge_queue_enqueue_failures_total",
		Help: "Total number of attendance events that could not be persisted",
	}, []string{"backend"})

	queueRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkbridge_queue_removed_total",
		Help: "Total number of queued events removed after upload",
	}, []string{"backend"})

	queuePendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zkbridge_queue_pending_records",
		Help: "Number of events waiting in the offline queue at the last listing",
	}, []string{"backend"})

	uploadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkbridge_upload_attempts_total",
		Help: "Total number of event upload attempts by result",
	}, []string{"result"})
)

// RecordEnqueue increments the enqueue counter.
func RecordEnqueue(backend string) {
	queueEnqueuedTotal.WithLabelValues(backend).Inc()
}

// RecordEnqueueFailure increments the enqueue failure counter.
func RecordEnqueueFailure(backend string) {
	queueEnqueueFailures.WithLabelValues(backend).Inc()
}

// RecordRemove increments the removal counter.
func RecordRemove(backend string) {
	queueRemovedTotal.WithLabelValues(backend).Inc()
}

// UpdatePendingRecords sets the pending gauge.
func UpdatePendingRecords(backend string, n int) {
	queuePendingRecords.WithLabelValues(backend).Set(float64(n))
}

// RecordUploadAttempt counts one upload attempt. result is "success" or "failure".
func RecordUploadAttempt(result string) {
	uploadAttemptsTotal.WithLabelValues(result).Inc()
}

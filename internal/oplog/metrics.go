// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package oplog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the operation log
var (
	oplogPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "placesync_oplog_pending_operations",
		Help: "Current number of pending operations per user",
	}, []string{"user_id"})

	oplogAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placesync_oplog_appends_total",
		Help: "Total number of operations recorded by kind and result (appended, replaced, folded)",
	}, []string{"kind", "result"})

	oplogRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placesync_oplog_removed_total",
		Help: "Total number of operations removed after replay or discard",
	})

	oplogRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placesync_oplog_retries_total",
		Help: "Total number of failed replay attempts by kind",
	}, []string{"kind"})

	oplogSupersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placesync_oplog_superseded_total",
		Help: "Total number of operations dropped because a later operation superseded them",
	}, []string{"kind"})
)

// UpdatePending sets the pending gauge for a user.
func UpdatePending(userID string, n int) {
	oplogPending.WithLabelValues(userID).Set(float64(n))
}

// RecordAppend records an Append outcome.
func RecordAppend(k Kind, r AppendResult) {
	oplogAppendsTotal.WithLabelValues(k.String(), r.String()).Inc()
}

// RecordRemoved records removed operations.
func RecordRemoved(n int) {
	if n > 0 {
		oplogRemovedTotal.Add(float64(n))
	}
}

// RecordRetry records a failed replay attempt.
func RecordRetry(k Kind) {
	oplogRetriesTotal.WithLabelValues(k.String()).Inc()
}

// RecordSuperseded records an operation dropped by supersession.
func RecordSuperseded(k Kind) {
	oplogSupersededTotal.WithLabelValues(k.String()).Inc()
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the local store
var (
	storeWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placesync_store_writes_total",
		Help: "Total number of local store record writes by table and operation",
	}, []string{"table", "op"})

	storeCorruptRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "placesync_store_corrupt_records_total",
		Help: "Total number of local records dropped because they failed to parse",
	}, []string{"table"})

	storeGCRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placesync_store_gc_runs_total",
		Help: "Total number of BadgerDB value-log GC runs",
	})

	storeGCLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "placesync_store_gc_latency_seconds",
		Help:    "BadgerDB value-log GC latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	storeCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "placesync_store_cache_entries",
		Help: "Current number of entries in the saved-mark existence cache",
	})

	storeCacheExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "placesync_store_cache_expired_total",
		Help: "Total number of existence cache entries removed by expiry sweeps",
	})
)

// RecordWrite records a record write.
func RecordWrite(table Table, op string) {
	storeWritesTotal.WithLabelValues(string(table), op).Inc()
}

// RecordCorrupt records dropped corrupt records.
func RecordCorrupt(table Table, n int) {
	storeCorruptRecordsTotal.WithLabelValues(string(table)).Add(float64(n))
}

// RecordGCRun records a GC run and its latency.
func RecordGCRun(seconds float64) {
	storeGCRunsTotal.Inc()
	storeGCLatency.Observe(seconds)
}

// UpdateCacheEntries sets the cache size gauge.
func UpdateCacheEntries(n int) {
	storeCacheEntries.Set(float64(n))
}

// RecordCacheExpired records entries removed by an expiry sweep.
func RecordCacheExpired(n int) {
	storeCacheExpired.Add(float64(n))
}

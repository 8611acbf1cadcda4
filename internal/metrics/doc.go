// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

/*
Package metrics provides Prometheus metrics for the sync engine and its
HTTP surface.

# Overview

The package provides metrics for:
  - mutation outcomes per operation kind and phase reached
  - lock wait time, timeouts and force releases
  - reconciliation passes (process-queue and full-refresh)
  - remote store call latency and circuit breaker state
  - HTTP API requests and WebSocket connections

Store and operation log metrics live next to their packages
(placesync_store_*, placesync_oplog_*).

# Metrics Endpoint

Metrics are exposed at /metrics in Prometheus text format:

	curl http://localhost:8080/metrics

# Available Metrics

Engine:
  - placesync_mutations_total{kind, phase}
  - placesync_mutation_errors_total{kind, error_kind}
  - placesync_mutation_duration_seconds{kind}
  - placesync_lock_wait_seconds{owner, granted}
  - placesync_lock_force_releases_total{owner}
  - placesync_reconcile_runs_total{routine, result}
  - placesync_reconcile_operations_total{outcome}
  - placesync_last_sync_timestamp_seconds
  - placesync_scheduler_triggers_total{trigger, result}

Remote:
  - placesync_remote_request_duration_seconds{op, collection}
  - placesync_remote_errors_total{op, collection, error_type}
  - circuit_breaker_state{name} (0=closed, 1=half-open, 2=open)
  - circuit_breaker_requests_total{name, result}
  - circuit_breaker_consecutive_failures{name}
  - circuit_breaker_state_transitions_total{name, from_state, to_state}

API:
  - api_requests_total{method, endpoint, status}
  - api_request_duration_seconds{method, endpoint}
  - api_active_requests
  - websocket_connections, websocket_messages_sent_total, websocket_errors_total{error_type}
*/
package metrics

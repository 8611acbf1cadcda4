// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

/*
Package middleware provides HTTP middleware shared by the API router.

Key Components:

  - RequestID: UUID request ids, echoed in X-Request-ID and attached to the
    logging context together with a fresh correlation id
  - PrometheusMetrics: request count, latency and in-flight gauge, labelled
    by chi route pattern rather than raw path
  - SecurityHeaders: nosniff, frame denial, referrer policy and HSTS behind TLS

All middleware has the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.SecurityHeaders)

Ordering matters: RequestID must run first so every later log line carries
the request id.
*/
package middleware

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

/*
Package api provides the HTTP surface of Placesync.

Every handler acts on the engine of the signed-in session and answers in
the standard envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "SYNC_BUSY", "message": "..."}, "meta": {...}}

# Routes

	GET    /api/v1/health/live
	GET    /api/v1/health/ready
	GET    /metrics

	POST   /api/v1/session                     sign in
	DELETE /api/v1/session                     sign out

	GET    /api/v1/saved
	GET    /api/v1/saved/{entityID}
	POST   /api/v1/saved/{entityID}/toggle
	DELETE /api/v1/saved/{entityID}

	POST   /api/v1/visits                      schedule
	GET    /api/v1/visits/planned
	GET    /api/v1/visits/history
	PATCH  /api/v1/visits/{visitID}
	DELETE /api/v1/visits/{visitID}
	POST   /api/v1/visits/{visitID}/complete
	POST   /api/v1/visits/{visitID}/review

	GET    /api/v1/sync/status
	GET    /api/v1/sync/pending
	POST   /api/v1/sync                        process-queue then full-refresh
	POST   /api/v1/sync/queue
	POST   /api/v1/sync/refresh

	GET    /api/v1/ws                          websocket event stream

	/remote/v1/...                             remote document store (remote.mode=memory)

# Status Codes

Mutations answer 200 once the remote store confirmed them and 202 when they
are applied locally and queued. Engine error kinds map as follows:

	invalid_argument     400 VALIDATION_FAILED
	unauthenticated      401 UNAUTHORIZED
	busy                 503 SYNC_BUSY, with Retry-After
	offline              503 OFFLINE
	remote_transport     502 EXTERNAL_SERVICE_FAILED
	corrupt_local_state  500 LOCAL_STATE_CORRUPT
	internal             500 INTERNAL_ERROR

A request with no signed-in user gets 401 NO_SESSION.

# Authentication

With auth.jwt_secret set, every /api/v1 route except health requires a
bearer token (or ?token= for the websocket) and the token's user must be
the signed-in user. Without a secret the API trusts its caller, which suits
a single-user device.
*/
package api

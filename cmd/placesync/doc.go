// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package main is the entry point for the Placesync server.
//
// Placesync keeps a user's saved places, planned visits and visit history in
// a local BadgerDB mirror, applies every change optimistically and replays
// queued intents against the remote document store once it is reachable.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, config.yaml and environment (Koanf v2)
//  2. Local store: BadgerDB mirror, op log and existence cache
//  3. Remote store: HTTP client or in-process memory store, behind a circuit breaker
//  4. Network monitor: health-URL prober, or always online
//  5. Event bus and WebSocket hub for live sync events
//  6. Supervisor tree: data, messaging and API layers
//  7. Session: the engine and scheduler of the signed-in user
//  8. HTTP server: REST API, metrics and WebSocket
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// Commonly set variables:
//   - STORE_PATH: BadgerDB directory
//   - REMOTE_MODE: "memory" (default) or "http"
//   - REMOTE_BASE_URL, REMOTE_TOKEN: the document store backend
//   - NETWORK_PROBE_URL: health URL that drives the online signal
//   - STATIC_USER_ID: sign this user in at boot
//   - JWT_SECRET: 32+ character secret; enables bearer authentication
//
// # Commands
//
//	placesync               run the server
//	placesync token <user>  print a bearer token for user (needs JWT_SECRET)
//
// # Signal Handling
//
// SIGINT and SIGTERM end the active session, stop the supervisor tree
// (draining in-flight requests) and close the local store.
//
// # Example Usage
//
// Single-user device against a remote backend:
//
//	export STORE_PATH=$HOME/.placesync
//	export REMOTE_MODE=http
//	export REMOTE_BASE_URL=https://places.example.com
//	export REMOTE_TOKEN=secret
//	export NETWORK_PROBE_URL=https://places.example.com/healthz
//	export STATIC_USER_ID=u-123
//	./placesync
//
// Self-contained development server:
//
//	export STORE_IN_MEMORY=true
//	export STATIC_USER_ID=dev
//	./placesync
package main

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

/*
Package services provides suture.Service wrappers for Placesync components.

Components keep whatever lifecycle suits them (Start/Stop, a blocking
RunWithContext, ListenAndServe); the wrappers here translate each into
suture's context-aware Serve so the supervisor tree can restart them.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe to Serve with a bounded Shutdown

WebSocket Hub (WebSocketHubService):
  - Delegates to websocket.Hub.RunWithContext
  - Closes connected clients on shutdown

Sync Scheduler (SchedulerService):
  - Wraps scheduler.Scheduler's Start/Stop lifecycle
  - One instance per signed-in session, removed on logout

Services that already implement Serve (websocket.Relay, network.Prober,
store.Maintainer) are added to the tree directly.

# Error Handling

Return values determine supervisor behavior:

	nil         -> service stopped cleanly, will not restart
	error       -> service crashed, supervisor will restart
	ctx.Err()   -> shutdown requested, normal termination

# Service Identification

Every wrapper implements fmt.Stringer; suture uses the name in its logs.
*/
package services

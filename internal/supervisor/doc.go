// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

/*
Package supervisor provides process supervision for Placesync using suture v4.

# Overview

Long-running services are organized into three layers for failure isolation:

	RootSupervisor ("placesync")
	├── DataSupervisor ("data-layer")
	│   ├── store.Maintainer (value-log GC, existence cache expiry)
	│   └── network.Prober (if network.probe_url is set)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── WebSocketHubService
	│   ├── websocket.Relay (event bus to hub)
	│   └── SchedulerService (one per signed-in session)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

# Sessions

SessionManager owns the per-user part of the process. Login signs the session
in, opens a sync engine for the user against the shared local store and adds
a sync scheduler to the messaging layer. Logout removes the scheduler and
waits for it, closes the engine (which invalidates any in-flight refresh and
releases the sync lock) and signs the session out. Only one user is active at
a time.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	tree.AddDataService(store.NewMaintainer(localStore))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	sessions := supervisor.NewSessionManager(tree, deps)
	if _, err := sessions.Login(ctx, "u1"); err != nil { ... }

	errCh := tree.ServeBackground(ctx)

# Error Handling

Return values from Serve determine supervisor behavior:

	nil         -> service stopped cleanly, will not restart
	error       -> service crashed, supervisor will restart with backoff
	ctx.Err()   -> shutdown requested, normal termination

Supervisor events (start, stop, failure, backoff) are logged through the
sutureslog adapter into zerolog.
*/
package supervisor

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

/*
Package websocket pushes sync engine notifications to connected UI clients.

A UI that shows saved marks and visits needs to learn when an optimistic
change is confirmed by the remote or falls back to the retry queue, and when
a background refresh replaced its view. This package relays the engine's
event bus to WebSocket clients using gorilla/websocket with a hub-client
architecture.

Key Components:

  - Hub: owns the client set and fans messages out to the clients of one user
  - Client: a single connection with read and write goroutines
  - Relay: a supervised service that subscribes to the events.Bus and hands
    every event to the hub
  - Handler: the HTTP upgrade endpoint

Architecture:

	engine ──▶ events.Bus ──▶ Relay ──▶ Hub ──┬──▶ Client (user u1)
	                                          ├──▶ Client (user u1)
	                                          └──▶ Client (user u2)

Each client has two goroutines:
  - readPump: reads from the connection and answers application pings
  - writePump: writes queued messages and keeps the connection alive

Message Types:

  - sync_event: one events.Event (mutation phase, replay, queue summary,
    refresh) addressed to the event's user
  - ping / pong: application-level keepalive

Delivery is best-effort. A client whose send buffer is full is dropped and
must reconnect and re-read state over the REST API.

Thread Safety:

The hub serializes registration and broadcast in RunWithContext. Broadcast
and GetClientCount are safe from any goroutine.
*/
package websocket

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cursor is the engine's process-wide sync bookkeeping.
type Cursor struct {
	mu       sync.RWMutex
	lastSync time.Time

	requestID    atomic.Uint64
	reconnecting atomic.Bool
	loaded       atomic.Bool
}

// LastSync returns when the remote last confirmed anything, or zero.
func (c *Cursor) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

func (c *Cursor) markSynced(at time.Time) {
	c.mu.Lock()
	if at.After(c.lastSync) {
		c.lastSync = at
	}
	c.mu.Unlock()
}

// NextRequestID advances and returns the refresh request id. A refresh whose
// captured id no longer matches discards its response.
func (c *Cursor) NextRequestID() uint64 {
	return c.requestID.Add(1)
}

// RequestID returns the current refresh request id.
func (c *Cursor) RequestID() uint64 {
	return c.requestID.Load()
}

// TryBeginReconnect claims the reconnect slot. It returns false if a
// reconnect pass is already in progress.
func (c *Cursor) TryBeginReconnect() bool {
	return c.reconnecting.CompareAndSwap(false, true)
}

// EndReconnect releases the reconnect slot.
func (c *Cursor) EndReconnect() {
	c.reconnecting.Store(false)
}

// Reconnecting reports whether a reconnect pass is running.
func (c *Cursor) Reconnecting() bool {
	return c.reconnecting.Load()
}

// Loaded reports whether a full refresh has completed for this session.
func (c *Cursor) Loaded() bool {
	return c.loaded.Load()
}

func (c *Cursor) markLoaded() {
	c.loaded.Store(true)
}

// reset invalidates in-flight refreshes and clears session bookkeeping.
func (c *Cursor) reset() {
	c.requestID.Add(1)
	c.reconnecting.Store(false)
	c.loaded.Store(false)
	c.mu.Lock()
	c.lastSync = time.Time{}
	c.mu.Unlock()
}

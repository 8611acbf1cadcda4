// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package lock provides the single mutual-exclusion lock that serializes every
// state-mutating operation of a sync session.
//
// Waiters queue in FIFO order and each acquisition attempt is bounded by a
// timeout. A holder that keeps the lock past the staleness ceiling is
// force-released: its Grant context is cancelled so in-flight work observes
// the loss, and the next waiter proceeds.
//
// The lock is NOT re-entrant. A holder that calls Acquire again queues behind
// itself and will time out (or be reclaimed by the watchdog). Callers must
// never nest acquisitions.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/placesync/internal/logging"
)

// DefaultStalenessCeiling is used when Options.StalenessCeiling is zero.
const DefaultStalenessCeiling = 10 * time.Second

// ErrReleased is the cause attached to a grant context after normal release.
var ErrReleased = errors.New("lock released")

// ErrForceReleased is the cause attached to a grant context when the watchdog
// or Reset reclaimed the lock.
var ErrForceReleased = errors.New("lock force-released")

// Options configures a Mutex.
type Options struct {
	// StalenessCeiling is the maximum time a holder may keep the lock.
	StalenessCeiling time.Duration

	// OnForceRelease is called after a stale holder is reclaimed.
	OnForceRelease func(owner string, held time.Duration)

	// OnAcquire is called after each acquisition attempt with the wait time.
	OnAcquire func(owner string, waited time.Duration, granted bool)
}

// Mutex is a FIFO, timeout-bounded lock with a staleness watchdog.
type Mutex struct {
	sem  *semaphore.Weighted
	opts Options

	mu     sync.Mutex
	holder *Grant
}

// Grant is proof of holding the lock. Its context is cancelled when the grant
// ends, whether by Release, the watchdog or Reset.
type Grant struct {
	m          *Mutex
	owner      string
	acquiredAt time.Time
	ctx        context.Context
	cancel     context.CancelCauseFunc
	watchdog   *time.Timer
}

// New creates an unlocked Mutex.
func New(opts Options) *Mutex {
	if opts.StalenessCeiling <= 0 {
		opts.StalenessCeiling = DefaultStalenessCeiling
	}
	return &Mutex{
		sem:  semaphore.NewWeighted(1),
		opts: opts,
	}
}

// Acquire waits up to timeout for the lock. It returns false, with no side
// effects, if the timeout elapses or ctx is cancelled first. The returned
// Grant's context derives from ctx.
func (m *Mutex) Acquire(ctx context.Context, owner string, timeout time.Duration) (*Grant, bool) {
	start := time.Now()
	m.reclaimIfStale()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err := m.sem.Acquire(waitCtx, 1)
	cancel()

	waited := time.Since(start)
	if err != nil {
		if m.opts.OnAcquire != nil {
			m.opts.OnAcquire(owner, waited, false)
		}
		logging.Debug().
			Str("owner", owner).
			Dur("waited", waited).
			Str("holder", m.HolderName()).
			Msg("lock acquisition timed out")
		return nil, false
	}

	gctx, gcancel := context.WithCancelCause(ctx)
	g := &Grant{
		m:          m,
		owner:      owner,
		acquiredAt: time.Now(),
		ctx:        gctx,
		cancel:     gcancel,
	}
	m.mu.Lock()
	m.holder = g
	g.watchdog = time.AfterFunc(m.opts.StalenessCeiling, func() {
		m.forceRelease(g, "watchdog")
	})
	m.mu.Unlock()

	if m.opts.OnAcquire != nil {
		m.opts.OnAcquire(owner, waited, true)
	}
	return g, true
}

// Reset force-clears the current holder, if any. Used on logout and in test teardown.
func (m *Mutex) Reset() {
	m.mu.Lock()
	g := m.holder
	m.mu.Unlock()
	if g != nil {
		m.forceRelease(g, "reset")
	}
}

// Held reports whether the lock currently has a holder.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder != nil
}

// HolderName returns the owner label of the current holder, or "".
func (m *Mutex) HolderName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == nil {
		return ""
	}
	return m.holder.owner
}

// reclaimIfStale force-releases a holder already past the ceiling. The
// watchdog timer normally does this; the check covers timers delayed by a
// stalled scheduler.
func (m *Mutex) reclaimIfStale() {
	m.mu.Lock()
	g := m.holder
	m.mu.Unlock()
	if g != nil && time.Since(g.acquiredAt) > m.opts.StalenessCeiling {
		m.forceRelease(g, "acquire")
	}
}

// release ends g if it is still the holder. Returns false for stale grants.
func (m *Mutex) release(g *Grant, cause error) bool {
	m.mu.Lock()
	if m.holder != g {
		m.mu.Unlock()
		return false
	}
	m.holder = nil
	m.mu.Unlock()

	g.watchdog.Stop()
	g.cancel(cause)
	m.sem.Release(1)
	return true
}

func (m *Mutex) forceRelease(g *Grant, trigger string) {
	held := time.Since(g.acquiredAt)
	if !m.release(g, ErrForceReleased) {
		return
	}
	logging.Warn().
		Str("owner", g.owner).
		Str("trigger", trigger).
		Dur("held", held).
		Dur("ceiling", m.opts.StalenessCeiling).
		Msg("force-released stale lock holder")
	if m.opts.OnForceRelease != nil {
		m.opts.OnForceRelease(g.owner, held)
	}
}

// Release returns the lock to the next waiter. Releasing a grant that was
// already released or reclaimed is a no-op.
func (g *Grant) Release() {
	if g == nil {
		return
	}
	g.m.release(g, ErrReleased)
}

// Context is cancelled when the grant ends. Work done under the lock should
// use it so a reclaimed holder stops promptly.
func (g *Grant) Context() context.Context {
	return g.ctx
}

// Valid reports whether the grant still holds the lock.
func (g *Grant) Valid() bool {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.holder == g
}

// Owner returns the label passed to Acquire.
func (g *Grant) Owner() string {
	return g.owner
}

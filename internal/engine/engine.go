// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package engine is the offline-tolerant sync engine. Every mutation is
// applied to the local mirror first, written ahead to the operation log, and
// then confirmed against the remote store when the network allows. All
// state-changing work is serialized by a single timeout-bounded lock.
//
// Phases: a record is applied-locally as soon as the local write commits,
// then moves to confirmed-remote when the remote accepts it or to
// queued-for-retry when it does not. Queued records are reconciled by
// ProcessQueue and FullRefresh, normally driven by the scheduler package.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/config"
	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/lock"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/metrics"
	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/network"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/remote"
	"github.com/tomtom215/placesync/internal/store"
	"github.com/tomtom215/placesync/internal/validation"
)

// Config holds the engine's timing budgets and replay policy.
type Config struct {
	ToggleLockTimeout   time.Duration
	VisitLockTimeout    time.Duration
	CompleteLockTimeout time.Duration
	QueueLockTimeout    time.Duration
	RefreshLockTimeout  time.Duration

	// RemoteTimeout bounds each remote call. It must stay below the lock's
	// staleness ceiling.
	RemoteTimeout time.Duration

	// ReplayPriority orders queued operations by kind during process-queue.
	// Kinds not listed replay last. Within a kind, insertion order holds.
	ReplayPriority []oplog.Kind
}

// DefaultConfig returns the budgets used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ToggleLockTimeout:   3 * time.Second,
		VisitLockTimeout:    5 * time.Second,
		CompleteLockTimeout: 8 * time.Second,
		QueueLockTimeout:    8 * time.Second,
		RefreshLockTimeout:  8 * time.Second,
		RemoteTimeout:       5 * time.Second,
		ReplayPriority:      oplog.AllKinds(),
	}
}

// ConfigFrom converts the loaded configuration section.
func ConfigFrom(c config.EngineConfig) (Config, error) {
	cfg := Config{
		ToggleLockTimeout:   c.ToggleLockTimeout,
		VisitLockTimeout:    c.VisitLockTimeout,
		CompleteLockTimeout: c.CompleteLockTimeout,
		QueueLockTimeout:    c.QueueLockTimeout,
		RefreshLockTimeout:  c.RefreshLockTimeout,
		RemoteTimeout:       c.RemoteTimeout,
	}
	for _, name := range c.ReplayPriority {
		k, err := oplog.ParseKind(name)
		if err != nil {
			return Config{}, fmt.Errorf("replay priority: %w", err)
		}
		cfg.ReplayPriority = append(cfg.ReplayPriority, k)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ToggleLockTimeout <= 0 {
		c.ToggleLockTimeout = d.ToggleLockTimeout
	}
	if c.VisitLockTimeout <= 0 {
		c.VisitLockTimeout = d.VisitLockTimeout
	}
	if c.CompleteLockTimeout <= 0 {
		c.CompleteLockTimeout = d.CompleteLockTimeout
	}
	if c.QueueLockTimeout <= 0 {
		c.QueueLockTimeout = d.QueueLockTimeout
	}
	if c.RefreshLockTimeout <= 0 {
		c.RefreshLockTimeout = d.RefreshLockTimeout
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = d.RemoteTimeout
	}
	if len(c.ReplayPriority) == 0 {
		c.ReplayPriority = d.ReplayPriority
	}
	return c
}

// NewLock creates the engine's sync lock with metrics hooks attached.
func NewLock(stalenessCeiling time.Duration) *lock.Mutex {
	return lock.New(lock.Options{
		StalenessCeiling: stalenessCeiling,
		OnAcquire:        metrics.RecordLockWait,
		OnForceRelease: func(owner string, held time.Duration) {
			metrics.RecordLockForceRelease(owner)
			logging.Warn().
				Str("owner", owner).
				Dur("held", held).
				Msg("sync lock force-released from stale holder")
		},
	})
}

// Deps are the collaborators of an Engine. Store, Remote, Network and
// Session are required.
type Deps struct {
	Store   *store.Store
	Remote  remote.Store
	Network network.Monitor
	Session auth.Session

	// Lock defaults to NewLock with the default staleness ceiling.
	Lock *lock.Mutex

	// Events defaults to events.Discard.
	Events events.Publisher

	// Now defaults to time.Now.
	Now func() time.Time

	// NewID generates visit ids. Defaults to random UUIDs.
	NewID func() string
}

// Engine is the sync engine for one signed-in user.
type Engine struct {
	cfg     Config
	userID  string
	store   *store.Store
	log     *oplog.Log
	remote  remote.Store
	network network.Monitor
	session auth.Session
	lock    *lock.Mutex
	events  events.Publisher
	now     func() time.Time
	newID   func() string

	cursor Cursor
	closed atomic.Bool

	// mu guards state. Writers also hold the sync lock.
	mu    sync.RWMutex
	state *model
}

// New loads the signed-in user's local mirror and operation log. Corrupt
// local entries are dropped and logged; the engine still starts.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Remote == nil || deps.Network == nil || deps.Session == nil {
		return nil, errors.New("engine: store, remote, network and session are required")
	}
	userID, ok := deps.Session.CurrentUserID()
	if !ok {
		return nil, newError(KindUnauthenticated, "open", errors.New("no active session"))
	}
	if err := validate("open", &validation.SessionRequest{UserID: userID}); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg.withDefaults(),
		userID:  userID,
		store:   deps.Store,
		remote:  deps.Remote,
		network: deps.Network,
		session: deps.Session,
		lock:    deps.Lock,
		events:  deps.Events,
		now:     deps.Now,
		newID:   deps.NewID,
		state:   newModel(),
	}
	if e.lock == nil {
		e.lock = NewLock(lock.DefaultStalenessCeiling)
	}
	if e.events == nil {
		e.events = events.Discard{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}

	log, corruptOps, err := oplog.Open(deps.Store, userID)
	if err != nil {
		return nil, newError(KindCorruptLocalState, "open", err)
	}
	e.log = log

	corrupt, err := e.loadState()
	if err != nil {
		return nil, newError(KindCorruptLocalState, "open", err)
	}
	if n := corrupt + corruptOps; n > 0 {
		logging.Warn().
			Str("user_id", userID).
			Int("dropped", n).
			Msg("dropped corrupt local entries while loading")
	}
	logging.Info().
		Str("user_id", userID).
		Int("saved", len(e.state.saved)).
		Int("planned", len(e.state.planned)).
		Int("history", len(e.state.history)).
		Int("pending", e.log.Count()).
		Msg("sync engine loaded local state")
	return e, nil
}

func (e *Engine) loadState() (int, error) {
	saved, c1, err := store.LoadAll[models.SavedMark](e.store, store.TableSaved, e.userID)
	if err != nil {
		return 0, err
	}
	planned, c2, err := store.LoadAll[models.PlannedVisit](e.store, store.TablePlanned, e.userID)
	if err != nil {
		return 0, err
	}
	history, c3, err := store.LoadAll[models.VisitHistory](e.store, store.TableHistory, e.userID)
	if err != nil {
		return 0, err
	}
	for _, mk := range saved {
		e.state.saved[mk.EntityID] = mk
	}
	for _, v := range planned {
		e.state.planned[v.VisitID] = v
	}
	for _, h := range history {
		e.state.history[h.VisitID] = h
	}
	return c1 + c2 + c3, nil
}

// Close ends the engine's session. In-flight refreshes are invalidated and
// any lock holder is force-released. The store is left open.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.cursor.reset()
	e.lock.Reset()
	logging.Info().Str("user_id", e.userID).Msg("sync engine closed")
}

// UserID returns the user this engine serves.
func (e *Engine) UserID() string {
	return e.userID
}

// Cursor exposes the sync bookkeeping to the scheduler.
func (e *Engine) Cursor() *Cursor {
	return &e.cursor
}

// Network returns the engine's network monitor.
func (e *Engine) Network() network.Monitor {
	return e.network
}

func (e *Engine) authorize(op string) error {
	if e.closed.Load() {
		return newError(KindUnauthenticated, op, errors.New("session closed"))
	}
	uid, ok := e.session.CurrentUserID()
	if !ok || uid != e.userID {
		return newError(KindUnauthenticated, op, errors.New("no active session"))
	}
	return nil
}

func (e *Engine) acquire(ctx context.Context, op string, timeout time.Duration) (*lock.Grant, error) {
	grant, ok := e.lock.Acquire(ctx, op, timeout)
	if !ok {
		return nil, newError(KindBusy, op, fmt.Errorf("sync lock held by %q", e.lock.HolderName()))
	}
	return grant, nil
}

// recoverPanic converts a panic into a KindInternal error. Deferred before
// the lock release so the lock is always freed first.
func (e *Engine) recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		logging.Error().
			Str("op", op).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered panic in sync engine")
		*err = newError(KindInternal, op, fmt.Errorf("panic: %v", r))
	}
}

// settle moves the records covered by p to phase, keeping records that are
// still covered by a pending operation queued.
func (e *Engine) settle(p oplog.Payload, phase models.SyncPhase) error {
	pending := e.log.ListAll()
	e.mu.Lock()
	defer e.mu.Unlock()
	writes := e.state.rephase(p, phase, pending)
	if err := persistWrites(e.store, e.userID, writes); err != nil {
		return err
	}
	e.state.commit(writes)
	return nil
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	ev.Pending = e.log.Count()
	if err := e.events.Publish(ctx, ev); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("type", string(ev.Type)).Msg("event not published")
	}
}

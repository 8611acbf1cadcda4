// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/network"
	"github.com/tomtom215/placesync/internal/remote"
	"github.com/tomtom215/placesync/internal/scheduler"
	"github.com/tomtom215/placesync/internal/store"
	"github.com/tomtom215/placesync/internal/supervisor/services"
	"github.com/tomtom215/placesync/internal/validation"
)

// ErrNoSession is returned when no user is signed in.
var ErrNoSession = errors.New("no active session")

// SessionDeps are the process-wide components every session shares.
type SessionDeps struct {
	Store   *store.Store
	Remote  remote.Store
	Network network.Monitor
	Session *auth.StaticSession
	Events  events.Publisher

	Engine    engine.Config
	Scheduler scheduler.Config

	// LockCeiling is the sync lock's staleness ceiling.
	LockCeiling time.Duration
}

// SessionManager starts and stops the per-user engine and scheduler.
type SessionManager struct {
	tree *SupervisorTree
	deps SessionDeps

	mu     sync.Mutex
	engine *engine.Engine
	token  suture.ServiceToken
	active bool
}

// NewSessionManager creates a manager with nobody signed in.
func NewSessionManager(tree *SupervisorTree, deps SessionDeps) *SessionManager {
	return &SessionManager{tree: tree, deps: deps}
}

// Login signs userID in and starts their engine and scheduler. Logging in as
// the active user returns the running engine; logging in as someone else
// logs the current user out first.
func (m *SessionManager) Login(ctx context.Context, userID string) (*engine.Engine, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if verr := validation.ValidateStruct(&validation.SessionRequest{UserID: userID}); verr != nil {
		return nil, fmt.Errorf("invalid user id: %w", verr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		if m.engine.UserID() == userID {
			return m.engine, nil
		}
		m.logoutLocked(ctx)
	}

	m.deps.Session.SignIn(userID)
	eng, err := engine.New(m.deps.Engine, engine.Deps{
		Store:   m.deps.Store,
		Remote:  m.deps.Remote,
		Network: m.deps.Network,
		Session: m.deps.Session,
		Lock:    engine.NewLock(m.deps.LockCeiling),
		Events:  m.deps.Events,
	})
	if err != nil {
		m.deps.Session.SignOut()
		return nil, fmt.Errorf("open sync engine: %w", err)
	}

	sched := scheduler.New(eng, m.deps.Network, m.deps.Session, m.deps.Scheduler)
	m.token = m.tree.AddMessagingService(services.NewSchedulerService(sched))
	m.engine = eng
	m.active = true

	logging.Ctx(ctx).Info().
		Str("user_id", userID).
		Int("pending", eng.PendingOperationCount()).
		Msg("session started")
	return eng, nil
}

// Logout stops the active session. It is a no-op when nobody is signed in.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.logoutLocked(ctx)
	}
}

func (m *SessionManager) logoutLocked(ctx context.Context) {
	userID := m.engine.UserID()
	if err := m.tree.RemoveMessagingServiceAndWait(m.token, m.tree.ShutdownTimeout()); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("sync scheduler did not stop cleanly")
	}
	m.engine.Close()
	m.deps.Session.SignOut()

	pending := m.engine.PendingOperationCount()
	m.engine = nil
	m.active = false

	logging.Ctx(ctx).Info().
		Str("user_id", userID).
		Int("pending", pending).
		Msg("session ended")
}

// Engine returns the active engine.
func (m *SessionManager) Engine() (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, ErrNoSession
	}
	return m.engine, nil
}

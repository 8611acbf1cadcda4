// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"context"
	"net/http"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/network"
)

// Sessions starts, stops and exposes the signed-in user's engine.
// supervisor.SessionManager implements it.
type Sessions interface {
	Login(ctx context.Context, userID string) (*engine.Engine, error)
	Logout(ctx context.Context)
	Engine() (*engine.Engine, error)
}

// Pinger reports whether a dependency is usable.
type Pinger interface {
	Ping() error
}

// Handler serves the sync API on top of the active session.
type Handler struct {
	sessions Sessions
	jwt      *auth.JWTManager
	store    Pinger
	network  network.Monitor
}

// NewHandler creates a handler. jwt may be nil, in which case requests are
// not authenticated and act on whichever user is signed in.
func NewHandler(sessions Sessions, jwt *auth.JWTManager, store Pinger, monitor network.Monitor) *Handler {
	return &Handler{
		sessions: sessions,
		jwt:      jwt,
		store:    store,
		network:  monitor,
	}
}

// activeEngine returns the session's engine, writing the error response and
// returning false when there is none or the bearer token names a different
// user.
func (h *Handler) activeEngine(rw *ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	eng, err := h.sessions.Engine()
	if err != nil {
		writeEngineError(rw, err)
		return nil, false
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.UserID() != eng.UserID() {
		rw.Forbidden("token user is not the signed-in user")
		return nil, false
	}
	return eng, true
}

// ResolveUser is the websocket user resolver: the token's user when
// authentication is on, otherwise the signed-in user.
func (h *Handler) ResolveUser(r *http.Request) (string, bool) {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID(), true
	}
	eng, err := h.sessions.Engine()
	if err != nil {
		return "", false
	}
	return eng.UserID(), true
}

// writeResult writes a mutation result: 200 when the remote store confirmed
// it or nothing changed, 202 when it is only applied locally.
func writeResult(rw *ResponseWriter, res engine.Result) {
	if res.Phase.Pending() && !res.NoOp {
		rw.Accepted(res)
		return
	}
	rw.Success(res)
}

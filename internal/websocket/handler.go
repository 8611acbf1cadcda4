// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/placesync/internal/logging"
)

// UserResolver names the user a request connects as.
type UserResolver func(r *http.Request) (userID string, ok bool)

// Handler upgrades requests to hub clients.
type Handler struct {
	hub      *Hub
	origins  []string
	resolve  UserResolver
	upgrader websocket.Upgrader
}

// NewHandler creates the upgrade endpoint. origins lists accepted Origin
// headers; "*" accepts any.
func NewHandler(hub *Hub, origins []string, resolve UserResolver) *Handler {
	h := &Handler{hub: hub, origins: origins, resolve: resolve}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin rejects browser connections from origins not listed. Browsers
// always send Origin, so a missing header is rejected too.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolve(r)
	if !ok {
		http.Error(w, "not signed in", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	client := NewClient(h.hub, conn, userID)
	h.hub.Register <- client
	client.Start()
}

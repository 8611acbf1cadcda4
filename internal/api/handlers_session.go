// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"net/http"
	"strings"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/logging"
)

// Login handles POST /api/v1/session. With authentication on, the token's
// user is signed in and a body naming someone else is rejected.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body SessionBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}

	userID := strings.TrimSpace(body.UserID)
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if userID != "" && userID != claims.UserID() {
			rw.Forbidden("cannot sign in as another user")
			return
		}
		userID = claims.UserID()
	}
	if userID == "" {
		rw.ValidationError("userId is required", map[string]string{"field": "userId"})
		return
	}

	eng, err := h.sessions.Login(r.Context(), userID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("login failed")
		rw.InternalError("could not start session")
		return
	}
	rw.Success(eng.Status())
}

// Logout handles DELETE /api/v1/session. Queued operations stay in the log
// and replay at the user's next login.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if _, ok := h.activeEngine(rw, r); !ok {
		return
	}
	h.sessions.Logout(r.Context())
	rw.Success(map[string]bool{"signedOut": true})
}

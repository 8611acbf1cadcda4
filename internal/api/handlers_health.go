// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"net/http"
)

// ReadyResponse is the body of GET /api/v1/health/ready.
type ReadyResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Online  bool   `json:"online"`
	Session bool   `json:"session"`
	Pending int    `json:"pending"`
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Only the local store gates
// readiness: being offline or signed out is a normal operating state.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	resp := ReadyResponse{Status: "ready", Store: "ok"}
	if h.network != nil {
		resp.Online = h.network.IsOnline()
	}
	if eng, err := h.sessions.Engine(); err == nil {
		resp.Session = true
		resp.Pending = eng.PendingOperationCount()
	}

	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			resp.Status = "not_ready"
			resp.Store = err.Error()
			rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "local store unavailable", resp)
			return
		}
	}
	rw.Success(resp)
}

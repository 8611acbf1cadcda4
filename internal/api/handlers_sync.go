// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"net/http"

	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/oplog"
)

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}
	rw.Success(eng.Status())
}

// PendingOperations handles GET /api/v1/sync/pending.
func (h *Handler) PendingOperations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}
	ops := eng.PendingOperations()
	if ops == nil {
		ops = []*oplog.Operation{}
	}
	rw.List(ops, len(ops))
}

// ForceSync handles POST /api/v1/sync: process the queue, then refresh.
func (h *Handler) ForceSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	ctx := logging.ContextWithNewCorrelationID(r.Context())
	outcome, err := eng.ForceSync(ctx)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	rw.Success(outcome)
}

// ProcessQueue handles POST /api/v1/sync/queue.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	ctx := logging.ContextWithNewCorrelationID(r.Context())
	report, err := eng.ProcessQueue(ctx)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	rw.Success(report)
}

// FullRefresh handles POST /api/v1/sync/refresh.
func (h *Handler) FullRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	ctx := logging.ContextWithNewCorrelationID(r.Context())
	report, err := eng.FullRefresh(ctx)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	rw.Success(report)
}

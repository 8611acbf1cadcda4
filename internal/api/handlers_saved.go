// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/placesync/internal/models"
)

// SavedMarkResponse is the body of GET /saved/{entityID}.
type SavedMarkResponse struct {
	EntityID string            `json:"entityId"`
	Saved    bool              `json:"saved"`
	Mark     *models.SavedMark `json:"mark,omitempty"`
}

// ToggleSave handles POST /api/v1/saved/{entityID}/toggle.
func (h *Handler) ToggleSave(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body ToggleSaveBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.ToggleSave(r.Context(), models.Ref(chi.URLParam(r, "entityID")), body.Snapshot)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	writeResult(rw, res)
}

// DeleteSaved handles DELETE /api/v1/saved/{entityID}.
func (h *Handler) DeleteSaved(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.DeleteSaved(r.Context(), models.Ref(chi.URLParam(r, "entityID")))
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	writeResult(rw, res)
}

// ListSaved handles GET /api/v1/saved.
func (h *Handler) ListSaved(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	marks, err := eng.ListSavedMarks()
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	rw.List(marks, len(marks))
}

// GetSaved handles GET /api/v1/saved/{entityID}. An unsaved entity is a
// normal answer, not a 404.
func (h *Handler) GetSaved(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	ref := models.Ref(chi.URLParam(r, "entityID"))
	saved, err := eng.IsSaved(ref)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	resp := SavedMarkResponse{EntityID: ref.Canonical(), Saved: saved}
	if saved {
		if mark, ok, err := eng.SavedMark(ref); err == nil && ok {
			resp.Mark = &mark
		}
	}
	rw.Success(resp)
}

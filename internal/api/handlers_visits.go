// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/models"
)

// ScheduleVisit handles POST /api/v1/visits.
func (h *Handler) ScheduleVisit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body ScheduleVisitBody
	if err := decodeJSON(w, r, &body); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.ScheduleVisit(r.Context(), body.Ref(), body.Date, body.Note, body.Snapshot)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	if res.Phase.Pending() {
		rw.Accepted(res)
		return
	}
	rw.Created(res)
}

// UpdateVisit handles PATCH /api/v1/visits/{visitID}.
func (h *Handler) UpdateVisit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body UpdateVisitBody
	if err := decodeJSON(w, r, &body); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.UpdateVisit(r.Context(), chi.URLParam(r, "visitID"), body.Patch())
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	writeResult(rw, res)
}

// CompleteVisit handles POST /api/v1/visits/{visitID}/complete.
func (h *Handler) CompleteVisit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body CompleteVisitBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.CompleteVisit(r.Context(), chi.URLParam(r, "visitID"), body.VisitedAt)
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	writeResult(rw, res)
}

// DeleteVisit handles DELETE /api/v1/visits/{visitID}.
func (h *Handler) DeleteVisit(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.DeleteVisit(r.Context(), chi.URLParam(r, "visitID"))
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	writeResult(rw, res)
}

// AddReview handles POST /api/v1/visits/{visitID}/review.
func (h *Handler) AddReview(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	var body ReviewBody
	if err := decodeJSON(w, r, &body); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	res, err := eng.AddReview(r.Context(), engine.Review{
		VisitID: chi.URLParam(r, "visitID"),
		Entity:  models.EntityRef{ID: body.EntityID, PlaceID: body.PlaceID},
		Rating:  body.Rating,
		Text:    body.Review,
	})
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	writeResult(rw, res)
}

// ListPlanned handles GET /api/v1/visits/planned.
func (h *Handler) ListPlanned(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	visits, err := eng.ListPlannedVisits()
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	rw.List(visits, len(visits))
}

// ListHistory handles GET /api/v1/visits/history.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	eng, ok := h.activeEngine(rw, r)
	if !ok {
		return
	}

	history, err := eng.ListVisitHistory()
	if err != nil {
		writeEngineError(rw, err)
		return
	}
	rw.List(history, len(history))
}

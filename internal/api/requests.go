// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/models"
)

// maxBodySize bounds request bodies. Snapshots are small descriptors.
const maxBodySize = 256 << 10

// ToggleSaveBody is the optional body of POST /saved/{entityID}/toggle.
type ToggleSaveBody struct {
	Snapshot map[string]any `json:"snapshot,omitempty"`
}

// ScheduleVisitBody is the body of POST /visits. Either entityId or placeId
// names the place.
type ScheduleVisitBody struct {
	EntityID string         `json:"entityId"`
	PlaceID  string         `json:"placeId"`
	Date     time.Time      `json:"date"`
	Note     string         `json:"note"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}

// Ref returns the named place.
func (b *ScheduleVisitBody) Ref() models.EntityRef {
	return models.EntityRef{ID: b.EntityID, PlaceID: b.PlaceID}
}

// UpdateVisitBody is the body of PATCH /visits/{visitID}. Absent fields are
// left unchanged.
type UpdateVisitBody struct {
	Date *time.Time `json:"date"`
	Note *string    `json:"note"`
}

// Patch converts the body to an engine patch.
func (b *UpdateVisitBody) Patch() engine.VisitPatch {
	return engine.VisitPatch{Date: b.Date, Note: b.Note}
}

// CompleteVisitBody is the optional body of POST /visits/{visitID}/complete.
// A missing visitedAt means now.
type CompleteVisitBody struct {
	VisitedAt time.Time `json:"visitedAt"`
}

// ReviewBody is the body of POST /visits/{visitID}/review. The place is
// needed only for a visit the device has never seen.
type ReviewBody struct {
	EntityID string `json:"entityId"`
	PlaceID  string `json:"placeId"`
	Rating   int    `json:"rating"`
	Review   string `json:"review"`
}

// SessionBody is the body of POST /session.
type SessionBody struct {
	UserID string `json:"userId"`
}

// errEmptyBody is returned by decodeJSON when the body is empty.
var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected
// so client typos surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(w, r, v)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package validation

import "time"

// Length limits for free text.
const (
	MaxNoteLength   = 2000
	MaxReviewLength = 5000
)

// ToggleSaveRequest validates toggle-save and delete-saved.
type ToggleSaveRequest struct {
	EntityID string `validate:"recordid"`
}

// ScheduleVisitRequest validates schedule-visit.
type ScheduleVisitRequest struct {
	EntityID string    `validate:"recordid"`
	Date     time.Time `validate:"required"`
	Note     string    `validate:"max=2000"`
}

// UpdateVisitRequest validates update-visit. Nil fields are left unchanged.
type UpdateVisitRequest struct {
	VisitID string     `validate:"recordid"`
	Date    *time.Time `validate:"omitempty"`
	Note    *string    `validate:"omitempty,max=2000"`
}

// VisitRequest validates complete-visit and delete-visit.
type VisitRequest struct {
	VisitID string `validate:"recordid"`
}

// AddReviewRequest validates add-review. EntityID is required only when the
// visit is unknown locally.
type AddReviewRequest struct {
	VisitID  string `validate:"recordid"`
	EntityID string `validate:"omitempty,recordid"`
	Rating   int    `validate:"min=1,max=5"`
	Review   string `validate:"max=5000"`
}

// SessionRequest validates a login. The user id becomes part of remote keys.
type SessionRequest struct {
	UserID string `validate:"recordid"`
}

// EntityRequest validates read accessors keyed by entity id.
type EntityRequest struct {
	EntityID string `validate:"recordid"`
}

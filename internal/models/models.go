// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package models defines the records the sync engine owns: saved marks,
// planned visits and visit history, plus the per-record sync phase.
package models

import (
	"strings"
	"time"
)

// Rating bounds for visit reviews.
const (
	MinRating = 1
	MaxRating = 5
)

// SyncPhase is the two-phase state of a record's latest mutation.
type SyncPhase string

const (
	// PhaseAppliedLocally means the mutation is in local state and no remote
	// outcome has been observed yet.
	PhaseAppliedLocally SyncPhase = "applied-locally"

	// PhaseConfirmedRemote means the remote store accepted the mutation.
	PhaseConfirmedRemote SyncPhase = "confirmed-remote"

	// PhaseQueuedForRetry means the mutation sits in the operation log.
	PhaseQueuedForRetry SyncPhase = "queued-for-retry"
)

// Pending reports whether the record is not yet confirmed by the remote.
func (p SyncPhase) Pending() bool {
	return p != PhaseConfirmedRemote
}

// VisitStatus is the lifecycle status of a visit.
type VisitStatus string

const (
	VisitPlanned   VisitStatus = "planned"
	VisitCompleted VisitStatus = "completed"
)

// EntityRef names a place. Callers may supply either alias; Canonical
// resolves to a single id.
type EntityRef struct {
	ID      string `json:"id,omitempty"`
	PlaceID string `json:"placeId,omitempty"`
}

// Ref builds an EntityRef from a plain id.
func Ref(id string) EntityRef {
	return EntityRef{ID: id}
}

// Canonical returns the normalized entity id, preferring PlaceID.
func (r EntityRef) Canonical() string {
	if id := strings.TrimSpace(r.PlaceID); id != "" {
		return id
	}
	return strings.TrimSpace(r.ID)
}

// SavedMark records that a user saved an entity.
type SavedMark struct {
	EntityID  string         `json:"entityId"`
	UserID    string         `json:"userId"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Phase     SyncPhase      `json:"phase,omitempty"`
}

// Key is the record key, unique per (user, entity).
func (m *SavedMark) Key() string {
	return SavedMarkKey(m.UserID, m.EntityID)
}

// SavedMarkKey builds the key for a user's mark on an entity. Neither id may
// contain '/', so distinct pairs never share a key.
func SavedMarkKey(userID, entityID string) string {
	return userID + "/" + entityID
}

// PlannedVisit is a future intent to visit an entity.
type PlannedVisit struct {
	VisitID   string         `json:"visitId"`
	EntityID  string         `json:"entityId"`
	UserID    string         `json:"userId"`
	Date      time.Time      `json:"date"`
	Note      string         `json:"note,omitempty"`
	Status    VisitStatus    `json:"status"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Phase     SyncPhase      `json:"phase,omitempty"`
}

// Key is the record key.
func (v *PlannedVisit) Key() string {
	return v.VisitID
}

// VisitHistory is a completed visit, optionally reviewed.
type VisitHistory struct {
	VisitID   string         `json:"visitId"`
	EntityID  string         `json:"entityId"`
	UserID    string         `json:"userId"`
	Date      time.Time      `json:"date,omitempty"`
	Note      string         `json:"note,omitempty"`
	VisitedAt time.Time      `json:"visitedAt"`
	Rating    int            `json:"rating,omitempty"`
	Review    string         `json:"review,omitempty"`
	HasReview bool           `json:"hasReview"`
	Status    VisitStatus    `json:"status"`
	Snapshot  map[string]any `json:"snapshot,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Phase     SyncPhase      `json:"phase,omitempty"`
}

// Key is the record key.
func (h *VisitHistory) Key() string {
	return h.VisitID
}

// Complete turns a planned visit into its history record, reusing the visit id.
func (v *PlannedVisit) Complete(visitedAt time.Time) VisitHistory {
	return VisitHistory{
		VisitID:   v.VisitID,
		EntityID:  v.EntityID,
		UserID:    v.UserID,
		Date:      v.Date,
		Note:      v.Note,
		VisitedAt: visitedAt,
		Status:    VisitCompleted,
		Snapshot:  v.Snapshot,
		CreatedAt: v.CreatedAt,
		UpdatedAt: visitedAt,
	}
}

// ValidRating reports whether r is within [MinRating, MaxRating].
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

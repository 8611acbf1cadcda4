// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package models

import (
	"testing"
	"time"
)

func TestEntityRefCanonical(t *testing.T) {
	tests := []struct {
		name string
		ref  EntityRef
		want string
	}{
		{"id only", EntityRef{ID: "place-1"}, "place-1"},
		{"place id only", EntityRef{PlaceID: "place-2"}, "place-2"},
		{"both prefers place id", EntityRef{ID: "legacy-9", PlaceID: "place-3"}, "place-3"},
		{"whitespace trimmed", EntityRef{ID: "  place-4 "}, "place-4"},
		{"blank place id falls back", EntityRef{ID: "place-5", PlaceID: "   "}, "place-5"},
		{"empty", EntityRef{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ref.Canonical(); got != tt.want {
				t.Errorf("Canonical() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncPhasePending(t *testing.T) {
	if PhaseConfirmedRemote.Pending() {
		t.Error("confirmed-remote should not be pending")
	}
	if !PhaseQueuedForRetry.Pending() {
		t.Error("queued-for-retry should be pending")
	}
	if !PhaseAppliedLocally.Pending() {
		t.Error("applied-locally should be pending")
	}
}

func TestPlannedVisitComplete(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	visitedAt := created.Add(48 * time.Hour)
	pv := PlannedVisit{
		VisitID:   "v1",
		EntityID:  "place-7",
		UserID:    "u1",
		Date:      created.Add(24 * time.Hour),
		Note:      "bring cash",
		Status:    VisitPlanned,
		CreatedAt: created,
	}

	h := pv.Complete(visitedAt)

	if h.VisitID != "v1" || h.EntityID != "place-7" || h.UserID != "u1" {
		t.Errorf("identity not carried over: %+v", h)
	}
	if h.Status != VisitCompleted {
		t.Errorf("Status = %q, want completed", h.Status)
	}
	if !h.VisitedAt.Equal(visitedAt) {
		t.Errorf("VisitedAt = %v, want %v", h.VisitedAt, visitedAt)
	}
	if h.Note != "bring cash" {
		t.Errorf("Note = %q, want carried over", h.Note)
	}
	if h.HasReview {
		t.Error("fresh history should not have a review")
	}
}

func TestValidRating(t *testing.T) {
	for r, want := range map[int]bool{0: false, 1: true, 3: true, 5: true, 6: false, -1: false} {
		if got := ValidRating(r); got != want {
			t.Errorf("ValidRating(%d) = %v, want %v", r, got, want)
		}
	}
}

func TestDocumentRoundTripStripsPhase(t *testing.T) {
	mark := SavedMark{
		EntityID:  "place-42",
		UserID:    "u1",
		Snapshot:  map[string]any{"name": "Blue Door Cafe"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Phase:     PhaseQueuedForRetry,
	}

	doc, err := ToDocument(&mark)
	if err != nil {
		t.Fatalf("ToDocument() error = %v", err)
	}
	if _, ok := doc["phase"]; ok {
		t.Error("document should not carry the local phase")
	}
	if doc["userId"] != "u1" {
		t.Errorf("userId = %v, want u1", doc["userId"])
	}

	var back SavedMark
	if err := FromDocument(doc, &back); err != nil {
		t.Fatalf("FromDocument() error = %v", err)
	}
	if back.Key() != mark.Key() {
		t.Errorf("Key() = %q, want %q", back.Key(), mark.Key())
	}
	if back.Snapshot["name"] != "Blue Door Cafe" {
		t.Errorf("Snapshot lost: %+v", back.Snapshot)
	}
	if !back.CreatedAt.Equal(mark.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", back.CreatedAt, mark.CreatedAt)
	}
	if back.Phase != "" {
		t.Errorf("Phase = %q, want empty after remote round trip", back.Phase)
	}
}

func TestSavedMarkKeyDistinct(t *testing.T) {
	tests := []struct {
		name       string
		userA, idA string
		userB, idB string
	}{
		{"underscore in user id", "a_b", "c", "a", "b_c"},
		{"underscore in entity id", "u1", "x_y", "u1_x", "y"},
		{"same entity other user", "u1", "e1", "u2", "e1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := SavedMarkKey(tt.userA, tt.idA), SavedMarkKey(tt.userB, tt.idB)
			if a == b {
				t.Errorf("SavedMarkKey(%q, %q) and SavedMarkKey(%q, %q) both = %q", tt.userA, tt.idA, tt.userB, tt.idB, a)
			}
		})
	}
}

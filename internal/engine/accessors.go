// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"sort"
	"time"

	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/validation"
)

// IsSaved reports whether the user has saved the entity. It answers from the
// local mirror's existence cache and never touches the remote.
func (e *Engine) IsSaved(ref models.EntityRef) (bool, error) {
	const op = "is-saved"
	if err := e.authorize(op); err != nil {
		return false, err
	}
	id := ref.Canonical()
	if err := validate(op, &validation.EntityRequest{EntityID: id}); err != nil {
		return false, err
	}
	saved, err := e.store.IsSaved(e.userID, id)
	if err != nil {
		return false, newError(KindCorruptLocalState, op, err)
	}
	return saved, nil
}

// SavedMark returns the user's mark on the entity, if any.
func (e *Engine) SavedMark(ref models.EntityRef) (models.SavedMark, bool, error) {
	const op = "get-saved"
	if err := e.authorize(op); err != nil {
		return models.SavedMark{}, false, err
	}
	id := ref.Canonical()
	if err := validate(op, &validation.EntityRequest{EntityID: id}); err != nil {
		return models.SavedMark{}, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	mk, ok := e.state.saved[id]
	return mk, ok, nil
}

// ListSavedMarks returns the user's marks, most recently saved first.
func (e *Engine) ListSavedMarks() ([]models.SavedMark, error) {
	if err := e.authorize("list-saved"); err != nil {
		return nil, err
	}
	e.mu.RLock()
	out := make([]models.SavedMark, 0, len(e.state.saved))
	for _, mk := range e.state.saved {
		out = append(out, mk)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].EntityID, out[j].EntityID)
	})
	return out, nil
}

// ListPlannedVisits returns planned visits, soonest first.
func (e *Engine) ListPlannedVisits() ([]models.PlannedVisit, error) {
	if err := e.authorize("list-planned"); err != nil {
		return nil, err
	}
	e.mu.RLock()
	out := make([]models.PlannedVisit, 0, len(e.state.planned))
	for _, v := range e.state.planned {
		out = append(out, v)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].VisitID < out[j].VisitID
	})
	return out, nil
}

// ListVisitHistory returns completed visits, most recent first.
func (e *Engine) ListVisitHistory() ([]models.VisitHistory, error) {
	if err := e.authorize("list-history"); err != nil {
		return nil, err
	}
	e.mu.RLock()
	out := make([]models.VisitHistory, 0, len(e.state.history))
	for _, h := range e.state.history {
		out = append(out, h)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].VisitedAt, out[j].VisitedAt, out[i].VisitID, out[j].VisitID)
	})
	return out, nil
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}

// PendingOperationCount returns the number of unconfirmed operations.
func (e *Engine) PendingOperationCount() int {
	return e.log.Count()
}

// PendingOperations returns copies of the queued operations in insertion order.
func (e *Engine) PendingOperations() []*oplog.Operation {
	return e.log.ListAll()
}

// Status is a point-in-time view of the engine's sync state.
type Status struct {
	UserID       string    `json:"userId"`
	Online       bool      `json:"online"`
	Pending      int       `json:"pending"`
	LastSync     time.Time `json:"lastSync,omitempty"`
	Loaded       bool      `json:"loaded"`
	Reconnecting bool      `json:"reconnecting"`
	LockHolder   string    `json:"lockHolder,omitempty"`
}

// Status reports the engine's sync state.
func (e *Engine) Status() Status {
	return Status{
		UserID:       e.userID,
		Online:       e.network.IsOnline(),
		Pending:      e.log.Count(),
		LastSync:     e.cursor.LastSync(),
		Loaded:       e.cursor.Loaded(),
		Reconnecting: e.cursor.Reconnecting(),
		LockHolder:   e.lock.HolderName(),
	}
}

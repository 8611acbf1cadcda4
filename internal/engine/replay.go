// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/remote"
)

// call runs one remote request bounded by the configured remote timeout.
func (e *Engine) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	defer cancel()
	return fn(callCtx)
}

func (e *Engine) markKey(entityID string) string {
	return models.SavedMarkKey(e.userID, entityID)
}

func (e *Engine) putRecord(ctx context.Context, c remote.Collection, key string, v any) error {
	doc, err := models.ToDocument(v)
	if err != nil {
		return err
	}
	return e.call(ctx, func(ctx context.Context) error {
		return e.remote.Put(ctx, c, key, doc)
	})
}

// deleteRecord treats a missing document as already deleted.
func (e *Engine) deleteRecord(ctx context.Context, c remote.Collection, key string) error {
	err := e.call(ctx, func(ctx context.Context) error {
		return e.remote.Delete(ctx, c, key)
	})
	if remote.IsNotFound(err) {
		return nil
	}
	return err
}

func (e *Engine) getRecord(ctx context.Context, c remote.Collection, key string) (remote.Document, bool, error) {
	var doc remote.Document
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		doc, err = e.remote.Get(ctx, c, key)
		return err
	})
	if remote.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (e *Engine) ensureMark(ctx context.Context, mark *models.SavedMark) error {
	if mark == nil {
		return nil
	}
	return e.putRecord(ctx, remote.CollectionSavedMarks, e.markKey(mark.EntityID), mark)
}

// replay writes the effect of p to the remote store. Every write is keyed,
// so replaying an operation twice leaves the remote unchanged.
func (e *Engine) replay(ctx context.Context, p oplog.Payload) error {
	switch v := p.(type) {
	case *oplog.ToggleSave:
		if v.Saved {
			return e.putRecord(ctx, remote.CollectionSavedMarks, e.markKey(v.Mark.EntityID), v.Mark)
		}
		return e.deleteRecord(ctx, remote.CollectionSavedMarks, e.markKey(v.Mark.EntityID))

	case *oplog.ScheduleVisit:
		if err := e.ensureMark(ctx, v.EnsureSaved); err != nil {
			return err
		}
		return e.putRecord(ctx, remote.CollectionPlannedVisits, v.Visit.VisitID, v.Visit)

	case *oplog.UpdateVisit:
		return e.putRecord(ctx, remote.CollectionPlannedVisits, v.Visit.VisitID, v.Visit)

	case *oplog.CompleteVisit:
		if err := e.ensureMark(ctx, v.EnsureSaved); err != nil {
			return err
		}
		// History first: an interruption leaves both records, which a
		// refresh resolves in favour of history.
		if err := e.putRecord(ctx, remote.CollectionVisitHistory, v.History.VisitID, v.History); err != nil {
			return err
		}
		return e.deleteRecord(ctx, remote.CollectionPlannedVisits, v.History.VisitID)

	case *oplog.DeleteVisit:
		return e.deleteRecord(ctx, remote.CollectionPlannedVisits, v.VisitID)

	case *oplog.AddReview:
		if err := e.ensureMark(ctx, v.EnsureSaved); err != nil {
			return err
		}
		if err := e.putRecord(ctx, remote.CollectionVisitHistory, v.History.VisitID, v.History); err != nil {
			return err
		}
		if v.RemovePlanned {
			return e.deleteRecord(ctx, remote.CollectionPlannedVisits, v.History.VisitID)
		}
		return nil
	}
	return fmt.Errorf("unsupported operation payload %T", p)
}

// alreadyApplied reports whether the remote store already reflects p.
func (e *Engine) alreadyApplied(ctx context.Context, p oplog.Payload) (bool, error) {
	exists := func(c remote.Collection, key string) (bool, error) {
		_, ok, err := e.getRecord(ctx, c, key)
		return ok, err
	}
	matches := func(c remote.Collection, key string, want any) (bool, error) {
		doc, ok, err := e.getRecord(ctx, c, key)
		if err != nil || !ok {
			return false, err
		}
		return sameDocument(doc, want)
	}
	// all short-circuits on the first false or error.
	all := func(checks ...func() (bool, error)) (bool, error) {
		for _, check := range checks {
			ok, err := check()
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	markPresent := func(mark *models.SavedMark) func() (bool, error) {
		return func() (bool, error) {
			if mark == nil {
				return true, nil
			}
			return exists(remote.CollectionSavedMarks, e.markKey(mark.EntityID))
		}
	}
	plannedAbsent := func(visitID string) func() (bool, error) {
		return func() (bool, error) {
			ok, err := exists(remote.CollectionPlannedVisits, visitID)
			return !ok, err
		}
	}

	switch v := p.(type) {
	case *oplog.ToggleSave:
		ok, err := exists(remote.CollectionSavedMarks, e.markKey(v.Mark.EntityID))
		return ok == v.Saved, err

	case *oplog.ScheduleVisit:
		return all(
			func() (bool, error) { return matches(remote.CollectionPlannedVisits, v.Visit.VisitID, v.Visit) },
			markPresent(v.EnsureSaved),
		)

	case *oplog.UpdateVisit:
		return matches(remote.CollectionPlannedVisits, v.Visit.VisitID, v.Visit)

	case *oplog.CompleteVisit:
		return all(
			func() (bool, error) { return matches(remote.CollectionVisitHistory, v.History.VisitID, v.History) },
			plannedAbsent(v.History.VisitID),
			markPresent(v.EnsureSaved),
		)

	case *oplog.DeleteVisit:
		return plannedAbsent(v.VisitID)()

	case *oplog.AddReview:
		checks := []func() (bool, error){
			func() (bool, error) { return matches(remote.CollectionVisitHistory, v.History.VisitID, v.History) },
			markPresent(v.EnsureSaved),
		}
		if v.RemovePlanned {
			checks = append(checks, plannedAbsent(v.History.VisitID))
		}
		return all(checks...)
	}
	return false, nil
}

// sameDocument compares a remote document with the document form of want.
func sameDocument(doc remote.Document, want any) (bool, error) {
	wantDoc, err := models.ToDocument(want)
	if err != nil {
		return false, err
	}
	a, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	b, err := json.Marshal(wantDoc)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}

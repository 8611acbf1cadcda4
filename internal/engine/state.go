// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/store"
)

// model is the in-memory view of one user's records. It mirrors the store
// tables and is only written while the sync lock is held.
type model struct {
	saved   map[string]models.SavedMark    // by entity id
	planned map[string]models.PlannedVisit // by visit id
	history map[string]models.VisitHistory // by visit id
}

func newModel() *model {
	return &model{
		saved:   make(map[string]models.SavedMark),
		planned: make(map[string]models.PlannedVisit),
		history: make(map[string]models.VisitHistory),
	}
}

// write is one pending change to a store table.
type write struct {
	table  store.Table
	id     string
	value  any
	delete bool
}

func put(table store.Table, id string, v any) write {
	return write{table: table, id: id, value: v}
}

func del(table store.Table, id string) write {
	return write{table: table, id: id, delete: true}
}

// plan returns the writes that apply p to m with every touched record in
// phase. It does not modify m.
func (m *model) plan(p oplog.Payload, phase models.SyncPhase) []write {
	var w []write
	ensure := func(mark *models.SavedMark) {
		if mark == nil {
			return
		}
		if _, ok := m.saved[mark.EntityID]; ok {
			return
		}
		mk := *mark
		mk.Phase = phase
		w = append(w, put(store.TableSaved, mk.EntityID, mk))
	}

	switch v := p.(type) {
	case *oplog.ToggleSave:
		if v.Saved {
			mk := v.Mark
			mk.Phase = phase
			w = append(w, put(store.TableSaved, mk.EntityID, mk))
		} else {
			w = append(w, del(store.TableSaved, v.Mark.EntityID))
		}

	case *oplog.ScheduleVisit:
		ensure(v.EnsureSaved)
		visit := v.Visit
		visit.Phase = phase
		w = append(w, put(store.TablePlanned, visit.VisitID, visit))

	case *oplog.UpdateVisit:
		// A visit that already reached history cannot be edited back.
		if _, done := m.history[v.Visit.VisitID]; done {
			break
		}
		visit := v.Visit
		visit.Phase = phase
		w = append(w, put(store.TablePlanned, visit.VisitID, visit))

	case *oplog.CompleteVisit:
		ensure(v.EnsureSaved)
		h := v.History
		h.Phase = phase
		w = append(w,
			del(store.TablePlanned, h.VisitID),
			put(store.TableHistory, h.VisitID, h))

	case *oplog.DeleteVisit:
		w = append(w, del(store.TablePlanned, v.VisitID))

	case *oplog.AddReview:
		ensure(v.EnsureSaved)
		h := v.History
		h.Phase = phase
		if v.RemovePlanned {
			w = append(w, del(store.TablePlanned, h.VisitID))
		}
		w = append(w, put(store.TableHistory, h.VisitID, h))
	}
	return w
}

// commit applies writes to m. The writes must already be durable.
func (m *model) commit(writes []write) {
	for _, w := range writes {
		switch w.table {
		case store.TableSaved:
			if w.delete {
				delete(m.saved, w.id)
			} else {
				m.saved[w.id] = w.value.(models.SavedMark)
			}
		case store.TablePlanned:
			if w.delete {
				delete(m.planned, w.id)
			} else {
				m.planned[w.id] = w.value.(models.PlannedVisit)
			}
		case store.TableHistory:
			if w.delete {
				delete(m.history, w.id)
			} else {
				m.history[w.id] = w.value.(models.VisitHistory)
			}
		}
	}
}

// apply plans and commits p in one step. Used where durability is handled
// for the whole model at once.
func (m *model) apply(p oplog.Payload, phase models.SyncPhase) {
	m.commit(m.plan(p, phase))
}

// footprint names the records an operation covers.
type footprint struct {
	mark  string // entity id of a saved mark, or ""
	visit string // visit id of a planned or history record, or ""
}

func footprintOf(p oplog.Payload) footprint {
	markOf := func(mk *models.SavedMark) string {
		if mk == nil {
			return ""
		}
		return mk.EntityID
	}
	switch v := p.(type) {
	case *oplog.ToggleSave:
		return footprint{mark: v.Mark.EntityID}
	case *oplog.ScheduleVisit:
		return footprint{mark: markOf(v.EnsureSaved), visit: v.Visit.VisitID}
	case *oplog.UpdateVisit:
		return footprint{visit: v.Visit.VisitID}
	case *oplog.CompleteVisit:
		return footprint{mark: markOf(v.EnsureSaved), visit: v.History.VisitID}
	case *oplog.DeleteVisit:
		return footprint{visit: v.VisitID}
	case *oplog.AddReview:
		return footprint{mark: markOf(v.EnsureSaved), visit: v.History.VisitID}
	}
	return footprint{}
}

// rephase returns writes that move the records covered by p to phase. A
// record still covered by one of the pending operations stays queued.
func (m *model) rephase(p oplog.Payload, phase models.SyncPhase, pending []*oplog.Operation) []write {
	marks := make(map[string]bool)
	visits := make(map[string]bool)
	for _, op := range pending {
		fp := footprintOf(op.Payload)
		if fp.mark != "" {
			marks[fp.mark] = true
		}
		if fp.visit != "" {
			visits[fp.visit] = true
		}
	}
	phaseFor := func(stillPending bool) models.SyncPhase {
		if stillPending {
			return models.PhaseQueuedForRetry
		}
		return phase
	}

	var w []write
	fp := footprintOf(p)
	if fp.mark != "" {
		if mk, ok := m.saved[fp.mark]; ok {
			if next := phaseFor(marks[fp.mark]); mk.Phase != next {
				mk.Phase = next
				w = append(w, put(store.TableSaved, mk.EntityID, mk))
			}
		}
	}
	if fp.visit != "" {
		next := phaseFor(visits[fp.visit])
		if v, ok := m.planned[fp.visit]; ok && v.Phase != next {
			v.Phase = next
			w = append(w, put(store.TablePlanned, v.VisitID, v))
		}
		if h, ok := m.history[fp.visit]; ok && h.Phase != next {
			h.Phase = next
			w = append(w, put(store.TableHistory, h.VisitID, h))
		}
	}
	return w
}

// normalize drops planned visits that also appear in history. A completion
// interrupted between its history write and planned delete leaves both
// remotely; history wins.
func (m *model) normalize() {
	for id := range m.history {
		delete(m.planned, id)
	}
}

// persistWrites commits writes for userID in one transaction.
func persistWrites(s *store.Store, userID string, writes []write) error {
	if len(writes) == 0 {
		return nil
	}
	return s.Update(userID, func(tx *store.Tx) error {
		for _, w := range writes {
			var err error
			if w.delete {
				err = tx.Delete(w.table, w.id)
			} else {
				err = tx.Put(w.table, w.id, w.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// persistModel replaces every record table of userID with m.
func persistModel(s *store.Store, userID string, m *model) error {
	return s.Update(userID, func(tx *store.Tx) error {
		for _, t := range []store.Table{store.TableSaved, store.TablePlanned, store.TableHistory} {
			if err := tx.Clear(t); err != nil {
				return err
			}
		}
		for id, mk := range m.saved {
			if err := tx.Put(store.TableSaved, id, mk); err != nil {
				return err
			}
		}
		for id, v := range m.planned {
			if err := tx.Put(store.TablePlanned, id, v); err != nil {
				return err
			}
		}
		for id, h := range m.history {
			if err := tx.Put(store.TableHistory, id, h); err != nil {
				return err
			}
		}
		return nil
	})
}

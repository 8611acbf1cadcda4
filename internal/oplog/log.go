// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package oplog is the durable operation log: the pending mutations of one
// user that the remote store has not yet confirmed.
//
// Invariants:
//   - at most one operation per (kind, target); a later intent replaces the
//     payload and timestamp of the earlier one in place
//   - every mutating call commits to the local store before returning
//   - records that fail to decode on load are dropped and logged
//
// Append also applies supersession so that a visit's lifecycle collapses to
// the operation that describes its final state: completing or reviewing a
// visit drops its pending schedule and update, an update folds into a pending
// schedule, a review folds into a pending completion of the same visit, and a
// toggle-save overrides any saved mark implied by visit operations on the
// same entity. After supersession no two pending operations share a target
// except a toggle-save and the visit operations of its entity, so replay
// order only matters across different targets.
package oplog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/store"
)

// Errors
var (
	// ErrNotFound is returned when an operation id is unknown.
	ErrNotFound = errors.New("operation not found")

	// ErrInvalidPayload is returned for payloads without a target.
	ErrInvalidPayload = errors.New("operation payload has no target")
)

// AppendResult describes how Append changed the log.
type AppendResult int

const (
	// Appended means a new operation was added.
	Appended AppendResult = iota
	// Replaced means an existing (kind, target) operation was updated in place.
	Replaced
	// Folded means the intent was merged into a different pending operation.
	Folded
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Folded:
		return "folded"
	default:
		return "unknown"
	}
}

// Log is the pending-operation log for one user.
type Log struct {
	store  *store.Store
	userID string
	now    func() time.Time

	mu      sync.Mutex
	ops     []*Operation
	nextSeq uint64
}

// Open loads the persisted log for userID. Corrupt entries are discarded and
// their count returned; they never prevent the log from opening.
func Open(s *store.Store, userID string) (*Log, int, error) {
	l := &Log{
		store:  s,
		userID: userID,
		now:    func() time.Time { return time.Now().UTC() },
	}

	corrupt, err := s.Scan(store.TablePending, userID, func(id string, raw []byte) error {
		var op Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return err
		}
		if op.ID != id {
			return fmt.Errorf("operation id %q stored under key %q", op.ID, id)
		}
		l.ops = append(l.ops, &op)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load operation log: %w", err)
	}

	sort.SliceStable(l.ops, func(i, j int) bool { return l.ops[i].seq < l.ops[j].seq })
	if n := len(l.ops); n > 0 {
		l.nextSeq = l.ops[n-1].seq + 1
	}
	l.dedupLoaded()
	UpdatePending(l.userID, len(l.ops))

	if corrupt > 0 {
		logging.Warn().
			Str("user_id", userID).
			Int("discarded", corrupt).
			Msg("discarded unreadable pending operations; their intents are lost")
	}
	logging.Debug().Str("user_id", userID).Int("pending", len(l.ops)).Msg("operation log opened")
	return l, corrupt, nil
}

// dedupLoaded keeps the newest operation per (kind, target) in case a crash
// left duplicates behind. The losers are removed from the store.
func (l *Log) dedupLoaded() {
	latest := make(map[string]int, len(l.ops))
	var dropped []string
	for i, op := range l.ops {
		key := dedupKey(op.Kind, op.Target)
		if prev, ok := latest[key]; ok {
			dropped = append(dropped, l.ops[prev].ID)
			l.ops[prev] = nil
		}
		latest[key] = i
	}
	if len(dropped) == 0 {
		return
	}
	kept := l.ops[:0]
	for _, op := range l.ops {
		if op != nil {
			kept = append(kept, op)
		}
	}
	l.ops = kept
	if err := l.store.Update(l.userID, func(tx *store.Tx) error {
		for _, id := range dropped {
			if err := tx.Delete(store.TablePending, id); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		logging.Warn().Err(err).Msg("failed to purge duplicate pending operations")
	}
}

func dedupKey(k Kind, target string) string {
	return k.String() + "\x00" + target
}

// UserID returns the owning user.
func (l *Log) UserID() string {
	return l.userID
}

// change accumulates the effect of one mutating call so it can be committed
// in a single transaction and then applied to memory.
type change struct {
	puts    []*Operation
	deletes []string
}

func (l *Log) commit(c change) error {
	if len(c.puts) == 0 && len(c.deletes) == 0 {
		return nil
	}
	return l.store.Update(l.userID, func(tx *store.Tx) error {
		for _, id := range c.deletes {
			if err := tx.Delete(store.TablePending, id); err != nil {
				return err
			}
		}
		for _, op := range c.puts {
			if err := tx.Put(store.TablePending, op.ID, op); err != nil {
				return err
			}
		}
		return nil
	})
}

// Append records the intent p, enforcing dedup and supersession. The
// returned operation is a copy of the entry that now carries the intent.
func (l *Log) Append(p Payload) (*Operation, AppendResult, error) {
	if p == nil || p.Target() == "" {
		return nil, 0, ErrInvalidPayload
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	seqBefore := l.nextSeq
	working := make([]*Operation, len(l.ops))
	for i, op := range l.ops {
		working[i] = op.clone()
	}
	var c change
	touched := make(map[string]*Operation)
	remove := make(map[string]bool)

	find := func(k Kind, target string) *Operation {
		for _, op := range working {
			if op.Kind == k && op.Target == target && !remove[op.ID] {
				return op
			}
		}
		return nil
	}
	drop := func(op *Operation) {
		remove[op.ID] = true
		c.deletes = append(c.deletes, op.ID)
		delete(touched, op.ID)
		RecordSuperseded(op.Kind)
	}

	target := p.Target()
	var result *Operation
	outcome := Appended

	switch v := p.(type) {
	case *UpdateVisit:
		if sched := find(KindScheduleVisit, target); sched != nil {
			prev := sched.Payload.(*ScheduleVisit)
			sched.Payload = &ScheduleVisit{Visit: v.Visit, EnsureSaved: prev.EnsureSaved}
			sched.EnqueuedAt = now
			touched[sched.ID] = sched
			result, outcome = sched, Folded
		}

	case *CompleteVisit:
		v.EnsureSaved = l.absorbVisitOps(find, drop, target, v.EnsureSaved)

	case *AddReview:
		if v.RemovePlanned {
			v.EnsureSaved = l.absorbVisitOps(find, drop, target, v.EnsureSaved)
		}
		// A review of a visit whose completion is still pending rides on
		// that completion, so the two never replay out of order.
		if comp := find(KindCompleteVisit, target); comp != nil {
			ensure := comp.Payload.(*CompleteVisit).EnsureSaved
			if v.EnsureSaved != nil {
				ensure = v.EnsureSaved
			}
			comp.Payload = &CompleteVisit{History: v.History, EnsureSaved: ensure}
			comp.EnqueuedAt = now
			touched[comp.ID] = comp
			result, outcome = comp, Folded
		}

	case *DeleteVisit:
		if upd := find(KindUpdateVisit, target); upd != nil {
			drop(upd)
		}
		if sched := find(KindScheduleVisit, target); sched != nil {
			drop(sched)
			// The visit never reached the remote, but its auto-saved mark
			// is still wanted.
			if mark := sched.Payload.(*ScheduleVisit).EnsureSaved; mark != nil && find(KindToggleSave, mark.EntityID) == nil {
				op := l.newOperation(&ToggleSave{Mark: *mark, Saved: true}, now)
				working = append(working, op)
				touched[op.ID] = op
			}
		}

	case *ToggleSave:
		// The explicit toggle is now the authority for this entity's mark.
		for _, op := range working {
			if remove[op.ID] || entityOf(op.Payload) != v.Mark.EntityID {
				continue
			}
			if stripped, ok := withoutEnsureSaved(op.Payload); ok {
				op.Payload = stripped
				touched[op.ID] = op
			}
		}
	}

	if result == nil {
		if existing := find(p.Kind(), target); existing != nil {
			existing.Payload = p
			existing.EnqueuedAt = now
			touched[existing.ID] = existing
			result, outcome = existing, Replaced
		} else {
			op := l.newOperation(p, now)
			working = append(working, op)
			touched[op.ID] = op
			result = op
		}
	}

	for _, op := range touched {
		c.puts = append(c.puts, op)
	}
	if err := l.commit(c); err != nil {
		l.nextSeq = seqBefore
		return nil, 0, fmt.Errorf("persist operation log: %w", err)
	}

	kept := working[:0]
	for _, op := range working {
		if !remove[op.ID] {
			kept = append(kept, op)
		}
	}
	l.ops = kept

	RecordAppend(p.Kind(), outcome)
	UpdatePending(l.userID, len(l.ops))
	return result.clone(), outcome, nil
}

// absorbVisitOps drops pending schedule and update operations for a visit
// that is being completed, returning the saved mark the new operation must
// carry.
func (l *Log) absorbVisitOps(find func(Kind, string) *Operation, drop func(*Operation), visitID string, ensure *models.SavedMark) *models.SavedMark {
	if upd := find(KindUpdateVisit, visitID); upd != nil {
		drop(upd)
	}
	if sched := find(KindScheduleVisit, visitID); sched != nil {
		if ensure == nil {
			ensure = sched.Payload.(*ScheduleVisit).EnsureSaved
		}
		drop(sched)
	}
	return ensure
}

func (l *Log) newOperation(p Payload, now time.Time) *Operation {
	op := &Operation{
		ID:         uuid.New().String(),
		Kind:       p.Kind(),
		Target:     p.Target(),
		Payload:    p,
		EnqueuedAt: now,
		seq:        l.nextSeq,
	}
	l.nextSeq++
	return op
}

// withoutEnsureSaved returns a copy of p with its implied saved mark removed,
// or false if p carries none.
func withoutEnsureSaved(p Payload) (Payload, bool) {
	switch v := p.(type) {
	case *ScheduleVisit:
		if v.EnsureSaved == nil {
			return nil, false
		}
		cp := *v
		cp.EnsureSaved = nil
		return &cp, true
	case *CompleteVisit:
		if v.EnsureSaved == nil {
			return nil, false
		}
		cp := *v
		cp.EnsureSaved = nil
		return &cp, true
	case *AddReview:
		if v.EnsureSaved == nil {
			return nil, false
		}
		cp := *v
		cp.EnsureSaved = nil
		return &cp, true
	default:
		return nil, false
	}
}

// ListAll returns copies of all pending operations in insertion order.
func (l *Log) ListAll() []*Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Operation, len(l.ops))
	for i, op := range l.ops {
		out[i] = op.clone()
	}
	return out
}

// Find returns the pending operation for (kind, target), if any.
func (l *Log) Find(k Kind, target string) (*Operation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.ops {
		if op.Kind == k && op.Target == target {
			return op.clone(), true
		}
	}
	return nil, false
}

// HasPendingFor reports whether any pending operation touches entityID or
// targets the given id.
func (l *Log) HasPendingFor(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.ops {
		if op.Target == id || entityOf(op.Payload) == id {
			return true
		}
	}
	return false
}

// Count returns the number of pending operations.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// RemoveByIDs deletes the given operations. Unknown ids are ignored.
func (l *Log) RemoveByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	set := make(map[string]bool, len(ids))
	var c change
	for _, id := range ids {
		set[id] = true
	}
	for _, op := range l.ops {
		if set[op.ID] {
			c.deletes = append(c.deletes, op.ID)
		}
	}
	if err := l.commit(c); err != nil {
		return fmt.Errorf("persist operation log: %w", err)
	}

	kept := l.ops[:0]
	for _, op := range l.ops {
		if !set[op.ID] {
			kept = append(kept, op)
		}
	}
	l.ops = kept
	RecordRemoved(len(c.deletes))
	UpdatePending(l.userID, len(l.ops))
	return nil
}

// Discard removes the operation for (kind, target) if one is pending. Used
// when a direct remote write confirmed a newer intent for the same target.
func (l *Log) Discard(k Kind, target string) error {
	op, ok := l.Find(k, target)
	if !ok {
		return nil
	}
	return l.RemoveByIDs([]string{op.ID})
}

// ReplaceAll swaps the whole log for ops, preserving their order.
func (l *Log) ReplaceAll(ops []*Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var c change
	for _, op := range l.ops {
		c.deletes = append(c.deletes, op.ID)
	}
	next := make([]*Operation, 0, len(ops))
	seen := make(map[string]bool, len(ops))
	seq := l.nextSeq
	for _, op := range ops {
		if op == nil || op.Payload == nil || op.Target == "" {
			return ErrInvalidPayload
		}
		key := dedupKey(op.Kind, op.Target)
		if seen[key] {
			return fmt.Errorf("duplicate pending operation for %s %s", op.Kind, op.Target)
		}
		seen[key] = true
		cp := op.clone()
		if cp.ID == "" {
			cp.ID = uuid.New().String()
		}
		cp.seq = seq
		seq++
		next = append(next, cp)
		c.puts = append(c.puts, cp)
	}
	// Deletes run before puts in commit, so ids present in both survive.
	if err := l.commit(c); err != nil {
		return fmt.Errorf("persist operation log: %w", err)
	}
	l.ops = next
	l.nextSeq = seq
	UpdatePending(l.userID, len(l.ops))
	return nil
}

// RecordFailure increments the retry count of id and stores cause.
func (l *Log) RecordFailure(id string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, op := range l.ops {
		if op.ID != id {
			continue
		}
		updated := op.clone()
		updated.RetryCount++
		updated.LastAttemptAt = l.now()
		if cause != nil {
			updated.LastError = cause.Error()
		}
		if err := l.commit(change{puts: []*Operation{updated}}); err != nil {
			return fmt.Errorf("persist operation log: %w", err)
		}
		l.ops[i] = updated
		RecordRetry(updated.Kind)
		return nil
	}
	return ErrNotFound
}

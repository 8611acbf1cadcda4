// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"context"
	"strings"
	"time"

	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/metrics"
	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/validation"
)

// Operation names used in errors, logs, metrics and lock ownership.
const (
	OpToggleSave    = "toggle-save"
	OpDeleteSaved   = "delete-saved"
	OpScheduleVisit = "schedule-visit"
	OpUpdateVisit   = "update-visit"
	OpCompleteVisit = "complete-visit"
	OpDeleteVisit   = "delete-visit"
	OpAddReview     = "add-review"
)

// Result describes the outcome of a mutation.
type Result struct {
	Op     string           `json:"op"`
	Target string           `json:"target,omitempty"`
	Phase  models.SyncPhase `json:"phase,omitempty"`

	// NoOp is set when the mutation changed nothing.
	NoOp bool `json:"noop,omitempty"`

	// Saved is the entity's saved state after toggle-save or delete-saved.
	Saved bool `json:"saved"`

	Visit   *models.PlannedVisit `json:"visit,omitempty"`
	History *models.VisitHistory `json:"history,omitempty"`

	// Pending is the operation log size after the mutation.
	Pending int `json:"pending"`
}

// VisitPatch lists the fields update-visit changes. Nil fields are kept.
type VisitPatch struct {
	Date *time.Time `json:"date,omitempty"`
	Note *string    `json:"note,omitempty"`
}

// Review is the input of add-review. Entity is needed only when the visit
// is not known locally.
type Review struct {
	VisitID string           `json:"visitId"`
	Entity  models.EntityRef `json:"entity"`
	Rating  int              `json:"rating"`
	Text    string           `json:"review,omitempty"`
}

// planFunc inspects the current state and returns the intent to apply, or
// nil when there is nothing to do. It runs with the lock held and must not
// modify m.
type planFunc func(m *model, now time.Time) (oplog.Payload, error)

// mutate is the shared shape of every mutation: take the lock, apply the
// intent locally, write it ahead to the operation log, then try to confirm
// it remotely. Remote or network failures leave the intent queued and are
// never returned to the caller.
func (e *Engine) mutate(ctx context.Context, op string, timeout time.Duration, plan planFunc) (res Result, err error) {
	start := time.Now()
	res.Op = op
	defer func() {
		if err != nil {
			kind, _ := KindOf(err)
			metrics.RecordMutationError(op, kind.String())
			return
		}
		phase := string(res.Phase)
		if res.NoOp {
			phase = "noop"
		}
		metrics.RecordMutation(op, phase, time.Since(start))
	}()
	defer e.recoverPanic(op, &err)

	grant, err := e.acquire(ctx, op, timeout)
	if err != nil {
		return res, err
	}
	defer grant.Release()

	e.mu.Lock()
	payload, err := plan(e.state, e.now().UTC())
	if err != nil || payload == nil {
		e.mu.Unlock()
		res.NoOp = err == nil
		res.Pending = e.log.Count()
		return res, err
	}
	res.Target = payload.Target()
	writes := e.state.plan(payload, models.PhaseAppliedLocally)
	if err := persistWrites(e.store, e.userID, writes); err != nil {
		e.mu.Unlock()
		return res, newError(KindCorruptLocalState, op, err)
	}
	e.state.commit(writes)
	e.mu.Unlock()
	e.publishMutation(ctx, op, payload, models.PhaseAppliedLocally)

	queued, appendResult, err := e.log.Append(payload)
	if err != nil {
		return res, newError(KindCorruptLocalState, op, err)
	}

	phase := models.PhaseQueuedForRetry
	if e.network.IsOnline() {
		phase = e.confirm(grant.Context(), op, queued)
	}

	if grant.Valid() {
		if err := e.settle(queued.Payload, phase); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("failed to persist sync phase")
		}
	}

	logging.Ctx(ctx).Debug().
		Str("op", op).
		Str("target", res.Target).
		Str("log", appendResult.String()).
		Str("phase", string(phase)).
		Msg("mutation applied")

	e.publishMutation(ctx, op, payload, phase)
	return e.describe(res, payload, phase), nil
}

// confirm replays a freshly logged operation and removes it on success.
func (e *Engine) confirm(ctx context.Context, op string, queued *oplog.Operation) models.SyncPhase {
	if err := e.replay(ctx, queued.Payload); err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("op", op).
			Str("target", queued.Target).
			Msg("remote write failed, mutation queued for retry")
		if ferr := e.log.RecordFailure(queued.ID, err); ferr != nil {
			logging.Ctx(ctx).Warn().Err(ferr).Msg("failed to record replay failure")
		}
		return models.PhaseQueuedForRetry
	}
	e.cursor.markSynced(e.now())
	metrics.RecordSync(e.now())
	if err := e.log.RemoveByIDs([]string{queued.ID}); err != nil {
		// The remote holds the change; a later replay is a no-op.
		logging.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("failed to clear confirmed operation")
		return models.PhaseQueuedForRetry
	}
	return models.PhaseConfirmedRemote
}

func (e *Engine) describe(res Result, p oplog.Payload, phase models.SyncPhase) Result {
	res.Phase = phase
	res.Pending = e.log.Count()
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch v := p.(type) {
	case *oplog.ToggleSave:
		_, res.Saved = e.state.saved[v.Mark.EntityID]
	case *oplog.ScheduleVisit, *oplog.UpdateVisit:
		if visit, ok := e.state.planned[p.Target()]; ok {
			res.Visit = &visit
		}
	case *oplog.CompleteVisit, *oplog.AddReview:
		if h, ok := e.state.history[p.Target()]; ok {
			res.History = &h
		}
	}
	return res
}

func (e *Engine) publishMutation(ctx context.Context, op string, p oplog.Payload, phase models.SyncPhase) {
	ev := events.New(events.TypeMutation, e.userID)
	ev.Kind = op
	ev.Target = p.Target()
	ev.Phase = string(phase)
	switch v := p.(type) {
	case *oplog.ToggleSave:
		ev.EntityID = v.Mark.EntityID
	case *oplog.ScheduleVisit:
		ev.EntityID = v.Visit.EntityID
	case *oplog.UpdateVisit:
		ev.EntityID = v.Visit.EntityID
	case *oplog.CompleteVisit:
		ev.EntityID = v.History.EntityID
	case *oplog.DeleteVisit:
		ev.EntityID = v.EntityID
	case *oplog.AddReview:
		ev.EntityID = v.History.EntityID
	}
	e.publish(ctx, ev)
}

func validate(op string, req any) error {
	if verr := validation.ValidateStruct(req); verr != nil {
		return newError(KindInvalidArgument, op, verr)
	}
	return nil
}

// ToggleSave flips whether the user has saved the entity. snapshot is the
// entity descriptor stored with a new mark and may be nil.
func (e *Engine) ToggleSave(ctx context.Context, ref models.EntityRef, snapshot map[string]any) (Result, error) {
	return e.setSaved(ctx, OpToggleSave, ref, snapshot, nil)
}

// DeleteSaved removes the user's mark on the entity. It succeeds without
// effect when no mark exists.
func (e *Engine) DeleteSaved(ctx context.Context, ref models.EntityRef) (Result, error) {
	want := false
	return e.setSaved(ctx, OpDeleteSaved, ref, nil, &want)
}

// setSaved toggles the mark, or drives it to *want when want is non-nil.
func (e *Engine) setSaved(ctx context.Context, op string, ref models.EntityRef, snapshot map[string]any, want *bool) (Result, error) {
	if err := e.authorize(op); err != nil {
		return Result{Op: op}, err
	}
	entityID := ref.Canonical()
	if err := validate(op, &validation.ToggleSaveRequest{EntityID: entityID}); err != nil {
		return Result{Op: op}, err
	}

	res, err := e.mutate(ctx, op, e.cfg.ToggleLockTimeout, func(m *model, now time.Time) (oplog.Payload, error) {
		current, saved := m.saved[entityID]
		if want != nil && saved == *want {
			return nil, nil
		}
		if saved {
			return &oplog.ToggleSave{Mark: current, Saved: false}, nil
		}
		return &oplog.ToggleSave{Mark: models.SavedMark{
			EntityID:  entityID,
			UserID:    e.userID,
			Snapshot:  snapshot,
			CreatedAt: now,
			UpdatedAt: now,
		}, Saved: true}, nil
	})
	if res.NoOp {
		res.Target = entityID
		res.Saved = want != nil && *want
	}
	return res, err
}

// ScheduleVisit plans a visit to the entity on date. The entity is saved
// automatically if it is not already.
func (e *Engine) ScheduleVisit(ctx context.Context, ref models.EntityRef, date time.Time, note string, snapshot map[string]any) (Result, error) {
	const op = OpScheduleVisit
	if err := e.authorize(op); err != nil {
		return Result{Op: op}, err
	}
	entityID := ref.Canonical()
	note = strings.TrimSpace(note)
	if err := validate(op, &validation.ScheduleVisitRequest{EntityID: entityID, Date: date, Note: note}); err != nil {
		return Result{Op: op}, err
	}
	visitID := e.newID()

	return e.mutate(ctx, op, e.cfg.VisitLockTimeout, func(m *model, now time.Time) (oplog.Payload, error) {
		visit := models.PlannedVisit{
			VisitID:   visitID,
			EntityID:  entityID,
			UserID:    e.userID,
			Date:      date.UTC(),
			Note:      note,
			Status:    models.VisitPlanned,
			Snapshot:  snapshot,
			CreatedAt: now,
			UpdatedAt: now,
		}
		p := &oplog.ScheduleVisit{Visit: visit}
		if _, saved := m.saved[entityID]; !saved {
			p.EnsureSaved = &models.SavedMark{
				EntityID:  entityID,
				UserID:    e.userID,
				Snapshot:  snapshot,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		return p, nil
	})
}

// UpdateVisit changes the date or note of a planned visit.
func (e *Engine) UpdateVisit(ctx context.Context, visitID string, patch VisitPatch) (Result, error) {
	const op = OpUpdateVisit
	if err := e.authorize(op); err != nil {
		return Result{Op: op}, err
	}
	if patch.Note != nil {
		trimmed := strings.TrimSpace(*patch.Note)
		patch.Note = &trimmed
	}
	if err := validate(op, &validation.UpdateVisitRequest{VisitID: visitID, Date: patch.Date, Note: patch.Note}); err != nil {
		return Result{Op: op}, err
	}

	return e.mutate(ctx, op, e.cfg.VisitLockTimeout, func(m *model, now time.Time) (oplog.Payload, error) {
		visit, ok := m.planned[visitID]
		if !ok {
			return nil, invalidArgument(op, "no planned visit %q", visitID)
		}
		changed := false
		if patch.Date != nil && !patch.Date.UTC().Equal(visit.Date) {
			visit.Date = patch.Date.UTC()
			changed = true
		}
		if patch.Note != nil && *patch.Note != visit.Note {
			visit.Note = *patch.Note
			changed = true
		}
		if !changed {
			return nil, nil
		}
		visit.UpdatedAt = now
		return &oplog.UpdateVisit{Visit: visit}, nil
	})
}

// CompleteVisit moves a planned visit into history. A zero visitedAt means
// now. Completing an already completed visit is a no-op.
func (e *Engine) CompleteVisit(ctx context.Context, visitID string, visitedAt time.Time) (Result, error) {
	const op = OpCompleteVisit
	if err := e.authorize(op); err != nil {
		return Result{Op: op}, err
	}
	if err := validate(op, &validation.VisitRequest{VisitID: visitID}); err != nil {
		return Result{Op: op}, err
	}

	return e.mutate(ctx, op, e.cfg.CompleteLockTimeout, func(m *model, now time.Time) (oplog.Payload, error) {
		visit, ok := m.planned[visitID]
		if !ok {
			if _, done := m.history[visitID]; done {
				return nil, nil
			}
			return nil, invalidArgument(op, "no planned visit %q", visitID)
		}
		at := now
		if !visitedAt.IsZero() {
			at = visitedAt.UTC()
		}
		h := visit.Complete(at)
		h.UpdatedAt = now
		return &oplog.CompleteVisit{History: h}, nil
	})
}

// DeleteVisit removes a planned visit. Deleting an unknown visit is a no-op.
func (e *Engine) DeleteVisit(ctx context.Context, visitID string) (Result, error) {
	const op = OpDeleteVisit
	if err := e.authorize(op); err != nil {
		return Result{Op: op}, err
	}
	if err := validate(op, &validation.VisitRequest{VisitID: visitID}); err != nil {
		return Result{Op: op}, err
	}

	res, err := e.mutate(ctx, op, e.cfg.VisitLockTimeout, func(m *model, _ time.Time) (oplog.Payload, error) {
		visit, ok := m.planned[visitID]
		if !ok {
			return nil, nil
		}
		return &oplog.DeleteVisit{VisitID: visitID, EntityID: visit.EntityID}, nil
	})
	if res.NoOp {
		res.Target = visitID
	}
	return res, err
}

// AddReview rates a visit. A visit still planned is completed as part of
// the same mutation. An unknown visit id creates a history record directly,
// which requires r.Entity.
func (e *Engine) AddReview(ctx context.Context, r Review) (Result, error) {
	const op = OpAddReview
	if err := e.authorize(op); err != nil {
		return Result{Op: op}, err
	}
	entityID := r.Entity.Canonical()
	text := strings.TrimSpace(r.Text)
	req := &validation.AddReviewRequest{VisitID: r.VisitID, EntityID: entityID, Rating: r.Rating, Review: text}
	if err := validate(op, req); err != nil {
		return Result{Op: op}, err
	}

	return e.mutate(ctx, op, e.cfg.CompleteLockTimeout, func(m *model, now time.Time) (oplog.Payload, error) {
		review := func(h models.VisitHistory) models.VisitHistory {
			h.Rating = r.Rating
			h.Review = text
			h.HasReview = true
			h.UpdatedAt = now
			return h
		}
		if h, ok := m.history[r.VisitID]; ok {
			return &oplog.AddReview{History: review(h)}, nil
		}
		if visit, ok := m.planned[r.VisitID]; ok {
			return &oplog.AddReview{History: review(visit.Complete(now)), RemovePlanned: true}, nil
		}
		if entityID == "" {
			return nil, invalidArgument(op, "unknown visit %q requires an entity", r.VisitID)
		}
		return &oplog.AddReview{History: review(models.VisitHistory{
			VisitID:   r.VisitID,
			EntityID:  entityID,
			UserID:    e.userID,
			VisitedAt: now,
			Status:    models.VisitCompleted,
			CreatedAt: now,
		})}, nil
	})
}

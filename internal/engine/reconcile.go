// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/lock"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/metrics"
	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/remote"
)

// Routine names.
const (
	OpProcessQueue = "process-queue"
	OpFullRefresh  = "full-refresh"
	OpForceSync    = "force-sync"
)

// QueueReport summarizes a process-queue pass.
type QueueReport struct {
	// Processed counts operations confirmed and removed, including skipped ones.
	Processed int `json:"processed"`

	// Skipped counts operations the remote already reflected.
	Skipped int `json:"skipped"`

	// Failed counts operations that stay queued with a recorded failure.
	Failed int `json:"failed"`

	// Remaining is the log size after the pass.
	Remaining int `json:"remaining"`
}

// RefreshReport summarizes a full-refresh.
type RefreshReport struct {
	Saved   int `json:"saved"`
	Planned int `json:"planned"`
	History int `json:"history"`

	// Overlaid counts pending operations re-applied over the fetched state.
	Overlaid int `json:"overlaid"`

	// Stale is set when a newer refresh or a logout superseded this one and
	// its response was discarded.
	Stale bool `json:"stale,omitempty"`

	// Queue is the follow-up process-queue pass, if one ran.
	Queue *QueueReport `json:"queue,omitempty"`
}

// SyncOutcome is the result of ForceSync.
type SyncOutcome struct {
	Queue   QueueReport    `json:"queue"`
	Refresh *RefreshReport `json:"refresh,omitempty"`
}

// ProcessQueue replays pending operations against the remote store. A
// failed operation stays queued with its failure recorded and the pass
// continues with the next one.
func (e *Engine) ProcessQueue(ctx context.Context) (report QueueReport, err error) {
	const op = OpProcessQueue
	start := time.Now()
	defer func() { metrics.RecordReconcile(op, time.Since(start), err) }()
	defer e.recoverPanic(op, &err)

	if err := e.authorize(op); err != nil {
		return report, err
	}
	if !e.network.IsOnline() {
		report.Remaining = e.log.Count()
		return report, newError(KindOffline, op, nil)
	}
	if e.log.Count() == 0 {
		return report, nil
	}

	grant, err := e.acquire(ctx, op, e.cfg.QueueLockTimeout)
	if err != nil {
		report.Remaining = e.log.Count()
		return report, err
	}
	defer grant.Release()
	return e.processQueueLocked(ctx, grant)
}

// byPriority orders ops by the configured kind priority, then insertion.
func (e *Engine) byPriority(ops []*oplog.Operation) {
	rank := make(map[oplog.Kind]int, len(e.cfg.ReplayPriority))
	for i, k := range e.cfg.ReplayPriority {
		rank[k] = i
	}
	rankOf := func(k oplog.Kind) int {
		if r, ok := rank[k]; ok {
			return r
		}
		return len(rank)
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return rankOf(ops[i].Kind) < rankOf(ops[j].Kind)
	})
}

func (e *Engine) processQueueLocked(ctx context.Context, grant *lock.Grant) (QueueReport, error) {
	const op = OpProcessQueue
	var report QueueReport
	gctx := grant.Context()

	ops := e.log.ListAll()
	e.byPriority(ops)

	var (
		done      []string
		confirmed []oplog.Payload
		failed    []oplog.Payload
		transport int
	)
	for _, queued := range ops {
		if !grant.Valid() {
			logging.Ctx(ctx).Warn().Msg("sync lock lost during process-queue, stopping early")
			break
		}
		applied, err := e.alreadyApplied(gctx, queued.Payload)
		if err == nil && applied {
			report.Skipped++
			done = append(done, queued.ID)
			confirmed = append(confirmed, queued.Payload)
			continue
		}
		if err == nil {
			err = e.replay(gctx, queued.Payload)
		}
		if err != nil {
			report.Failed++
			if remote.IsTransport(err) {
				transport++
			}
			failed = append(failed, queued.Payload)
			if ferr := e.log.RecordFailure(queued.ID, err); ferr != nil {
				logging.Ctx(ctx).Warn().Err(ferr).Str("operation_id", queued.ID).Msg("failed to record replay failure")
			}
			logging.Ctx(ctx).Debug().
				Err(err).
				Str("kind", queued.Kind.String()).
				Str("target", queued.Target).
				Int("retry_count", queued.RetryCount+1).
				Msg("queued operation replay failed")
			e.publishReplay(ctx, queued, models.PhaseQueuedForRetry, err)
			continue
		}
		done = append(done, queued.ID)
		confirmed = append(confirmed, queued.Payload)
	}

	if err := e.log.RemoveByIDs(done); err != nil {
		report.Remaining = e.log.Count()
		return report, newError(KindCorruptLocalState, op, err)
	}
	report.Processed = len(done)
	report.Remaining = e.log.Count()

	if grant.Valid() {
		for _, p := range confirmed {
			if err := e.settle(p, models.PhaseConfirmedRemote); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("failed to persist sync phase")
			}
		}
		for _, p := range failed {
			if err := e.settle(p, models.PhaseQueuedForRetry); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("failed to persist sync phase")
			}
		}
	}
	for i, p := range confirmed {
		e.publishReplay(ctx, &oplog.Operation{ID: done[i], Kind: p.Kind(), Target: p.Target(), Payload: p}, models.PhaseConfirmedRemote, nil)
	}

	if report.Processed > 0 {
		now := e.now()
		e.cursor.markSynced(now)
		metrics.RecordSync(now)
	}
	metrics.RecordReplayOutcomes(report.Processed-report.Skipped, report.Skipped, report.Failed)

	ev := events.New(events.TypeQueueProcessed, e.userID)
	ev.Processed = report.Processed
	ev.Failed = report.Failed
	e.publish(ctx, ev)

	logging.Ctx(ctx).Info().
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("remaining", report.Remaining).
		Msg("processed operation queue")

	// Every attempt failing on transport means the remote is unreachable.
	if report.Processed == 0 && report.Failed > 0 && transport == report.Failed {
		return report, newError(KindRemoteTransport, op, fmt.Errorf("%d operations failed", report.Failed))
	}
	return report, nil
}

func (e *Engine) publishReplay(ctx context.Context, queued *oplog.Operation, phase models.SyncPhase, cause error) {
	ev := events.New(events.TypeReplay, e.userID)
	ev.Kind = queued.Kind.String()
	ev.Target = queued.Target
	ev.Phase = string(phase)
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.publish(ctx, ev)
}

// FullRefresh replaces local state with the remote's, re-applying pending
// operations on top so local intent survives, then runs process-queue if
// anything is pending. A refresh superseded by a newer refresh or a logout
// discards its response.
func (e *Engine) FullRefresh(ctx context.Context) (report RefreshReport, err error) {
	const op = OpFullRefresh
	start := time.Now()
	defer func() { metrics.RecordReconcile(op, time.Since(start), err) }()
	defer e.recoverPanic(op, &err)

	if err := e.authorize(op); err != nil {
		return report, err
	}
	if !e.network.IsOnline() {
		return report, newError(KindOffline, op, nil)
	}

	requestID := e.cursor.NextRequestID()
	report, err = e.refreshLocked(ctx, op, requestID)
	if err != nil || report.Stale || e.log.Count() == 0 {
		return report, err
	}

	q, qerr := e.ProcessQueue(ctx)
	report.Queue = &q
	if qerr != nil {
		logging.Ctx(ctx).Warn().Err(qerr).Msg("process-queue after full-refresh failed")
	}
	return report, nil
}

func (e *Engine) refreshLocked(ctx context.Context, op string, requestID uint64) (RefreshReport, error) {
	var report RefreshReport
	grant, err := e.acquire(ctx, op, e.cfg.RefreshLockTimeout)
	if err != nil {
		return report, err
	}
	defer grant.Release()

	fresh, dropped, err := e.fetchRemote(grant.Context())
	if err != nil {
		return report, newError(KindRemoteTransport, op, err)
	}
	if e.cursor.RequestID() != requestID || !grant.Valid() {
		logging.Ctx(ctx).Debug().Uint64("request_id", requestID).Msg("discarding superseded refresh")
		report.Stale = true
		return report, nil
	}
	if dropped > 0 {
		logging.Ctx(ctx).Warn().Int("dropped", dropped).Msg("skipped malformed remote documents")
	}

	pending := e.log.ListAll()
	for _, queued := range pending {
		fresh.apply(queued.Payload, models.PhaseQueuedForRetry)
	}

	if err := persistModel(e.store, e.userID, fresh); err != nil {
		return report, newError(KindCorruptLocalState, op, err)
	}
	e.mu.Lock()
	e.state = fresh
	e.mu.Unlock()

	now := e.now()
	e.cursor.markSynced(now)
	e.cursor.markLoaded()
	metrics.RecordSync(now)

	report.Saved = len(fresh.saved)
	report.Planned = len(fresh.planned)
	report.History = len(fresh.history)
	report.Overlaid = len(pending)

	e.publish(ctx, events.New(events.TypeRefreshed, e.userID))
	logging.Ctx(ctx).Info().
		Int("saved", report.Saved).
		Int("planned", report.Planned).
		Int("history", report.History).
		Int("overlaid", report.Overlaid).
		Msg("full refresh complete")
	return report, nil
}

// fetchRemote reads all three collections for the user into a new model.
// Documents that fail to decode or belong to another user are counted and
// skipped.
func (e *Engine) fetchRemote(ctx context.Context) (*model, int, error) {
	m := newModel()
	dropped := 0
	byUser := remote.Where("userId", e.userID)

	query := func(c remote.Collection) ([]remote.Document, error) {
		var docs []remote.Document
		err := e.call(ctx, func(ctx context.Context) error {
			var err error
			docs, err = e.remote.Query(ctx, c, byUser)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", c, err)
		}
		return docs, nil
	}

	docs, err := query(remote.CollectionSavedMarks)
	if err != nil {
		return nil, 0, err
	}
	for _, doc := range docs {
		var mk models.SavedMark
		if err := models.FromDocument(doc, &mk); err != nil || mk.EntityID == "" || mk.UserID != e.userID {
			dropped++
			continue
		}
		mk.Phase = models.PhaseConfirmedRemote
		m.saved[mk.EntityID] = mk
	}

	if docs, err = query(remote.CollectionPlannedVisits); err != nil {
		return nil, 0, err
	}
	for _, doc := range docs {
		var v models.PlannedVisit
		if err := models.FromDocument(doc, &v); err != nil || v.VisitID == "" || v.UserID != e.userID {
			dropped++
			continue
		}
		v.Phase = models.PhaseConfirmedRemote
		m.planned[v.VisitID] = v
	}

	if docs, err = query(remote.CollectionVisitHistory); err != nil {
		return nil, 0, err
	}
	for _, doc := range docs {
		var h models.VisitHistory
		if err := models.FromDocument(doc, &h); err != nil || h.VisitID == "" || h.UserID != e.userID {
			dropped++
			continue
		}
		h.Phase = models.PhaseConfirmedRemote
		m.history[h.VisitID] = h
	}

	m.normalize()
	return m, dropped, nil
}

// ForceSync runs process-queue followed by a full-refresh.
func (e *Engine) ForceSync(ctx context.Context) (SyncOutcome, error) {
	var out SyncOutcome
	if err := e.authorize(OpForceSync); err != nil {
		return out, err
	}
	if !e.network.IsOnline() {
		out.Queue.Remaining = e.log.Count()
		return out, newError(KindOffline, OpForceSync, nil)
	}

	q, err := e.ProcessQueue(ctx)
	out.Queue = q
	if err != nil && !errors.Is(err, ErrRemoteTransport) {
		return out, err
	}

	r, rerr := e.FullRefresh(ctx)
	if rerr != nil {
		return out, rerr
	}
	out.Refresh = &r
	return out, err
}

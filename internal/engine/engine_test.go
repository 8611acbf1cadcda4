// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/lock"
	"github.com/tomtom215/placesync/internal/models"
	"github.com/tomtom215/placesync/internal/network"
	"github.com/tomtom215/placesync/internal/oplog"
	"github.com/tomtom215/placesync/internal/remote"
	"github.com/tomtom215/placesync/internal/store"
)

// recorder is an events.Publisher that keeps everything it receives.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	store   *store.Store
	remote  *remote.Memory
	net     *network.Switch
	session *auth.StaticSession
	lock    *lock.Mutex
	events  *recorder
	cfg     Config
	engine  *Engine
	ids     int
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := DefaultConfig()
	cfg.ToggleLockTimeout = 100 * time.Millisecond
	cfg.VisitLockTimeout = 100 * time.Millisecond
	cfg.CompleteLockTimeout = 100 * time.Millisecond
	cfg.RemoteTimeout = time.Second

	h := &harness{
		t:       t,
		store:   s,
		remote:  remote.NewMemory(),
		net:     network.NewSwitch(online),
		session: auth.NewStaticSession("u1"),
		lock:    NewLock(5 * time.Second),
		events:  &recorder{},
		cfg:     cfg,
	}
	h.engine = h.open()
	return h
}

func (h *harness) open() *Engine {
	h.t.Helper()
	e, err := New(h.cfg, Deps{
		Store:   h.store,
		Remote:  h.remote,
		Network: h.net,
		Session: h.session,
		Lock:    h.lock,
		Events:  h.events,
		NewID: func() string {
			h.ids++
			return fmt.Sprintf("visit-%d", h.ids)
		},
	})
	if err != nil {
		h.t.Fatalf("New() error = %v", err)
	}
	h.t.Cleanup(e.Close)
	return e
}

func (h *harness) remoteDoc(c remote.Collection, key string) (remote.Document, bool) {
	h.t.Helper()
	doc, err := h.remote.Get(context.Background(), c, key)
	if remote.IsNotFound(err) {
		return nil, false
	}
	if err != nil {
		h.t.Fatalf("remote Get(%s, %s) error = %v", c, key, err)
	}
	return doc, true
}

func (h *harness) seedRemote(c remote.Collection, key string, v any) {
	h.t.Helper()
	doc, err := models.ToDocument(v)
	if err != nil {
		h.t.Fatalf("ToDocument() error = %v", err)
	}
	if err := h.remote.Put(context.Background(), c, key, doc); err != nil {
		h.t.Fatalf("remote Put() error = %v", err)
	}
}

// must fails the test on a mutation error: must(t)(e.ToggleSave(...)).
func must(t *testing.T) func(Result, error) Result {
	return func(res Result, err error) Result {
		t.Helper()
		if err != nil {
			t.Fatalf("mutation error = %v", err)
		}
		return res
	}
}

func savedIDs(t *testing.T, e *Engine) map[string]bool {
	t.Helper()
	marks, err := e.ListSavedMarks()
	if err != nil {
		t.Fatalf("ListSavedMarks() error = %v", err)
	}
	out := make(map[string]bool, len(marks))
	for _, mk := range marks {
		out[mk.EntityID] = true
	}
	return out
}

var ctx = context.Background()

func TestToggleSaveOnline(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	res := must(t)(e.ToggleSave(ctx, models.Ref("place-1"), map[string]any{"name": "Cafe"}))
	if !res.Saved || res.Phase != models.PhaseConfirmedRemote {
		t.Fatalf("ToggleSave() = %+v, want saved and confirmed", res)
	}
	if res.Pending != 0 || e.PendingOperationCount() != 0 {
		t.Errorf("pending = %d, want 0", e.PendingOperationCount())
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-1"); !ok {
		t.Error("remote should hold the saved mark under the user/entity key")
	}
	if saved, err := e.IsSaved(models.Ref("place-1")); err != nil || !saved {
		t.Errorf("IsSaved() = %v, %v; want true", saved, err)
	}
	mk, ok, _ := e.SavedMark(models.Ref("place-1"))
	if !ok || mk.Phase != models.PhaseConfirmedRemote {
		t.Errorf("SavedMark() = %+v, %v; want confirmed", mk, ok)
	}

	res = must(t)(e.ToggleSave(ctx, models.EntityRef{PlaceID: "place-1"}, nil))
	if res.Saved {
		t.Error("second toggle should unsave")
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-1"); ok {
		t.Error("remote mark should be deleted")
	}
	if saved, _ := e.IsSaved(models.Ref("place-1")); saved {
		t.Error("IsSaved() should be false after unsave")
	}
}

func TestToggleSaveOfflineThenReconnect(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine

	res := must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	if res.Phase != models.PhaseQueuedForRetry || !res.Saved {
		t.Fatalf("ToggleSave() offline = %+v, want saved and queued", res)
	}
	if e.PendingOperationCount() != 1 {
		t.Fatalf("pending = %d, want 1", e.PendingOperationCount())
	}
	if h.remote.Calls("put") != 0 {
		t.Error("offline mutation must not call the remote")
	}

	if _, err := e.ProcessQueue(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("ProcessQueue() offline error = %v, want ErrOffline", err)
	}

	h.net.Set(true)
	report, err := e.ProcessQueue(ctx)
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if report.Processed != 1 || report.Failed != 0 || report.Remaining != 0 {
		t.Errorf("report = %+v, want 1 processed and nothing remaining", report)
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-1"); !ok {
		t.Error("remote mark missing after replay")
	}
	mk, _, _ := e.SavedMark(models.Ref("place-1"))
	if mk.Phase != models.PhaseConfirmedRemote {
		t.Errorf("phase after replay = %q, want confirmed-remote", mk.Phase)
	}
	if e.Cursor().LastSync().IsZero() {
		t.Error("LastSync should advance after a successful replay")
	}
}

func TestOfflineToggleTwiceDedups(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine

	must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	res := must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	if res.Saved {
		t.Error("second toggle should unsave")
	}
	if n := e.PendingOperationCount(); n != 1 {
		t.Fatalf("pending = %d, want 1 after dedup", n)
	}

	h.net.Set(true)
	report, err := e.ProcessQueue(ctx)
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	// Unsave of a mark the remote never saw is already satisfied.
	if report.Skipped != 1 {
		t.Errorf("report = %+v, want the unsave skipped", report)
	}
	if h.remote.Len(remote.CollectionSavedMarks) != 0 {
		t.Error("remote should hold no marks")
	}
}

func TestScheduleVisitAutoSaves(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine

	res := must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC), "  lunch ", nil))
	if res.Visit == nil || res.Visit.VisitID != "visit-1" || res.Visit.Note != "lunch" {
		t.Fatalf("ScheduleVisit() visit = %+v", res.Visit)
	}
	if !savedIDs(t, e)["place-1"] {
		t.Error("scheduling should auto-save the entity")
	}
	if n := e.PendingOperationCount(); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	h.net.Set(true)
	if _, err := e.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-1"); !ok {
		t.Error("auto-saved mark should reach the remote with the visit")
	}
	if _, ok := h.remoteDoc(remote.CollectionPlannedVisits, "visit-1"); !ok {
		t.Error("planned visit missing on remote")
	}
}

func TestScheduleVisitKeepsExistingMark(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	puts := h.remote.Calls("put")
	must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Now(), "", nil))
	if got := h.remote.Calls("put") - puts; got != 1 {
		t.Errorf("schedule issued %d puts, want 1 for the visit only", got)
	}
}

func TestOfflineVisitLifecycleCollapses(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine

	must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Now(), "a", nil))
	note := "b"
	must(t)(e.UpdateVisit(ctx, "visit-1", VisitPatch{Note: &note}))
	if n := e.PendingOperationCount(); n != 1 {
		t.Fatalf("pending after update = %d, want 1 (folded)", n)
	}
	res := must(t)(e.CompleteVisit(ctx, "visit-1", time.Time{}))
	if res.History == nil || res.History.Note != "b" {
		t.Fatalf("CompleteVisit() history = %+v, want note b", res.History)
	}

	ops := e.PendingOperations()
	if len(ops) != 1 || ops[0].Kind != oplog.KindCompleteVisit {
		t.Fatalf("pending ops = %v, want a single complete-visit", ops)
	}
	if ops[0].Payload.(*oplog.CompleteVisit).EnsureSaved == nil {
		t.Error("complete-visit should carry the auto-saved mark")
	}

	planned, _ := e.ListPlannedVisits()
	history, _ := e.ListVisitHistory()
	if len(planned) != 0 || len(history) != 1 {
		t.Fatalf("planned = %d history = %d, want 0 and 1", len(planned), len(history))
	}

	h.net.Set(true)
	if _, err := e.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if _, ok := h.remoteDoc(remote.CollectionVisitHistory, "visit-1"); !ok {
		t.Error("history missing on remote")
	}
	if _, ok := h.remoteDoc(remote.CollectionPlannedVisits, "visit-1"); ok {
		t.Error("planned visit should not exist on remote")
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-1"); !ok {
		t.Error("auto-saved mark missing on remote")
	}
}

func TestDeleteVisitOfUnsyncedScheduleKeepsMark(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine

	must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Now(), "", nil))
	must(t)(e.DeleteVisit(ctx, "visit-1"))

	planned, _ := e.ListPlannedVisits()
	if len(planned) != 0 {
		t.Errorf("planned = %d, want 0", len(planned))
	}
	if !savedIDs(t, e)["place-1"] {
		t.Error("auto-saved mark should survive deleting the visit")
	}

	h.net.Set(true)
	if _, err := e.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-1"); !ok {
		t.Error("mark should still reach the remote")
	}
	if h.remote.Len(remote.CollectionPlannedVisits) != 0 {
		t.Error("deleted visit must never reach the remote")
	}
}

func TestAddReview(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, e *Engine)
		review      Review
		wantErr     error
		wantPlanned int
	}{
		{
			name: "completes planned visit",
			setup: func(t *testing.T, e *Engine) {
				must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Now(), "", nil))
			},
			review: Review{VisitID: "visit-1", Rating: 4, Text: "good"},
		},
		{
			name: "reviews history",
			setup: func(t *testing.T, e *Engine) {
				must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Now(), "", nil))
				must(t)(e.CompleteVisit(ctx, "visit-1", time.Now()))
			},
			review: Review{VisitID: "visit-1", Rating: 5},
		},
		{
			name:   "unknown visit with entity",
			setup:  func(*testing.T, *Engine) {},
			review: Review{VisitID: "ext-9", Entity: models.Ref("place-2"), Rating: 3},
		},
		{
			name:    "unknown visit without entity",
			setup:   func(*testing.T, *Engine) {},
			review:  Review{VisitID: "ext-9", Rating: 3},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "rating too low",
			setup:   func(*testing.T, *Engine) {},
			review:  Review{VisitID: "visit-1", Rating: 0},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "rating too high",
			setup:   func(*testing.T, *Engine) {},
			review:  Review{VisitID: "visit-1", Rating: 6},
			wantErr: ErrInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			tt.setup(t, h.engine)

			res, err := h.engine.AddReview(ctx, tt.review)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AddReview() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddReview() error = %v", err)
			}
			if res.History == nil || res.History.Rating != tt.review.Rating || !res.History.HasReview {
				t.Fatalf("history = %+v, want rating %d", res.History, tt.review.Rating)
			}
			if res.Phase != models.PhaseConfirmedRemote {
				t.Errorf("phase = %q, want confirmed-remote", res.Phase)
			}
			planned, _ := h.engine.ListPlannedVisits()
			if len(planned) != tt.wantPlanned {
				t.Errorf("planned = %d, want %d", len(planned), tt.wantPlanned)
			}
			doc, ok := h.remoteDoc(remote.CollectionVisitHistory, tt.review.VisitID)
			if !ok || doc["hasReview"] != true {
				t.Errorf("remote history = %v, want reviewed", doc)
			}
		})
	}
}

func TestInvalidArgumentsDoNotTakeLock(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	// Hold the lock so any acquisition attempt would fail with Busy.
	g, ok := h.lock.Acquire(ctx, "test", time.Second)
	if !ok {
		t.Fatal("could not take lock")
	}
	defer g.Release()

	tests := []struct {
		name string
		call func() error
	}{
		{"empty entity", func() error { _, err := e.ToggleSave(ctx, models.Ref(" "), nil); return err }},
		{"schedule without date", func() error {
			_, err := e.ScheduleVisit(ctx, models.Ref("p"), time.Time{}, "", nil)
			return err
		}},
		{"empty visit id", func() error { _, err := e.CompleteVisit(ctx, "", time.Time{}); return err }},
		{"bad rating", func() error { _, err := e.AddReview(ctx, Review{VisitID: "v", Rating: 9}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestUnknownVisit(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	note := "x"
	if _, err := e.UpdateVisit(ctx, "missing", VisitPatch{Note: &note}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateVisit() error = %v, want ErrInvalidArgument", err)
	}
	if _, err := e.CompleteVisit(ctx, "missing", time.Time{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("CompleteVisit() error = %v, want ErrInvalidArgument", err)
	}
	res, err := e.DeleteVisit(ctx, "missing")
	if err != nil || !res.NoOp {
		t.Errorf("DeleteVisit() = %+v, %v; want no-op", res, err)
	}
}

func TestDeleteSaved(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	res := must(t)(e.DeleteSaved(ctx, models.Ref("place-1")))
	if !res.NoOp || h.remote.Calls("delete") != 0 {
		t.Errorf("DeleteSaved() without mark = %+v, want no-op", res)
	}

	must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	res = must(t)(e.DeleteSaved(ctx, models.Ref("place-1")))
	if res.NoOp || res.Saved {
		t.Errorf("DeleteSaved() = %+v, want removal", res)
	}
	if savedIDs(t, e)["place-1"] {
		t.Error("mark should be gone")
	}
}

func TestUnauthenticated(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine
	h.session.SignOut()

	calls := map[string]func() error{
		"toggle":  func() error { _, err := e.ToggleSave(ctx, models.Ref("p"), nil); return err },
		"queue":   func() error { _, err := e.ProcessQueue(ctx); return err },
		"refresh": func() error { _, err := e.FullRefresh(ctx); return err },
		"list":    func() error { _, err := e.ListSavedMarks(); return err },
		"saved":   func() error { _, err := e.IsSaved(models.Ref("p")); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("error = %v, want ErrUnauthenticated", err)
			}
		})
	}

	// A different user signing in does not inherit this engine.
	h.session.SignIn("u2")
	if _, err := e.ToggleSave(ctx, models.Ref("p"), nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("other user error = %v, want ErrUnauthenticated", err)
	}
}

func TestNewRequiresSession(t *testing.T) {
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	_, err = New(DefaultConfig(), Deps{
		Store:   s,
		Remote:  remote.NewMemory(),
		Network: network.NewSwitch(true),
		Session: auth.NewStaticSession(""),
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("New() error = %v, want ErrUnauthenticated", err)
	}
}

func TestNewRejectsUnsafeUserID(t *testing.T) {
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	defer s.Close()

	_, err = New(DefaultConfig(), Deps{
		Store:   s,
		Remote:  remote.NewMemory(),
		Network: network.NewSwitch(true),
		Session: auth.NewStaticSession("a/b"),
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New() error = %v, want ErrInvalidArgument", err)
	}
}

func TestSavedMarksOfOverlappingUserIDsStayApart(t *testing.T) {
	h := newHarness(t, true)

	h.session.SignIn("a_b")
	eb := h.open()
	must(t)(eb.ToggleSave(ctx, models.Ref("c"), nil))

	h.session.SignIn("a")
	ea := h.open()
	must(t)(ea.ToggleSave(ctx, models.Ref("b_c"), nil))

	for _, key := range []string{"a_b/c", "a/b_c"} {
		if _, ok := h.remoteDoc(remote.CollectionSavedMarks, key); !ok {
			t.Errorf("remote missing %s", key)
		}
	}

	h.session.SignIn("a_b")
	if _, err := eb.FullRefresh(ctx); err != nil {
		t.Fatalf("FullRefresh() error = %v", err)
	}
	if saved, err := eb.IsSaved(models.Ref("c")); err != nil || !saved {
		t.Errorf("IsSaved(c) for a_b = %v, %v; want true", saved, err)
	}
	if saved, _ := eb.IsSaved(models.Ref("b_c")); saved {
		t.Error("a_b must not see a's mark")
	}
}

func TestAccessorsRejectInvalidEntityID(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	for _, id := range []string{"a/b", "x/", "nul\x00"} {
		t.Run(id, func(t *testing.T) {
			if _, err := e.IsSaved(models.Ref(id)); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("IsSaved(%q) error = %v, want ErrInvalidArgument", id, err)
			}
			if _, _, err := e.SavedMark(models.Ref(id)); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("SavedMark(%q) error = %v, want ErrInvalidArgument", id, err)
			}
		})
	}
}

func TestIsSavedFollowsEveryToggle(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = e.IsSaved(models.Ref("place-1"))
			}
		}
	}()

	for i := 0; i < 20; i++ {
		res := must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
		saved, err := e.IsSaved(models.Ref("place-1"))
		if err != nil || saved != res.Saved {
			t.Fatalf("toggle %d: IsSaved() = %v, %v; want %v", i, saved, err, res.Saved)
		}
	}
	close(stop)
	wg.Wait()
}

func TestBusy(t *testing.T) {
	h := newHarness(t, true)
	g, ok := h.lock.Acquire(ctx, "other", time.Second)
	if !ok {
		t.Fatal("could not take lock")
	}
	defer g.Release()

	_, err := h.engine.ToggleSave(ctx, models.Ref("place-1"), nil)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("ToggleSave() error = %v, want ErrBusy", err)
	}
	if savedIDs(t, h.engine)["place-1"] {
		t.Error("a Busy mutation must not change state")
	}
	if h.engine.PendingOperationCount() != 0 {
		t.Error("a Busy mutation must not queue anything")
	}
}

func TestRemoteFailureQueuesMutation(t *testing.T) {
	h := newHarness(t, true)
	h.remote.SetFailing(true)

	res := must(t)(h.engine.ToggleSave(ctx, models.Ref("place-1"), nil))
	if res.Phase != models.PhaseQueuedForRetry {
		t.Fatalf("phase = %q, want queued-for-retry", res.Phase)
	}
	ops := h.engine.PendingOperations()
	if len(ops) != 1 || ops[0].RetryCount != 1 || ops[0].LastError == "" {
		t.Fatalf("pending ops = %+v, want one with a recorded failure", ops)
	}

	report, err := h.engine.ProcessQueue(ctx)
	if !errors.Is(err, ErrRemoteTransport) {
		t.Errorf("ProcessQueue() error = %v, want ErrRemoteTransport", err)
	}
	if report.Failed != 1 || report.Remaining != 1 {
		t.Errorf("report = %+v, want 1 failed and 1 remaining", report)
	}

	h.remote.SetFailing(false)
	report, err = h.engine.ProcessQueue(ctx)
	if err != nil || report.Processed != 1 {
		t.Fatalf("ProcessQueue() = %+v, %v; want 1 processed", report, err)
	}
	mk, _, _ := h.engine.SavedMark(models.Ref("place-1"))
	if mk.Phase != models.PhaseConfirmedRemote {
		t.Errorf("phase = %q, want confirmed-remote", mk.Phase)
	}
}

func TestProcessQueueContinuesPastFailure(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine
	must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	must(t)(e.ToggleSave(ctx, models.Ref("place-2"), nil))

	h.net.Set(true)
	// The first remote call is the no-op check of the first operation.
	h.remote.FailNext(1)
	report, err := e.ProcessQueue(ctx)
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if report.Processed != 1 || report.Failed != 1 || report.Remaining != 1 {
		t.Fatalf("report = %+v, want 1 processed, 1 failed, 1 remaining", report)
	}
	ops := e.PendingOperations()
	if ops[0].Target != "place-1" || ops[0].RetryCount != 1 {
		t.Errorf("remaining op = %+v, want place-1 with one retry", ops[0])
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/place-2"); !ok {
		t.Error("second operation should have replayed")
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	e := h.engine
	must(t)(e.ScheduleVisit(ctx, models.Ref("place-1"), time.Now(), "", nil))
	must(t)(e.CompleteVisit(ctx, "visit-1", time.Now()))

	op := e.PendingOperations()[0]
	for i := 0; i < 2; i++ {
		if err := e.replay(ctx, op.Payload); err != nil {
			t.Fatalf("replay #%d error = %v", i+1, err)
		}
	}
	if n := h.remote.Len(remote.CollectionVisitHistory); n != 1 {
		t.Errorf("remote history = %d, want 1", n)
	}
	if n := h.remote.Len(remote.CollectionSavedMarks); n != 1 {
		t.Errorf("remote marks = %d, want 1", n)
	}

	applied, err := e.alreadyApplied(ctx, op.Payload)
	if err != nil || !applied {
		t.Errorf("alreadyApplied() = %v, %v; want true", applied, err)
	}

	h.net.Set(true)
	puts := h.remote.Calls("put")
	report, err := e.ProcessQueue(ctx)
	if err != nil || report.Skipped != 1 {
		t.Fatalf("ProcessQueue() = %+v, %v; want the replayed op skipped", report, err)
	}
	if h.remote.Calls("put") != puts {
		t.Error("a skipped operation must not write")
	}
}

func TestReplayPriority(t *testing.T) {
	h := newHarness(t, false)
	h.cfg.ReplayPriority = []oplog.Kind{oplog.KindScheduleVisit, oplog.KindToggleSave}
	e := h.open()
	h.engine.Close()

	must(t)(e.ToggleSave(ctx, models.Ref("place-1"), nil))
	must(t)(e.ScheduleVisit(ctx, models.Ref("place-2"), time.Now(), "", nil))

	h.net.Set(true)
	if _, err := e.ProcessQueue(ctx); err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	replays := h.events.ofType(events.TypeReplay)
	if len(replays) != 2 {
		t.Fatalf("replay events = %d, want 2", len(replays))
	}
	if replays[0].Kind != oplog.KindScheduleVisit.String() {
		t.Errorf("first replayed = %q, want schedule-visit", replays[0].Kind)
	}
}

func TestFullRefreshOverlaysPending(t *testing.T) {
	h := newHarness(t, true)
	e := h.engine
	h.seedRemote(remote.CollectionSavedMarks, "u1/a", models.SavedMark{EntityID: "a", UserID: "u1"})
	h.seedRemote(remote.CollectionSavedMarks, "u1/b", models.SavedMark{EntityID: "b", UserID: "u1"})
	h.seedRemote(remote.CollectionSavedMarks, "u2/z", models.SavedMark{EntityID: "z", UserID: "u2"})

	report, err := e.FullRefresh(ctx)
	if err != nil {
		t.Fatalf("FullRefresh() error = %v", err)
	}
	if report.Saved != 2 || !e.Cursor().Loaded() {
		t.Fatalf("report = %+v, want 2 saved and loaded", report)
	}

	h.net.Set(false)
	must(t)(e.ToggleSave(ctx, models.Ref("a"), nil)) // unsave
	must(t)(e.ToggleSave(ctx, models.Ref("c"), nil)) // save
	h.seedRemote(remote.CollectionSavedMarks, "u1/d", models.SavedMark{EntityID: "d", UserID: "u1"})

	h.net.Set(true)
	report, err = e.FullRefresh(ctx)
	if err != nil {
		t.Fatalf("FullRefresh() error = %v", err)
	}
	if report.Overlaid != 2 || report.Queue == nil || report.Queue.Processed != 2 {
		t.Fatalf("report = %+v, want 2 overlaid and replayed", report)
	}

	got := savedIDs(t, e)
	want := map[string]bool{"b": true, "c": true, "d": true}
	if len(got) != len(want) {
		t.Fatalf("saved = %v, want %v", got, want)
	}
	for id := range want {
		if !got[id] {
			t.Errorf("saved missing %q", id)
		}
	}
	if _, ok := h.remoteDoc(remote.CollectionSavedMarks, "u1/a"); ok {
		t.Error("unsave should reach the remote after refresh")
	}
	if saved, _ := e.IsSaved(models.Ref("a")); saved {
		t.Error("existence cache should reflect the refreshed state")
	}
}

func TestFullRefreshPrefersHistory(t *testing.T) {
	h := newHarness(t, true)
	h.seedRemote(remote.CollectionPlannedVisits, "v1", models.PlannedVisit{VisitID: "v1", EntityID: "a", UserID: "u1", Status: models.VisitPlanned})
	h.seedRemote(remote.CollectionVisitHistory, "v1", models.VisitHistory{VisitID: "v1", EntityID: "a", UserID: "u1", Status: models.VisitCompleted})

	report, err := h.engine.FullRefresh(ctx)
	if err != nil {
		t.Fatalf("FullRefresh() error = %v", err)
	}
	if report.Planned != 0 || report.History != 1 {
		t.Errorf("report = %+v, want the visit only in history", report)
	}
}

func TestFullRefreshErrors(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.engine.FullRefresh(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("offline FullRefresh() error = %v, want ErrOffline", err)
	}

	must(t)(h.engine.ToggleSave(ctx, models.Ref("a"), nil))
	h.net.Set(true)
	h.remote.SetFailing(true)
	if _, err := h.engine.FullRefresh(ctx); !errors.Is(err, ErrRemoteTransport) {
		t.Errorf("failing FullRefresh() error = %v, want ErrRemoteTransport", err)
	}
	if !savedIDs(t, h.engine)["a"] {
		t.Error("a failed refresh must leave local state untouched")
	}
}

func TestFullRefreshDiscardsSuperseded(t *testing.T) {
	h := newHarness(t, true)
	h.seedRemote(remote.CollectionSavedMarks, "u1/a", models.SavedMark{EntityID: "a", UserID: "u1"})
	h.remote.SetLatency(100 * time.Millisecond)

	done := make(chan RefreshReport, 1)
	go func() {
		r, err := h.engine.FullRefresh(ctx)
		if err != nil {
			t.Errorf("FullRefresh() error = %v", err)
		}
		done <- r
	}()

	time.Sleep(30 * time.Millisecond)
	h.engine.Cursor().NextRequestID()

	select {
	case r := <-done:
		if !r.Stale {
			t.Errorf("report = %+v, want stale", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("refresh did not finish")
	}
	if len(savedIDs(t, h.engine)) != 0 {
		t.Error("a superseded refresh must not replace local state")
	}
}

func TestForceSync(t *testing.T) {
	h := newHarness(t, false)
	must(t)(h.engine.ToggleSave(ctx, models.Ref("a"), nil))

	if _, err := h.engine.ForceSync(ctx); !errors.Is(err, ErrOffline) {
		t.Errorf("offline ForceSync() error = %v, want ErrOffline", err)
	}

	h.net.Set(true)
	out, err := h.engine.ForceSync(ctx)
	if err != nil {
		t.Fatalf("ForceSync() error = %v", err)
	}
	if out.Queue.Processed != 1 || out.Refresh == nil || out.Refresh.Saved != 1 {
		t.Errorf("ForceSync() = %+v, want replay then refresh", out)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	h := newHarness(t, false)
	must(t)(h.engine.ToggleSave(ctx, models.Ref("a"), nil))
	must(t)(h.engine.ScheduleVisit(ctx, models.Ref("b"), time.Now(), "", nil))
	h.engine.Close()

	e := h.open()
	if n := e.PendingOperationCount(); n != 2 {
		t.Errorf("pending after reopen = %d, want 2", n)
	}
	got := savedIDs(t, e)
	if !got["a"] || !got["b"] {
		t.Errorf("saved after reopen = %v, want a and b", got)
	}
	planned, _ := e.ListPlannedVisits()
	if len(planned) != 1 || planned[0].Phase != models.PhaseQueuedForRetry {
		t.Errorf("planned after reopen = %+v, want one queued visit", planned)
	}
}

func TestCloseInvalidatesEngine(t *testing.T) {
	h := newHarness(t, true)
	before := h.engine.Cursor().RequestID()
	h.engine.Close()
	h.engine.Close()

	if h.engine.Cursor().RequestID() == before {
		t.Error("Close should invalidate in-flight refreshes")
	}
	if _, err := h.engine.ToggleSave(ctx, models.Ref("a"), nil); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("ToggleSave() after Close error = %v, want ErrUnauthenticated", err)
	}
}

// panicRemote panics on writes.
type panicRemote struct {
	remote.Store
}

func (panicRemote) Put(context.Context, remote.Collection, string, remote.Document) error {
	panic("boom")
}

func TestPanicReleasesLock(t *testing.T) {
	h := newHarness(t, true)
	e, err := New(h.cfg, Deps{
		Store:   h.store,
		Remote:  panicRemote{Store: remote.NewMemory()},
		Network: h.net,
		Session: h.session,
		Lock:    h.lock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close()

	_, err = e.ToggleSave(ctx, models.Ref("a"), nil)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("ToggleSave() error = %v, want ErrInternal", err)
	}
	if h.lock.Held() {
		t.Error("lock must be released after a panic")
	}
}

func TestMutationEvents(t *testing.T) {
	h := newHarness(t, true)
	must(t)(h.engine.ToggleSave(ctx, models.Ref("a"), nil))

	got := h.events.ofType(events.TypeMutation)
	if len(got) != 2 {
		t.Fatalf("mutation events = %d, want 2", len(got))
	}
	if got[0].Phase != string(models.PhaseAppliedLocally) || got[1].Phase != string(models.PhaseConfirmedRemote) {
		t.Errorf("phases = %q then %q, want applied-locally then confirmed-remote", got[0].Phase, got[1].Phase)
	}
	if got[1].EntityID != "a" || got[1].UserID != "u1" {
		t.Errorf("event = %+v", got[1])
	}
}

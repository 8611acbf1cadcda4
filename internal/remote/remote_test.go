// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/placesync/internal/metrics"
)

// contract runs the Store contract against any implementation.
func contract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, CollectionSavedMarks, "u1/e1"); !IsNotFound(err) {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}

	docs := map[string]Document{
		"u1/e1": {"userId": "u1", "entityId": "e1"},
		"u1/e2": {"userId": "u1", "entityId": "e2"},
		"u2/e1": {"userId": "u2", "entityId": "e1"},
	}
	for k, d := range docs {
		if err := s.Put(ctx, CollectionSavedMarks, k, d); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
	}

	got, err := s.Get(ctx, CollectionSavedMarks, "u1/e2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got["entityId"] != "e2" {
		t.Errorf("Get() = %v, want entityId e2", got)
	}

	res, err := s.Query(ctx, CollectionSavedMarks, Where("userId", "u1"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(res) != 2 {
		t.Errorf("Query() returned %d documents, want 2", len(res))
	}

	res, err = s.Query(ctx, CollectionVisitHistory, Where("userId", "u1"))
	if err != nil || len(res) != 0 {
		t.Errorf("Query() on empty collection = %v, %v", res, err)
	}

	if err := s.Delete(ctx, CollectionSavedMarks, "u1/e1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, CollectionSavedMarks, "u1/e1"); !IsNotFound(err) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryContract(t *testing.T) {
	contract(t, NewMemory())
}

func TestHTTPStoreContract(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewMemory(), "secret"))
	defer srv.Close()

	s, err := NewHTTPStore(HTTPConfig{BaseURL: srv.URL, Token: "secret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTPStore() error = %v", err)
	}
	contract(t, s)
}

func TestBreakerStoreContract(t *testing.T) {
	contract(t, Instrument(NewBreakerStore(NewMemory(), BreakerConfig{Name: "contract"})))
}

func TestMemoryFaultInjection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.FailNext(1)
	if err := m.Put(ctx, CollectionPlannedVisits, "v1", Document{"a": 1}); !IsTransport(err) {
		t.Fatalf("Put() error = %v, want transport error", err)
	}
	if err := m.Put(ctx, CollectionPlannedVisits, "v1", Document{"a": 1}); err != nil {
		t.Fatalf("Put() after injected failure error = %v", err)
	}

	m.SetFailing(true)
	if _, err := m.Get(ctx, CollectionPlannedVisits, "v1"); !IsTransport(err) {
		t.Errorf("Get() while failing error = %v, want transport error", err)
	}
	m.SetFailing(false)

	m.SetLatency(50 * time.Millisecond)
	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_, err := m.Get(cctx, CollectionPlannedVisits, "v1")
	if !IsTransport(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() past deadline error = %v, want transport + deadline", err)
	}

	if m.Calls("put") != 2 || m.Calls("get") != 2 {
		t.Errorf("Calls = put %d get %d, want 2 and 2", m.Calls("put"), m.Calls("get"))
	}
}

func TestMemoryCopiesDocuments(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	doc := Document{"note": "a"}
	if err := m.Put(ctx, CollectionPlannedVisits, "v1", doc); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	doc["note"] = "mutated"

	got, _ := m.Get(ctx, CollectionPlannedVisits, "v1")
	if got["note"] != "a" {
		t.Errorf("stored document changed through caller map: %v", got)
	}
}

func TestMatches(t *testing.T) {
	doc := Document{"userId": "u1", "rating": float64(4), "hasReview": true}
	tests := []struct {
		name    string
		filters []Filter
		want    bool
	}{
		{"no filters", nil, true},
		{"string match", []Filter{Where("userId", "u1")}, true},
		{"int matches float", []Filter{Where("rating", 4)}, true},
		{"bool match", []Filter{Where("hasReview", true)}, true},
		{"mismatch", []Filter{Where("userId", "u2")}, false},
		{"missing field", []Filter{Where("status", "planned")}, false},
		{"all must match", []Filter{Where("userId", "u1"), Where("rating", 5)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(doc, tt.filters); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStoreErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	s, err := NewHTTPStore(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewHTTPStore() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, CollectionSavedMarks, "k", Document{}); !IsTransport(err) {
		t.Errorf("Put() on 500 error = %v, want transport", err)
	}

	status.Store(http.StatusNotFound)
	if _, err := s.Get(ctx, CollectionSavedMarks, "k"); !IsNotFound(err) {
		t.Errorf("Get() on 404 error = %v, want not found", err)
	}

	srv.Close()
	if _, err := s.Get(ctx, CollectionSavedMarks, "k"); !IsTransport(err) {
		t.Errorf("Get() on closed server error = %v, want transport", err)
	}
}

func TestHTTPStoreRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewHTTPStore(HTTPConfig{BaseURL: srv.URL, MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("NewHTTPStore() error = %v", err)
	}
	if err := s.Delete(context.Background(), CollectionPlannedVisits, "v1"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPStoreRejectsToken(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewMemory(), "secret"))
	defer srv.Close()

	s, _ := NewHTTPStore(HTTPConfig{BaseURL: srv.URL, Token: "wrong"})
	if _, err := s.Query(context.Background(), CollectionSavedMarks); !IsTransport(err) {
		t.Errorf("Query() with wrong token error = %v, want transport", err)
	}
}

func TestNewHTTPStoreValidation(t *testing.T) {
	for _, u := range []string{"", "ftp://x", "not a url", "http://"} {
		if _, err := NewHTTPStore(HTTPConfig{BaseURL: u}); err == nil {
			t.Errorf("NewHTTPStore(%q) should fail", u)
		}
	}
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	m := NewMemory()
	b := NewBreakerStore(m, BreakerConfig{Name: "test-open", FailureThreshold: 2, Timeout: time.Hour})
	ctx := context.Background()

	// Not-found does not count as a failure.
	for i := 0; i < 5; i++ {
		if _, err := b.Get(ctx, CollectionSavedMarks, "missing"); !IsNotFound(err) {
			t.Fatalf("Get() error = %v, want not found", err)
		}
	}
	if b.State() != "closed" {
		t.Fatalf("State() = %s, want closed", b.State())
	}

	m.SetFailing(true)
	for i := 0; i < 2; i++ {
		_ = b.Put(ctx, CollectionSavedMarks, "k", Document{})
	}
	if b.State() != "open" {
		t.Fatalf("State() = %s, want open", b.State())
	}

	m.SetFailing(false)
	before := m.Calls("put")
	if err := b.Put(ctx, CollectionSavedMarks, "k", Document{}); !IsTransport(err) {
		t.Errorf("Put() while open error = %v, want transport", err)
	}
	if m.Calls("put") != before {
		t.Error("open breaker must not reach the underlying store")
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test-open")); got != 2 {
		t.Errorf("circuit_breaker_state = %v, want 2", got)
	}
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/lock"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/network"
	"github.com/tomtom215/placesync/internal/remote"
	"github.com/tomtom215/placesync/internal/store"
	"github.com/tomtom215/placesync/internal/supervisor"
	"github.com/tomtom215/placesync/internal/websocket"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// testSessions is a Sessions without a scheduler so tests control every
// reconciliation pass.
type testSessions struct {
	store   *store.Store
	remote  *remote.Memory
	net     *network.Switch
	session *auth.StaticSession
	lock    *lock.Mutex
	cfg     engine.Config

	mu  sync.Mutex
	eng *engine.Engine
}

func (s *testSessions) Login(_ context.Context, userID string) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng != nil {
		s.eng.Close()
	}
	s.session.SignIn(userID)
	eng, err := engine.New(s.cfg, engine.Deps{
		Store:   s.store,
		Remote:  s.remote,
		Network: s.net,
		Session: s.session,
		Lock:    s.lock,
	})
	if err != nil {
		return nil, err
	}
	s.eng = eng
	return eng, nil
}

func (s *testSessions) Logout(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng != nil {
		s.eng.Close()
		s.eng = nil
	}
	s.session.SignOut()
}

func (s *testSessions) Engine() (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng == nil {
		return nil, supervisor.ErrNoSession
	}
	return s.eng, nil
}

type fixture struct {
	sessions *testSessions
	server   http.Handler
}

type fixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	jwt     *auth.JWTManager
	remote  bool
	hub     *websocket.Hub
	origins []string
}

func withJWT(m *auth.JWTManager) fixtureOption {
	return func(o *fixtureOptions) { o.jwt = m }
}

func withRemoteMount() fixtureOption {
	return func(o *fixtureOptions) { o.remote = true }
}

func withHub(hub *websocket.Hub, origins ...string) fixtureOption {
	return func(o *fixtureOptions) {
		o.hub = hub
		o.origins = origins
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var o fixtureOptions
	for _, opt := range opts {
		opt(&o)
	}

	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := engine.DefaultConfig()
	cfg.ToggleLockTimeout = 20 * time.Millisecond
	sessions := &testSessions{
		store:   s,
		remote:  remote.NewMemory(),
		net:     network.NewSwitch(true),
		session: auth.NewStaticSession(""),
		lock:    engine.NewLock(5 * time.Second),
		cfg:     cfg,
	}
	t.Cleanup(func() { sessions.Logout(context.Background()) })

	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitDisabled = true
	mw.CORSAllowedOrigins = o.origins
	rc := RouterConfig{Middleware: mw, Hub: o.hub}
	if o.remote {
		rc.Remote = remote.NewHandler(sessions.remote, "")
	}
	h := NewHandler(sessions, o.jwt, s, sessions.net)
	return &fixture{sessions: sessions, server: NewRouter(h, rc).SetupChi()}
}

func (f *fixture) login(t *testing.T, userID string) *engine.Engine {
	t.Helper()
	eng, err := f.sessions.Login(context.Background(), userID)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return eng
}

type testResponse struct {
	Code    int
	Header  http.Header
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *APIMeta        `json:"meta"`
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) testResponse {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	resp := testResponse{Code: rec.Code, Header: rec.Header()}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return resp
}

func decodeData[T any](t *testing.T, resp testResponse) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", resp.Data, err)
	}
	return v
}

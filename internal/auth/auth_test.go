// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestStaticSession(t *testing.T) {
	s := NewStaticSession("  u1 ")
	if id, ok := s.CurrentUserID(); !ok || id != "u1" {
		t.Errorf("CurrentUserID() = %q, %v; want u1, true", id, ok)
	}
	s.SignOut()
	if s.IsAuthenticated() {
		t.Error("IsAuthenticated() after SignOut should be false")
	}
	s.SignIn("u2")
	if id, _ := s.CurrentUserID(); id != "u2" {
		t.Errorf("CurrentUserID() = %q, want u2", id)
	}
	if NewStaticSession("").IsAuthenticated() {
		t.Error("empty session should not be authenticated")
	}
}

func TestNewJWTManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTManager("short", time.Hour); err == nil {
		t.Error("NewJWTManager() should reject a short secret")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	token, err := m.GenerateToken("u1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID() != "u1" {
		t.Errorf("UserID() = %q, want u1", claims.UserID())
	}
	if _, err := m.GenerateToken(""); err == nil {
		t.Error("GenerateToken(\"\") should fail")
	}
}

func TestValidateTokenRejects(t *testing.T) {
	m, _ := NewJWTManager(testSecret, time.Hour)
	other, _ := NewJWTManager(strings.Repeat("x", 32), time.Hour)
	foreign, _ := other.GenerateToken("u1")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	expiredToken, _ := expired.SignedString([]byte(testSecret))

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{})
	noSubToken, _ := noSub.SignedString([]byte(testSecret))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expiredToken},
		{"no subject", noSubToken},
		{"alg none", noneToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.ValidateToken(tt.token); err == nil {
				t.Error("ValidateToken() should fail")
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		want    string
		wantErr bool
	}{
		{"header", "Bearer abc", "", "abc", false},
		{"query fallback", "", "token=xyz", "xyz", false},
		{"wrong scheme", "Basic abc", "", "", true},
		{"empty bearer", "Bearer  ", "", "", true},
		{"missing", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := BearerToken(r)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("BearerToken() = %q, %v; want %q, err=%v", got, err, tt.want, tt.wantErr)
			}
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	m, _ := NewJWTManager(testSecret, time.Hour)
	token, _ := m.GenerateToken("u1")

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if ok {
			seen = c.UserID()
		}
		w.WriteHeader(http.StatusOK)
	})
	fail := func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	h := Authenticate(m, fail)(next)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || seen != "u1" {
		t.Errorf("valid token: code %d, user %q", w.Code, seen)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: code %d, want 401", w.Code)
	}

	// A nil manager passes everything through.
	w = httptest.NewRecorder()
	Authenticate(nil, fail)(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("nil manager: code %d, want 200", w.Code)
	}
}

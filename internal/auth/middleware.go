// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tomtom215/placesync/internal/logging"
)

type contextKey string

// ClaimsContextKey carries validated *Claims on the request context.
const ClaimsContextKey contextKey = "claims"

// ErrNoToken is returned when the request has no bearer token.
var ErrNoToken = errors.New("missing bearer token")

// ClaimsFromContext returns the claims stored by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return c, ok
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// WebSocket clients that cannot set headers may pass ?token= instead.
func BearerToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return "", ErrNoToken
		}
		return strings.TrimSpace(token), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// Authenticate is chi-compatible middleware that validates the bearer token
// and stores its claims on the request context. A nil manager disables the
// check, which is how single-user deployments without a secret run.
func Authenticate(m *JWTManager, onFailure func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				onFailure(w, r, err)
				return
			}
			claims, err := m.ValidateToken(token)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("bearer token rejected")
				onFailure(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = logging.ContextWithUserID(ctx, claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package auth supplies the session identity the sync engine runs as and the
// bearer-token checks of the HTTP surface.
package auth

import (
	"strings"
	"sync"
)

// Session is the identity the sync engine consults before every call.
type Session interface {
	// CurrentUserID returns the signed-in user, or false if none.
	CurrentUserID() (string, bool)

	// IsAuthenticated reports whether a user is signed in.
	IsAuthenticated() bool
}

// StaticSession is a Session whose user is set explicitly.
type StaticSession struct {
	mu     sync.RWMutex
	userID string
}

// NewStaticSession creates a session signed in as userID. An empty userID
// yields a signed-out session.
func NewStaticSession(userID string) *StaticSession {
	return &StaticSession{userID: strings.TrimSpace(userID)}
}

// CurrentUserID implements Session.
func (s *StaticSession) CurrentUserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// IsAuthenticated implements Session.
func (s *StaticSession) IsAuthenticated() bool {
	_, ok := s.CurrentUserID()
	return ok
}

// SignIn switches the session to userID.
func (s *StaticSession) SignIn(userID string) {
	s.mu.Lock()
	s.userID = strings.TrimSpace(userID)
	s.mu.Unlock()
}

// SignOut clears the session.
func (s *StaticSession) SignOut() {
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package network provides the online/offline signal the sync engine and
// scheduler consume.
package network

import (
	"sort"
	"sync"

	"github.com/tomtom215/placesync/internal/logging"
)

// Monitor reports connectivity and notifies subscribers of transitions.
type Monitor interface {
	IsOnline() bool

	// Subscribe registers fn for online/offline transitions. fn runs on the
	// notifying goroutine and must not block. The returned function removes
	// the subscription and is safe to call more than once.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Switch is a Monitor whose state is set explicitly. It is the building block
// for Prober and the test double for everything else.
type Switch struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

// NewSwitch creates a Switch in the given state.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, subs: make(map[int]func(bool))}
}

// IsOnline implements Monitor.
func (s *Switch) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Subscribe implements Monitor.
func (s *Switch) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Switch) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Set updates the state and notifies subscribers, in subscription order, if
// it changed. It reports whether a transition happened.
func (s *Switch) Set(online bool) bool {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return false
	}
	s.online = online
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.mu.Unlock()

	logging.Info().Bool("online", online).Int("subscribers", len(fns)).Msg("network state changed")
	for _, fn := range fns {
		fn(online)
	}
	return true
}

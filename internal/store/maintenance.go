// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/placesync/internal/logging"
)

// Maintainer periodically reclaims value-log space and sweeps expired
// existence cache entries. It implements suture.Service.
type Maintainer struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	lastRun time.Time
	swept   int
}

// NewMaintainer creates a maintainer using the store's GC interval.
func NewMaintainer(s *Store) *Maintainer {
	interval := s.Config().GCInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Maintainer{store: s, interval: interval}
}

// Serve runs until ctx is cancelled.
func (m *Maintainer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", m.interval).Msg("store maintainer started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("store maintainer stopped")
			return ctx.Err()
		case <-ticker.C:
			m.RunNow()
		}
	}
}

// RunNow performs one maintenance pass.
func (m *Maintainer) RunNow() {
	start := time.Now()
	if err := m.store.RunGC(); err != nil {
		logging.Error().Err(err).Msg("store GC failed")
	}
	RecordGCRun(time.Since(start).Seconds())

	expired := m.store.Cache().CleanupExpired()
	if expired > 0 {
		RecordCacheExpired(expired)
	}
	_, _, size := m.store.Cache().Stats()
	UpdateCacheEntries(size)

	m.mu.Lock()
	m.lastRun = time.Now()
	m.swept = expired
	m.mu.Unlock()

	logging.Debug().
		Int("cache_expired", expired).
		Int("cache_size", size).
		Dur("duration", time.Since(start)).
		Msg("store maintenance pass complete")
}

// LastRun returns when the last pass finished and how many cache entries it swept.
func (m *Maintainer) LastRun() (time.Time, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun, m.swept
}

// String implements fmt.Stringer for supervisor logging.
func (m *Maintainer) String() string {
	return "store-maintainer"
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package services

import (
	"context"
	"fmt"
)

// StartStopper is satisfied by *scheduler.Scheduler.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService adapts the sync scheduler's Start/Stop lifecycle to
// suture's Serve:
//  1. Start(ctx) subscribes to the network monitor and starts the triggers
//  2. Serve blocks until the context is cancelled
//  3. Stop() waits for any reconciliation pass in flight
type SchedulerService struct {
	scheduler StartStopper
	name      string
}

// NewSchedulerService creates the wrapper.
func NewSchedulerService(s StartStopper) *SchedulerService {
	return &SchedulerService{scheduler: s, name: "sync-scheduler"}
}

// Serve implements suture.Service. A Start failure is returned so the
// supervisor retries with backoff.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("sync scheduler start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("sync scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *SchedulerService) String() string {
	return s.name
}

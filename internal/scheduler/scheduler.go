// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package scheduler drives background reconciliation for one session.
//
// Three triggers run the engine without caller involvement:
//   - reconnect: an offline to online transition, after a settle delay so
//     flapping connectivity does not thrash, runs process-queue
//   - periodic: every Interval while online, signed in and with a non-empty
//     queue, runs process-queue
//   - mount: once per session after a short deferral, runs full-refresh
//
// Triggers are coalesced through the engine cursor's reconnect flag, so a
// trigger that fires while another pass is running is dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/config"
	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/metrics"
	"github.com/tomtom215/placesync/internal/network"
)

// Trigger names.
const (
	TriggerReconnect = "reconnect"
	TriggerPeriodic  = "periodic"
	TriggerMount     = "mount"
)

// Reconciler is the part of the engine the scheduler drives.
type Reconciler interface {
	ProcessQueue(ctx context.Context) (engine.QueueReport, error)
	FullRefresh(ctx context.Context) (engine.RefreshReport, error)
	PendingOperationCount() int
	Cursor() *engine.Cursor
}

// Config holds the scheduler timings.
type Config struct {
	// SettleDelay is the wait after coming online before process-queue.
	SettleDelay time.Duration

	// Interval is the periodic process-queue cadence.
	Interval time.Duration

	// MountDeferral delays the once-per-session full-refresh.
	MountDeferral time.Duration
}

// DefaultConfig returns the default scheduler timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:   2 * time.Second,
		Interval:      30 * time.Second,
		MountDeferral: 500 * time.Millisecond,
	}
}

// ConfigFrom converts the loaded configuration section.
func ConfigFrom(c config.SchedulerConfig) Config {
	d := DefaultConfig()
	cfg := Config{
		SettleDelay:   c.SettleDelay,
		Interval:      c.Interval,
		MountDeferral: c.MountDeferral,
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = d.SettleDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.MountDeferral < 0 {
		cfg.MountDeferral = d.MountDeferral
	}
	return cfg
}

// Scheduler runs the reconciliation triggers for one engine.
type Scheduler struct {
	engine  Reconciler
	monitor network.Monitor
	session auth.Session
	config  Config
	logger  zerolog.Logger

	// changed is signalled by the network subscription. Buffered by one so
	// a burst of transitions collapses into a single wakeup.
	changed chan struct{}

	// reconnected is set by every offline->online transition and consumed
	// by the loop, so a transition folded into one wakeup is not lost.
	reconnected atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	passes  sync.WaitGroup
}

// New creates a scheduler. It does nothing until Start.
func New(eng Reconciler, monitor network.Monitor, session auth.Session, cfg Config) *Scheduler {
	return &Scheduler{
		engine:  eng,
		monitor: monitor,
		session: session,
		config:  cfg,
		logger:  logging.WithComponent("sync-scheduler"),
		changed: make(chan struct{}, 1),
	}
}

// Start subscribes to network transitions and begins the trigger loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.doneCh = make(chan struct{})

	wasOnline := s.monitor.IsOnline()
	unsubscribe := s.monitor.Subscribe(s.notify)
	// A reconnect between the read above and Subscribe has no callback.
	if !wasOnline && s.monitor.IsOnline() {
		s.notify(true)
	}

	s.logger.Info().
		Dur("settle_delay", s.config.SettleDelay).
		Dur("interval", s.config.Interval).
		Dur("mount_deferral", s.config.MountDeferral).
		Msg("Starting sync scheduler")

	go s.run(runCtx, unsubscribe)
	return nil
}

// notify records a network transition and wakes the loop.
func (s *Scheduler) notify(online bool) {
	if online {
		s.reconnected.Store(true)
	}
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Stop ends the trigger loop, drops the network subscription and waits for
// any reconciliation pass in flight.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.doneCh
	s.mu.Unlock()

	cancel()
	<-done
	s.passes.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Sync scheduler stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// String names the scheduler for supervisor logs.
func (s *Scheduler) String() string {
	return "sync-scheduler"
}

func (s *Scheduler) run(ctx context.Context, unsubscribe func()) {
	defer close(s.doneCh)
	defer unsubscribe()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	mount := time.NewTimer(s.config.MountDeferral)
	defer mount.Stop()

	var settle *time.Timer
	var settleC <-chan time.Time
	stopSettle := func() {
		if settle != nil {
			settle.Stop()
		}
		settleC = nil
	}
	defer stopSettle()

	for {
		select {
		case <-ctx.Done():
			return

		case <-mount.C:
			s.fire(ctx, TriggerMount)

		case <-s.changed:
			reconnected := s.reconnected.Swap(false)
			if !s.monitor.IsOnline() {
				stopSettle()
			} else if reconnected {
				stopSettle()
				settle = time.NewTimer(s.config.SettleDelay)
				settleC = settle.C
			}

		case <-settleC:
			settleC = nil
			s.fire(ctx, TriggerReconnect)

		case <-ticker.C:
			s.fire(ctx, TriggerPeriodic)
		}
	}
}

// fire runs one trigger in the background unless its preconditions fail or
// another pass is already running.
func (s *Scheduler) fire(ctx context.Context, trigger string) {
	if !s.monitor.IsOnline() || !s.session.IsAuthenticated() {
		metrics.RecordSchedulerTrigger(trigger, "skipped")
		return
	}
	cursor := s.engine.Cursor()
	switch trigger {
	case TriggerMount:
		if cursor.Loaded() {
			metrics.RecordSchedulerTrigger(trigger, "skipped")
			return
		}
	case TriggerPeriodic:
		if s.engine.PendingOperationCount() == 0 {
			metrics.RecordSchedulerTrigger(trigger, "skipped")
			return
		}
	}
	if !cursor.TryBeginReconnect() {
		metrics.RecordSchedulerTrigger(trigger, "coalesced")
		s.logger.Debug().Str("trigger", trigger).Msg("reconciliation already running, trigger coalesced")
		return
	}
	metrics.RecordSchedulerTrigger(trigger, "ran")

	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		defer cursor.EndReconnect()
		s.reconcile(logging.ContextWithNewCorrelationID(ctx), trigger)
	}()
}

func (s *Scheduler) reconcile(ctx context.Context, trigger string) {
	// A session that never completed its initial load refreshes instead,
	// which also replays the queue.
	if trigger == TriggerMount || !s.engine.Cursor().Loaded() {
		report, err := s.engine.FullRefresh(ctx)
		s.logResult(trigger, engine.OpFullRefresh, err).
			Int("saved", report.Saved).
			Int("planned", report.Planned).
			Int("history", report.History).
			Bool("stale", report.Stale).
			Msg("scheduled full-refresh finished")
		return
	}
	report, err := s.engine.ProcessQueue(ctx)
	s.logResult(trigger, engine.OpProcessQueue, err).
		Int("processed", report.Processed).
		Int("failed", report.Failed).
		Int("remaining", report.Remaining).
		Msg("scheduled process-queue finished")
}

// logResult picks the level: expected conditions (offline, busy, stopped)
// are debug, other failures warn.
func (s *Scheduler) logResult(trigger, routine string, err error) *zerolog.Event {
	var ev *zerolog.Event
	switch {
	case err == nil:
		ev = s.logger.Debug()
	case errors.Is(err, engine.ErrOffline), errors.Is(err, engine.ErrBusy),
		errors.Is(err, engine.ErrUnauthenticated), errors.Is(err, context.Canceled):
		ev = s.logger.Debug().Err(err)
	default:
		ev = s.logger.Warn().Err(err)
	}
	return ev.Str("trigger", trigger).Str("routine", routine)
}

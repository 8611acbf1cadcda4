// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package remote

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/metrics"
)

// BreakerConfig configures a BreakerStore.
type BreakerConfig struct {
	Name string

	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval resets counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold opens the breaker after this many consecutive
	// transport failures.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the defaults used when remote.breaker_* is unset.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "remote-store",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerStore wraps a Store with a circuit breaker. Only transport failures
// count against the breaker; ErrNotFound is a successful call. While open,
// calls fail fast with a transport error so the engine queues the intent
// without waiting on the network.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerStore wraps next.
func NewBreakerStore(next Store, cfg BreakerConfig) *BreakerStore {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cfg.Name).Set(0)

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= threshold
			if trip {
				logging.Warn().
					Str("breaker", cfg.Name).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransport(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &BreakerStore{next: next, cb: cb, name: cfg.Name}
}

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerStore) execute(op string, fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return nil, TransportError(op, err)
		}
		if IsTransport(err) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.cb.Counts().ConsecutiveFailures))
			return nil, err
		}
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
	return result, err
}

// Get implements Store.
func (b *BreakerStore) Get(ctx context.Context, c Collection, key string) (Document, error) {
	res, err := b.execute("get", func() (any, error) {
		return b.next.Get(ctx, c, key)
	})
	if err != nil {
		return nil, err
	}
	doc, _ := res.(Document)
	return doc, nil
}

// Put implements Store.
func (b *BreakerStore) Put(ctx context.Context, c Collection, key string, doc Document) error {
	_, err := b.execute("put", func() (any, error) {
		return nil, b.next.Put(ctx, c, key, doc)
	})
	return err
}

// Delete implements Store.
func (b *BreakerStore) Delete(ctx context.Context, c Collection, key string) error {
	_, err := b.execute("delete", func() (any, error) {
		return nil, b.next.Delete(ctx, c, key)
	})
	return err
}

// Query implements Store.
func (b *BreakerStore) Query(ctx context.Context, c Collection, filters ...Filter) ([]Document, error) {
	res, err := b.execute("query", func() (any, error) {
		return b.next.Query(ctx, c, filters...)
	})
	if err != nil {
		return nil, err
	}
	docs, _ := res.([]Document)
	return docs, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

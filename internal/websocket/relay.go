// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/logging"
)

// errSubscriptionClosed makes the supervisor restart the relay when the bus
// drops its subscription while the relay is still wanted.
var errSubscriptionClosed = errors.New("event subscription closed")

// Subscriber is the part of events.Bus the relay consumes.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

// Relay forwards engine events from the bus to the hub.
type Relay struct {
	hub *Hub
	bus Subscriber
}

// NewRelay creates a relay from bus to hub.
func NewRelay(hub *Hub, bus Subscriber) *Relay {
	return &Relay{hub: hub, bus: bus}
}

// Serve implements suture.Service.
func (r *Relay) Serve(ctx context.Context) error {
	stream, err := r.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to engine events: %w", err)
	}
	logging.Info().Msg("event relay to websocket started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errSubscriptionClosed
			}
			r.hub.BroadcastEvent(e)
		}
	}
}

// String implements fmt.Stringer.
func (r *Relay) String() string {
	return "event-relay"
}

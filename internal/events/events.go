// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package events carries sync engine notifications (phase transitions and
// reconciliation results) from the engine to UI-facing consumers such as the
// WebSocket hub, over an in-process Watermill pub/sub.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TopicSync is the single topic every engine event is published on.
const TopicSync = "placesync.sync"

// Type discriminates events.
type Type string

const (
	// TypeMutation reports the phase a mutation reached.
	TypeMutation Type = "mutation"

	// TypeReplay reports that a queued operation was confirmed or failed
	// during process-queue.
	TypeReplay Type = "replay"

	// TypeQueueProcessed summarizes a process-queue pass.
	TypeQueueProcessed Type = "queue_processed"

	// TypeRefreshed reports a completed full-refresh.
	TypeRefreshed Type = "refreshed"
)

// Event is one engine notification.
type Event struct {
	EventID   string    `json:"eventId"`
	Type      Type      `json:"type"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind,omitempty"`
	Target    string    `json:"target,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Error     string    `json:"error,omitempty"`
	Pending   int       `json:"pending"`
	Processed int       `json:"processed,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an event with a fresh id and timestamp.
func New(t Type, userID string) Event {
	return Event{
		EventID:   uuid.New().String(),
		Type:      t,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks required fields.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("event user id is required")
	}
	return nil
}

// Encode serializes e.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an encoded event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Publisher accepts engine events. Implementations must not block the caller
// for long: the engine publishes while holding its lock.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }

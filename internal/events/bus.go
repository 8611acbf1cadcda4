// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/placesync/internal/logging"
)

// ErrBusClosed is returned after Close.
var ErrBusClosed = errors.New("event bus is closed")

// BusConfig configures a Bus.
type BusConfig struct {
	// Buffer is the per-subscriber output buffer.
	Buffer int64
}

// Bus is an in-process Watermill GoChannel pub/sub for engine events.
// Publishing never waits for subscribers to acknowledge.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus. A nil logger routes Watermill logs through zerolog.
func NewBus(cfg BusConfig, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NewSlogLogger(logging.NewSlogLogger())
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            cfg.Buffer,
			BlockPublishUntilSubscriberAck: false,
		}, logger),
		logger: logger,
	}
}

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(e.EventID, data)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("user_id", e.UserID)
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set("correlation_id", cid)
	}
	msg.SetContext(ctx)

	if err := b.pubsub.Publish(TopicSync, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded events that is closed when ctx is
// cancelled or the bus closes. Messages that fail to decode are acked and
// dropped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrBusClosed
	}

	msgs, err := b.pubsub.Subscribe(ctx, TopicSync)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range msgs {
			e, err := Decode(msg.Payload)
			msg.Ack()
			if err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

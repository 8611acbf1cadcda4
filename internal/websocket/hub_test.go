// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// testClient is a client without a connection; tests read its send channel.
func testClient(hub *Hub, userID string, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), userID: userID, hub: hub, send: make(chan Message, buffer)}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatalf("client %d received nothing", c.id)
		return Message{}, false
	}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Errorf("client %d unexpectedly received %+v", c.id, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoutesEventsByUser(t *testing.T) {
	hub := startHub(t)
	u1a := testClient(hub, "u1", 8)
	u1b := testClient(hub, "u1", 8)
	u2 := testClient(hub, "u2", 8)
	for _, c := range []*Client{u1a, u1b, u2} {
		hub.Register <- c
	}

	e := events.New(events.TypeMutation, "u1")
	e.Kind = "toggle-save"
	if !hub.BroadcastEvent(e) {
		t.Fatal("BroadcastEvent() = false")
	}

	for _, c := range []*Client{u1a, u1b} {
		msg, ok := receive(t, c)
		if !ok {
			t.Fatal("send channel closed")
		}
		got, isEvent := msg.Data.(events.Event)
		if msg.Type != MessageTypeSyncEvent || !isEvent || got.EventID != e.EventID {
			t.Errorf("client %d got %+v, want event %s", c.id, msg, e.EventID)
		}
	}
	expectNothing(t, u2)
}

func TestHubBroadcastToAll(t *testing.T) {
	hub := startHub(t)
	a := testClient(hub, "u1", 8)
	b := testClient(hub, "u2", 8)
	hub.Register <- a
	hub.Register <- b

	hub.Broadcast(Message{Type: MessageTypePong})
	for _, c := range []*Client{a, b} {
		if msg, _ := receive(t, c); msg.Type != MessageTypePong {
			t.Errorf("Type = %q, want pong", msg.Type)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)
	slow := testClient(hub, "u1", 1)
	hub.Register <- slow

	hub.Broadcast(Message{Type: MessageTypePong, UserID: "u1"})
	hub.Broadcast(Message{Type: MessageTypePong, UserID: "u1"})

	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetClientCount() != 0 {
		t.Fatalf("GetClientCount() = %d, want slow client dropped", hub.GetClientCount())
	}
	if _, ok := <-slow.send; !ok {
		t.Fatal("buffered message should still be readable")
	}
	if _, ok := <-slow.send; ok {
		t.Error("send channel should be closed after drop")
	}
}

func TestHubUnregister(t *testing.T) {
	hub := startHub(t)
	c := testClient(hub, "u1", 8)
	hub.Register <- c
	hub.Unregister <- c
	// A second unregister must not close the channel twice.
	hub.Unregister <- c

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("GetClientCount() = %d, want 0", hub.GetClientCount())
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()

	c := testClient(hub, "u1", 8)
	hub.Register <- c
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if _, ok := <-c.send; ok {
		t.Error("client should be closed on shutdown")
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub()
	for i := 0; i < cap(hub.broadcast); i++ {
		if !hub.Broadcast(Message{Type: MessageTypePong}) {
			t.Fatalf("Broadcast() %d = false before queue filled", i)
		}
	}
	if hub.Broadcast(Message{Type: MessageTypePong}) {
		t.Error("Broadcast() on full queue = true")
	}
}

func TestMarshalMessageOmitsUser(t *testing.T) {
	data, err := MarshalMessage(Message{Type: MessageTypePong, UserID: "u1"})
	if err != nil {
		t.Fatalf("MarshalMessage() error = %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Errorf("MarshalMessage() = %s", data)
	}
}

func TestRelayForwardsBusEvents(t *testing.T) {
	hub := startHub(t)
	c := testClient(hub, "u1", 8)
	hub.Register <- c

	bus := events.NewBus(events.BusConfig{}, nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	relay := NewRelay(hub, bus)
	go func() { errCh <- relay.Serve(ctx) }()

	// The subscription is registered asynchronously; publish until it lands.
	e := events.New(events.TypeRefreshed, "u1")
	var msg Message
	deadline := time.Now().Add(2 * time.Second)
	for got := false; !got; {
		if time.Now().After(deadline) {
			t.Fatal("relay never delivered the event")
		}
		if err := bus.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case msg = <-c.send:
			got = true
		case <-time.After(20 * time.Millisecond):
		}
	}
	if ev, ok := msg.Data.(events.Event); !ok || ev.Type != events.TypeRefreshed {
		t.Errorf("relayed %+v", msg)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	if relay.String() != "event-relay" {
		t.Errorf("String() = %q", relay.String())
	}
}

func TestRelayFailsWhenBusClosed(t *testing.T) {
	bus := events.NewBus(events.BusConfig{}, nil)
	_ = bus.Close()
	if err := NewRelay(NewHub(), bus).Serve(context.Background()); err == nil {
		t.Error("Serve() on closed bus should fail")
	}
}

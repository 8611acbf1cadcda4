// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// errInjected is the cause of injected failures.
var errInjected = errors.New("injected failure")

// Memory is an in-process Store. Documents are deep-copied on the way in and
// out so callers never share maps with the store.
type Memory struct {
	mu          sync.RWMutex
	collections map[Collection]map[string][]byte

	failing  bool
	failNext int
	latency  time.Duration
	calls    map[string]int
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[Collection]map[string][]byte),
		calls:       make(map[string]int),
	}
}

// SetFailing makes every call fail with a transport error until cleared.
func (m *Memory) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

// FailNext makes the next n calls fail with a transport error.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.failNext = n
	m.mu.Unlock()
}

// SetLatency delays every call by d, honoring context cancellation.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// Calls returns how many times op ("get", "put", "delete", "query") was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Len returns the number of documents in c.
func (m *Memory) Len(c Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[c])
}

func (m *Memory) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	latency := m.latency
	fail := m.failing
	if !fail && m.failNext > 0 {
		m.failNext--
		fail = true
	}
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return TransportError(op, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return TransportError(op, err)
	}
	if fail {
		return TransportError(op, errInjected)
	}
	return nil
}

func validate(c Collection, key string) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	if key == "" {
		return errors.New("empty document key")
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, c Collection, key string) (Document, error) {
	if err := validate(c, key); err != nil {
		return nil, err
	}
	if err := m.begin(ctx, "get"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	raw, ok := m.collections[c][key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, c Collection, key string, doc Document) error {
	if err := validate(c, key); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := m.begin(ctx, "put"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[c]
	if !ok {
		coll = make(map[string][]byte)
		m.collections[c] = coll
	}
	coll[key] = raw
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, c Collection, key string) error {
	if err := validate(c, key); err != nil {
		return err
	}
	if err := m.begin(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c][key]; !ok {
		return ErrNotFound
	}
	delete(m.collections[c], key)
	return nil
}

// Query implements Store. Results are ordered by key.
func (m *Memory) Query(ctx context.Context, c Collection, filters ...Filter) ([]Document, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	if err := m.begin(ctx, "query"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.collections[c]))
	for k := range m.collections[c] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	raws := make([][]byte, len(keys))
	for i, k := range keys {
		raws[i] = m.collections[c][k]
	}
	m.mu.RUnlock()

	out := make([]Document, 0, len(raws))
	for _, raw := range raws {
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if Matches(doc, filters) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Matches reports whether doc satisfies every equality filter. Values are
// compared by their JSON encoding so numbers and strings from different
// sources compare as they would on the wire.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		got, ok := doc[f.Field]
		if !ok {
			return false
		}
		a, err1 := json.Marshal(got)
		b, err2 := json.Marshal(f.Value)
		if err1 != nil || err2 != nil || string(a) != string(b) {
			return false
		}
	}
	return true
}

func decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package store

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestExistenceCacheBasic(t *testing.T) {
	c := NewExistenceCache(10, time.Minute)

	if _, ok := c.Get("u1", "a"); ok {
		t.Error("empty cache should miss")
	}
	c.Set("u1", "a", true)
	c.Set("u1", "b", false)

	if v, ok := c.Get("u1", "a"); !ok || !v {
		t.Errorf("Get(a) = %v, %v; want true, true", v, ok)
	}
	if v, ok := c.Get("u1", "b"); !ok || v {
		t.Errorf("Get(b) = %v, %v; want false, true", v, ok)
	}
	if _, ok := c.Get("u2", "a"); ok {
		t.Error("keys must be scoped per user")
	}

	hits, misses, size := c.Stats()
	if hits != 2 || misses != 2 || size != 2 {
		t.Errorf("Stats() = %d, %d, %d; want 2, 2, 2", hits, misses, size)
	}
}

func TestExistenceCacheEviction(t *testing.T) {
	c := NewExistenceCache(3, time.Minute)
	c.Set("u", "a", true)
	c.Set("u", "b", true)
	c.Set("u", "c", true)

	// Touch a so b becomes least recently used.
	c.Get("u", "a")
	c.Set("u", "d", true)

	if _, ok := c.Get("u", "b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get("u", k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
}

func TestExistenceCacheTTL(t *testing.T) {
	c := NewExistenceCache(10, 10*time.Millisecond)
	c.Set("u", "a", true)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("u", "a"); ok {
		t.Error("expired entry should miss")
	}
	c.Set("u", "b", true)
	time.Sleep(20 * time.Millisecond)
	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
}

func TestExistenceCacheDefaults(t *testing.T) {
	c := NewExistenceCache(0, 0)
	if c.capacity != 1024 || c.ttl != 10*time.Minute {
		t.Errorf("defaults = %d, %v; want 1024, 10m", c.capacity, c.ttl)
	}
}

func TestExistenceCacheConcurrent(t *testing.T) {
	c := NewExistenceCache(50, time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("e-%d", i%80)
				c.Set("u", id, i%2 == 0)
				c.Get("u", id)
			}
		}(w)
	}
	wg.Wait()

	if _, _, size := c.Stats(); size > 50 {
		t.Errorf("size %d exceeds capacity 50", size)
	}
}

func TestExistenceCacheFillLosesToWrite(t *testing.T) {
	tests := []struct {
		name  string
		write func(c *ExistenceCache)
		want  bool
		found bool
	}{
		{"no write", func(*ExistenceCache) {}, false, true},
		{"set after lookup", func(c *ExistenceCache) { c.Set("u1", "a", true) }, true, true},
		{"invalidate after lookup", func(c *ExistenceCache) { c.Invalidate() }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewExistenceCache(10, time.Minute)
			gen := c.Generation()
			tt.write(c)
			// The database said "not saved" before the write committed.
			c.Fill("u1", "a", false, gen)

			got, ok := c.Get("u1", "a")
			if ok != tt.found || got != tt.want {
				t.Errorf("Get() = %v, %v; want %v, %v", got, ok, tt.want, tt.found)
			}
		})
	}
}

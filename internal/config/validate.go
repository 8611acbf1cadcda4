// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	return c.validateServer()
}

func (c *Config) validateEngine() error {
	e := c.Engine
	timeouts := []struct {
		name string
		val  time.Duration
	}{
		{"engine.toggle_lock_timeout", e.ToggleLockTimeout},
		{"engine.visit_lock_timeout", e.VisitLockTimeout},
		{"engine.complete_lock_timeout", e.CompleteLockTimeout},
		{"engine.queue_lock_timeout", e.QueueLockTimeout},
		{"engine.refresh_lock_timeout", e.RefreshLockTimeout},
		{"engine.remote_timeout", e.RemoteTimeout},
	}
	for _, t := range timeouts {
		if t.val <= 0 {
			return fmt.Errorf("%s must be positive, got %v", t.name, t.val)
		}
		// The ceiling must outlast every bounded wait, otherwise healthy
		// holders would be reclaimed mid-operation.
		if t.val >= e.StalenessCeiling {
			return fmt.Errorf("%s (%v) must be shorter than engine.staleness_ceiling (%v)",
				t.name, t.val, e.StalenessCeiling)
		}
	}

	if len(e.ReplayPriority) == 0 {
		return fmt.Errorf("engine.replay_priority must not be empty")
	}
	seen := make(map[string]bool, len(e.ReplayPriority))
	for _, kind := range e.ReplayPriority {
		if seen[kind] {
			return fmt.Errorf("engine.replay_priority lists %q more than once", kind)
		}
		seen[kind] = true
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %v", c.Scheduler.Interval)
	}
	if c.Scheduler.SettleDelay < 0 {
		return fmt.Errorf("scheduler.settle_delay must not be negative, got %v", c.Scheduler.SettleDelay)
	}
	if c.Scheduler.MountDeferral < 0 {
		return fmt.Errorf("scheduler.mount_deferral must not be negative, got %v", c.Scheduler.MountDeferral)
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Store.CacheCapacity <= 0 {
		return fmt.Errorf("store.cache_capacity must be positive, got %d", c.Store.CacheCapacity)
	}
	if c.Store.GCDiscardRatio <= 0 || c.Store.GCDiscardRatio >= 1 {
		return fmt.Errorf("store.gc_discard_ratio must be in (0,1), got %v", c.Store.GCDiscardRatio)
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Mode {
	case "memory":
		return nil
	case "http":
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required when remote.mode=http")
		}
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("remote.base_url must be an absolute http(s) URL, got %q", c.Remote.BaseURL)
		}
		if c.Remote.RateLimit < 0 {
			return fmt.Errorf("remote.rate_limit must not be negative, got %v", c.Remote.RateLimit)
		}
		return nil
	default:
		return fmt.Errorf("remote.mode must be one of memory, http; got %q", c.Remote.Mode)
	}
}

func (c *Config) validateNetwork() error {
	if c.Network.ProbeURL == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(c.Network.ProbeURL); err != nil {
		return fmt.Errorf("network.probe_url is invalid: %w", err)
	}
	if c.Network.ProbeInterval <= 0 {
		return fmt.Errorf("network.probe_interval must be positive, got %v", c.Network.ProbeInterval)
	}
	return nil
}

// minJWTSecretLength matches auth.NewJWTManager.
const minJWTSecretLength = 32

func (c *Config) validateAuth() error {
	if c.Auth.JWTSecret == "" {
		return nil
	}
	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", minJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got %v", c.Auth.TokenTTL)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.RateLimitRequests < 0 {
		return fmt.Errorf("server.rate_limit_requests must not be negative, got %d", c.Server.RateLimitRequests)
	}
	return nil
}

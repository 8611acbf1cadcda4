// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package main

import (
	"fmt"
	"net/http"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/config"
	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/events"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/network"
	"github.com/tomtom215/placesync/internal/remote"
	"github.com/tomtom215/placesync/internal/scheduler"
	"github.com/tomtom215/placesync/internal/store"
	"github.com/tomtom215/placesync/internal/supervisor"
)

// storeConfig maps the store section onto store.Config, keeping the
// package default for settings the file does not expose.
func storeConfig(c config.StoreConfig) store.Config {
	cfg := store.DefaultConfig()
	cfg.Path = c.Path
	cfg.InMemory = c.InMemory
	cfg.SyncWrites = c.SyncWrites
	if c.CacheCapacity > 0 {
		cfg.CacheCapacity = c.CacheCapacity
	}
	if c.CacheTTL > 0 {
		cfg.CacheTTL = c.CacheTTL
	}
	if c.GCInterval > 0 {
		cfg.GCInterval = c.GCInterval
	}
	if c.GCDiscardRatio > 0 {
		cfg.GCDiscardRatio = c.GCDiscardRatio
	}
	return cfg
}

// remoteStack is the remote store as the engine sees it, plus the handler
// that serves it when this process hosts the documents itself.
type remoteStack struct {
	store   remote.Store
	handler http.Handler
}

// buildRemote creates the configured remote store, wrapped in the circuit
// breaker when enabled and always instrumented.
func buildRemote(c config.RemoteConfig) (remoteStack, error) {
	var (
		base  remote.Store
		stack remoteStack
	)
	switch c.Mode {
	case "http":
		client, err := remote.NewHTTPStore(remote.HTTPConfig{
			BaseURL:    c.BaseURL,
			Token:      c.Token,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			RateBurst:  c.RateBurst,
			MaxRetries: 3,
		})
		if err != nil {
			return remoteStack{}, fmt.Errorf("create remote client: %w", err)
		}
		base = client
		logging.Info().Str("base_url", c.BaseURL).Msg("Remote document store: http")
	case "memory", "":
		mem := remote.NewMemory()
		base = mem
		stack.handler = remote.NewHandler(mem, c.Token)
		logging.Warn().Msg("Remote document store: in-process memory, served at /remote")
	default:
		return remoteStack{}, fmt.Errorf("unknown remote mode %q", c.Mode)
	}

	if c.BreakerEnabled {
		base = remote.NewBreakerStore(base, remote.BreakerConfig{
			Name:             "remote-store",
			MaxRequests:      c.BreakerMaxRequests,
			Interval:         c.BreakerInterval,
			Timeout:          c.BreakerTimeout,
			FailureThreshold: c.BreakerFailureThreshold,
		})
	}
	stack.store = remote.Instrument(base)
	return stack, nil
}

// buildNetwork returns the monitor and, when probing is configured, the
// prober that must run in the data layer.
func buildNetwork(c config.NetworkConfig) (network.Monitor, *network.Prober) {
	if c.ProbeURL == "" {
		logging.Info().Msg("No network probe configured, assuming online")
		return network.NewSwitch(true), nil
	}
	p := network.NewProber(network.ProberConfig{
		URL:      c.ProbeURL,
		Interval: c.ProbeInterval,
		Timeout:  c.ProbeTimeout,
	})
	return p, p
}

// newHTTPServer builds the server from the server section.
func newHTTPServer(c config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              c.Address,
		Handler:           handler,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
	}
}

// newSessionManager builds the per-user session manager. Each login gets a
// fresh sync lock whose staleness ceiling comes from engine.staleness_ceiling.
func newSessionManager(tree *supervisor.SupervisorTree, cfg *config.Config, db *store.Store, rs remote.Store, monitor network.Monitor, bus events.Publisher) (*supervisor.SessionManager, error) {
	engineCfg, err := engine.ConfigFrom(cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	return supervisor.NewSessionManager(tree, supervisor.SessionDeps{
		Store:       db,
		Remote:      rs,
		Network:     monitor,
		Session:     auth.NewStaticSession(""),
		Events:      bus,
		Engine:      engineCfg,
		Scheduler:   scheduler.ConfigFrom(cfg.Scheduler),
		LockCeiling: cfg.Engine.StalenessCeiling,
	}), nil
}

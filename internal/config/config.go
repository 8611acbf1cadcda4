// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package config loads Placesync configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Engine     EngineConfig     `koanf:"engine"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Store      StoreConfig      `koanf:"store"`
	Remote     RemoteConfig     `koanf:"remote"`
	Network    NetworkConfig    `koanf:"network"`
	Auth       AuthConfig       `koanf:"auth"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// EngineConfig controls lock budgets and remote call bounds of the sync engine.
type EngineConfig struct {
	// ToggleLockTimeout bounds lock acquisition for toggle-save and delete-saved.
	ToggleLockTimeout time.Duration `koanf:"toggle_lock_timeout"`

	// VisitLockTimeout bounds schedule-visit, update-visit and delete-visit.
	VisitLockTimeout time.Duration `koanf:"visit_lock_timeout"`

	// CompleteLockTimeout bounds complete-visit and add-review.
	CompleteLockTimeout time.Duration `koanf:"complete_lock_timeout"`

	// QueueLockTimeout bounds process-queue.
	QueueLockTimeout time.Duration `koanf:"queue_lock_timeout"`

	// RefreshLockTimeout bounds full-refresh.
	RefreshLockTimeout time.Duration `koanf:"refresh_lock_timeout"`

	// StalenessCeiling is how long a holder may keep the lock before the next
	// acquirer force-releases it. Must exceed every lock timeout above.
	StalenessCeiling time.Duration `koanf:"staleness_ceiling"`

	// RemoteTimeout bounds a single remote store call. Must be below StalenessCeiling.
	RemoteTimeout time.Duration `koanf:"remote_timeout"`

	// ReplayPriority is the order in which queued operation kinds are replayed.
	ReplayPriority []string `koanf:"replay_priority"`
}

// SchedulerConfig controls background reconciliation triggers.
type SchedulerConfig struct {
	SettleDelay   time.Duration `koanf:"settle_delay"`
	Interval      time.Duration `koanf:"interval"`
	MountDeferral time.Duration `koanf:"mount_deferral"`
}

// StoreConfig configures the BadgerDB-backed local mirror.
type StoreConfig struct {
	Path           string        `koanf:"path"`
	InMemory       bool          `koanf:"in_memory"`
	SyncWrites     bool          `koanf:"sync_writes"`
	CacheCapacity  int           `koanf:"cache_capacity"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// RemoteConfig configures the authoritative document store client.
type RemoteConfig struct {
	// Mode is "http" for a real backend or "memory" for a process-local store.
	Mode    string        `koanf:"mode"`
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	BreakerEnabled          bool          `koanf:"breaker_enabled"`
	BreakerMaxRequests      uint32        `koanf:"breaker_max_requests"`
	BreakerInterval         time.Duration `koanf:"breaker_interval"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
}

// NetworkConfig configures the connectivity monitor.
type NetworkConfig struct {
	// ProbeURL is polled to derive the online signal. Empty means always online.
	ProbeURL      string        `koanf:"probe_url"`
	ProbeInterval time.Duration `koanf:"probe_interval"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
}

// AuthConfig configures how the session user is established.
type AuthConfig struct {
	// JWTSecret validates bearer tokens on the HTTP surface (HS256).
	JWTSecret string `koanf:"jwt_secret"`

	// TokenTTL is the lifetime of tokens issued by "placesync token".
	TokenTTL time.Duration `koanf:"token_ttl"`

	// StaticUserID starts a session at boot without a token.
	StaticUserID string `koanf:"static_user_id"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address           string        `koanf:"address"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

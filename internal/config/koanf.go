// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/placesync/config.yaml",
	"/etc/placesync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultReplayPriority replays saves first, then visit lifecycle, then reviews.
var DefaultReplayPriority = []string{
	"toggle-save",
	"schedule-visit",
	"update-visit",
	"complete-visit",
	"delete-visit",
	"add-review",
}

func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ToggleLockTimeout:   3 * time.Second,
			VisitLockTimeout:    5 * time.Second,
			CompleteLockTimeout: 8 * time.Second,
			QueueLockTimeout:    8 * time.Second,
			RefreshLockTimeout:  8 * time.Second,
			StalenessCeiling:    10 * time.Second,
			RemoteTimeout:       5 * time.Second,
			ReplayPriority:      append([]string(nil), DefaultReplayPriority...),
		},
		Scheduler: SchedulerConfig{
			SettleDelay:   2 * time.Second,
			Interval:      30 * time.Second,
			MountDeferral: 500 * time.Millisecond,
		},
		Store: StoreConfig{
			Path:           "/data/placesync",
			InMemory:       false,
			SyncWrites:     true,
			CacheCapacity:  1024,
			CacheTTL:       10 * time.Minute,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Remote: RemoteConfig{
			Mode:                    "memory",
			Timeout:                 10 * time.Second,
			RateLimit:               20,
			RateBurst:               10,
			BreakerEnabled:          true,
			BreakerMaxRequests:      3,
			BreakerInterval:         time.Minute,
			BreakerTimeout:          30 * time.Second,
			BreakerFailureThreshold: 5,
		},
		Network: NetworkConfig{
			ProbeInterval: 10 * time.Second,
			ProbeTimeout:  3 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf layers defaults, an optional YAML file and environment
// variables (highest priority), then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"engine.replay_priority",
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"placesync_toggle_lock_timeout":   "engine.toggle_lock_timeout",
	"placesync_visit_lock_timeout":    "engine.visit_lock_timeout",
	"placesync_complete_lock_timeout": "engine.complete_lock_timeout",
	"placesync_queue_lock_timeout":    "engine.queue_lock_timeout",
	"placesync_refresh_lock_timeout":  "engine.refresh_lock_timeout",
	"placesync_staleness_ceiling":     "engine.staleness_ceiling",
	"placesync_remote_call_timeout":   "engine.remote_timeout",
	"placesync_replay_priority":       "engine.replay_priority",

	"sync_settle_delay":   "scheduler.settle_delay",
	"sync_interval":       "scheduler.interval",
	"sync_mount_deferral": "scheduler.mount_deferral",

	"store_path":             "store.path",
	"store_in_memory":        "store.in_memory",
	"store_sync_writes":      "store.sync_writes",
	"store_cache_capacity":   "store.cache_capacity",
	"store_cache_ttl":        "store.cache_ttl",
	"store_gc_interval":      "store.gc_interval",
	"store_gc_discard_ratio": "store.gc_discard_ratio",

	"remote_mode":                      "remote.mode",
	"remote_base_url":                  "remote.base_url",
	"remote_token":                     "remote.token",
	"remote_timeout":                   "remote.timeout",
	"remote_rate_limit":                "remote.rate_limit",
	"remote_rate_burst":                "remote.rate_burst",
	"remote_breaker_enabled":           "remote.breaker_enabled",
	"remote_breaker_max_requests":      "remote.breaker_max_requests",
	"remote_breaker_interval":          "remote.breaker_interval",
	"remote_breaker_timeout":           "remote.breaker_timeout",
	"remote_breaker_failure_threshold": "remote.breaker_failure_threshold",

	"network_probe_url":      "network.probe_url",
	"network_probe_interval": "network.probe_interval",
	"network_probe_timeout":  "network.probe_timeout",

	"jwt_secret":     "auth.jwt_secret",
	"static_user_id": "auth.static_user_id",
	"jwt_token_ttl":  "auth.token_ttl",

	"http_address":           "server.address",
	"http_read_timeout":      "server.read_timeout",
	"http_write_timeout":     "server.write_timeout",
	"http_idle_timeout":      "server.idle_timeout",
	"http_rate_limit":        "server.rate_limit_requests",
	"http_rate_limit_window": "server.rate_limit_window",
	"cors_origins":           "server.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable name to its koanf path.
//
//	STORE_PATH -> store.path
//	SYNC_INTERVAL -> scheduler.interval
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

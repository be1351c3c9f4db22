// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

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

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"classfeed.yaml",
	"classfeed.yml",
	"/etc/classfeed/config.yaml",
	"/etc/classfeed/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Store: StoreConfig{
			Backend:    "badger",
			Path:       "/data/classfeed",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Events: EventsConfig{
			Transport: "gochannel",
			Buffer:    256,
			Topic:     "classfeed.records",
			Breaker: BreakerConfig{
				MaxRequests:      3,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/classfeed/nats",
			MaxReconnects:  -1, // reconnect forever
			ReconnectWait:  2 * time.Second,
			StreamMaxAge:   24 * time.Hour,
		},
		Session: SessionConfig{
			CodeAttempts:  32,
			MaxNameLength: 64,
		},
		// Push is best effort; these are the catch-up intervals.
		Sync: SyncConfig{
			StatusPoll:      3 * time.Second,
			RosterPoll:      5 * time.Second,
			CursorPoll:      3 * time.Second,
			SideChannelPoll: 5 * time.Second,
			ExtensionPoll:   2 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MaxSubscriptions: 32,
			SendBuffer:       256,
			RegisterTimeout:  5 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			TokenTTL:        12 * time.Hour,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		ApprovalCache: ApprovalCacheConfig{
			Path: "",
			TTL:  12 * time.Hour,
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

// Load builds the configuration from three layers, later ones winning:
//  1. built-in defaults
//  2. an optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. mapped environment variables
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
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
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Env values arrive as strings; these paths are split on commas.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			continue
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Store
	"store_backend":     "store.backend",
	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"postgres_dsn":      "store.postgres_dsn",
	"store_gc_interval": "store.gc_interval",

	// Events
	"events_transport":                 "events.transport",
	"events_buffer":                    "events.buffer",
	"events_topic":                     "events.topic",
	"events_breaker_max_requests":      "events.breaker.max_requests",
	"events_breaker_interval":          "events.breaker.interval",
	"events_breaker_timeout":           "events.breaker.timeout",
	"events_breaker_failure_threshold": "events.breaker.failure_threshold",

	// NATS
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_store_dir":      "nats.store_dir",
	"nats_max_reconnects": "nats.max_reconnects",
	"nats_reconnect_wait": "nats.reconnect_wait",
	"nats_stream_max_age": "nats.stream_max_age",

	// Sessions
	"session_code_attempts":   "session.code_attempts",
	"session_max_name_length": "session.max_name_length",

	// Poll fallback
	"sync_status_poll":       "sync.status_poll",
	"sync_roster_poll":       "sync.roster_poll",
	"sync_cursor_poll":       "sync.cursor_poll",
	"sync_side_channel_poll": "sync.side_channel_poll",
	"sync_extension_poll":    "sync.extension_poll",

	// WebSocket
	"ws_max_subscriptions": "websocket.max_subscriptions",
	"ws_send_buffer":       "websocket.send_buffer",
	"ws_register_timeout":  "websocket.register_timeout",

	// Security
	"jwt_secret":          "security.jwt_secret",
	"token_ttl":           "security.token_ttl",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	// Approval cache
	"approval_cache_path": "approval_cache.path",
	"approval_cache_ttl":  "approval_cache.ttl",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps HTTP_PORT -> server.port and so on. Unmapped
// variables return "" so the provider skips them.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

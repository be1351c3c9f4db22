// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package config loads the server configuration.
//
// Sources are layered with koanf: built-in defaults, then an optional YAML
// file, then environment variables. See Load.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Events        EventsConfig        `koanf:"events"`
	NATS          NATSConfig          `koanf:"nats"`
	Session       SessionConfig       `koanf:"session"`
	Sync          SyncConfig          `koanf:"sync"`
	WebSocket     WebSocketConfig     `koanf:"websocket"`
	Security      SecurityConfig      `koanf:"security"`
	ApprovalCache ApprovalCacheConfig `koanf:"approval_cache"`
	Logging       LoggingConfig       `koanf:"logging"`
	Supervisor    SupervisorConfig    `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// StoreConfig selects and configures the durable record store.
type StoreConfig struct {
	Backend     string        `koanf:"backend"` // memory, badger, postgres
	Path        string        `koanf:"path"`    // badger directory
	InMemory    bool          `koanf:"in_memory"`
	PostgresDSN string        `koanf:"postgres_dsn"`
	GCInterval  time.Duration `koanf:"gc_interval"`
}

// EventsConfig configures push delivery.
type EventsConfig struct {
	Transport string        `koanf:"transport"` // gochannel, nats
	Buffer    int64         `koanf:"buffer"`
	Topic     string        `koanf:"topic"`
	Breaker   BreakerConfig `koanf:"breaker"`
}

// BreakerConfig mirrors gobreaker.Settings.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// NATSConfig is only used when Events.Transport is "nats".
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	StreamMaxAge   time.Duration `koanf:"stream_max_age"`
}

// SessionConfig bounds session and participant inputs.
type SessionConfig struct {
	CodeAttempts  int `koanf:"code_attempts"`
	MaxNameLength int `koanf:"max_name_length"`
}

// SyncConfig holds the poll-fallback intervals handed to watchers.
type SyncConfig struct {
	StatusPoll      time.Duration `koanf:"status_poll"`
	RosterPoll      time.Duration `koanf:"roster_poll"`
	CursorPoll      time.Duration `koanf:"cursor_poll"`
	SideChannelPoll time.Duration `koanf:"side_channel_poll"`
	ExtensionPoll   time.Duration `koanf:"extension_poll"`
}

// WebSocketConfig limits push connections.
type WebSocketConfig struct {
	MaxSubscriptions int           `koanf:"max_subscriptions"`
	SendBuffer       int           `koanf:"send_buffer"`
	RegisterTimeout  time.Duration `koanf:"register_timeout"`
}

// SecurityConfig holds token and HTTP protection settings.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	TokenTTL          time.Duration `koanf:"token_ttl"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// ApprovalCacheConfig configures the client-side approval cache used by
// classfeedctl.
type ApprovalCacheConfig struct {
	Path string        `koanf:"path"`
	TTL  time.Duration `koanf:"ttl"`
}

// LoggingConfig is passed to logging.Init.
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

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsProduction reports whether production-only checks apply.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Minimum accepted JWT secret length in bytes.
const minJWTSecretLength = 32

// Validate checks that the configuration is usable. Errors name the
// environment variable to fix.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "memory":
	case "badger":
		if c.Store.Path == "" && !c.Store.InMemory {
			return fmt.Errorf("STORE_PATH is required when STORE_BACKEND=badger")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, badger or postgres, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "memory" && c.Server.IsProduction() {
		return fmt.Errorf("STORE_BACKEND=memory is not allowed when ENVIRONMENT=production")
	}
	return nil
}

func (c *Config) validateEvents() error {
	switch c.Events.Transport {
	case "gochannel":
	case "nats":
		if err := c.validateNATS(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("EVENTS_TRANSPORT must be gochannel or nats, got %q", c.Events.Transport)
	}
	if c.Events.Topic == "" {
		return fmt.Errorf("EVENTS_TOPIC must not be empty")
	}
	if c.Events.Buffer < 0 {
		return fmt.Errorf("EVENTS_BUFFER must not be negative")
	}
	if c.Events.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("EVENTS_BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.EmbeddedServer {
		if c.NATS.StoreDir == "" {
			return fmt.Errorf("NATS_STORE_DIR is required when NATS_EMBEDDED=true")
		}
		return nil
	}
	u, err := url.Parse(c.NATS.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("NATS_URL is invalid: %q", c.NATS.URL)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("NATS_URL must use nats:// or tls://, got %q", u.Scheme)
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.CodeAttempts < 1 {
		return fmt.Errorf("SESSION_CODE_ATTEMPTS must be at least 1")
	}
	if c.Session.MaxNameLength < 1 || c.Session.MaxNameLength > 256 {
		return fmt.Errorf("SESSION_MAX_NAME_LENGTH must be between 1 and 256")
	}
	return nil
}

func (c *Config) validateSync() error {
	intervals := []struct {
		env string
		v   time.Duration
	}{
		{"SYNC_STATUS_POLL", c.Sync.StatusPoll},
		{"SYNC_ROSTER_POLL", c.Sync.RosterPoll},
		{"SYNC_CURSOR_POLL", c.Sync.CursorPoll},
		{"SYNC_SIDE_CHANNEL_POLL", c.Sync.SideChannelPoll},
		{"SYNC_EXTENSION_POLL", c.Sync.ExtensionPoll},
	}
	for _, iv := range intervals {
		// Zero disables the poll fallback for that watcher.
		if iv.v < 0 {
			return fmt.Errorf("%s must not be negative", iv.env)
		}
		if iv.v > 0 && iv.v < 100*time.Millisecond {
			return fmt.Errorf("%s must be at least 100ms, got %v", iv.env, iv.v)
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	if c.Server.IsProduction() {
		for _, o := range c.Security.CORSOrigins {
			if strings.TrimSpace(o) == "*" {
				return fmt.Errorf("CORS_ORIGINS must not contain * when ENVIRONMENT=production")
			}
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled", "off":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

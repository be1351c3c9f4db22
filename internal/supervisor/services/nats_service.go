// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package services

import (
	"context"
	"fmt"
	"time"
)

// ShutdownRunner is a component that starts on construction and only
// needs stopping, such as events.EmbeddedServer.
type ShutdownRunner interface {
	Shutdown(ctx context.Context) error
	IsRunning() bool
}

// EmbeddedNATSService keeps the embedded NATS server under supervision.
// Serve fails as soon as the server stops on its own, which lets suture
// log the crash and escalate.
type EmbeddedNATSService struct {
	server          ShutdownRunner
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	name            string
}

// NewEmbeddedNATSService wraps a started server.
func NewEmbeddedNATSService(server ShutdownRunner, shutdownTimeout time.Duration) *EmbeddedNATSService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EmbeddedNATSService{
		server:          server,
		checkInterval:   5 * time.Second,
		shutdownTimeout: shutdownTimeout,
		name:            "nats-server",
	}
}

// Serve implements suture.Service.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("nats server shutdown failed: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if !s.server.IsRunning() {
				return fmt.Errorf("embedded nats server stopped")
			}
		}
	}
}

func (s *EmbeddedNATSService) String() string {
	return s.name
}

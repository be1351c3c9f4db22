// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

//go:build !nats

package events

import (
	"context"
	"fmt"

	"github.com/twistedtree83/classfeedback/internal/config"
)

// EmbeddedServer is a stub without the nats build tag.
type EmbeddedServer struct{}

// NewEmbeddedServer returns an error without the nats build tag.
func NewEmbeddedServer(config.NATSConfig) (*EmbeddedServer, error) {
	return nil, fmt.Errorf("NATS server not available: build with -tags=nats")
}

func (s *EmbeddedServer) ClientURL() string { return "" }

func (s *EmbeddedServer) Shutdown(context.Context) error { return nil }

func (s *EmbeddedServer) IsRunning() bool { return false }

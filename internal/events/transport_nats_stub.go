// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

//go:build !nats

package events

import (
	"fmt"

	"github.com/twistedtree83/classfeedback/internal/config"
)

// NewNATSTransport is unavailable without the nats build tag.
func NewNATSTransport(config.NATSConfig, string) (Transport, error) {
	return nil, fmt.Errorf("NATS transport not available: build with -tags=nats")
}

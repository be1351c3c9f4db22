// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/logging"
)

// Transport names accepted by NewTransport.
const (
	TransportGoChannel = "gochannel"
	TransportNATS      = "nats"
)

// Transport carries pushed envelopes between channel instances. A single
// process uses the in-memory GoChannel; several server processes sharing
// one store use NATS so a write on one reaches listeners on all.
type Transport interface {
	message.Publisher
	message.Subscriber
}

// NewGoChannelTransport returns an in-process transport. Messages published
// while nothing is subscribed are dropped.
func NewGoChannelTransport(buffer int64) Transport {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: buffer},
		logging.NewWatermillAdapter("events.gochannel"),
	)
}

// NewTransport builds the transport selected by cfg.Transport.
func NewTransport(cfg config.EventsConfig, natsCfg config.NATSConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportGoChannel, "":
		return NewGoChannelTransport(cfg.Buffer), nil
	case TransportNATS:
		return NewNATSTransport(natsCfg, cfg.Topic)
	default:
		return nil, fmt.Errorf("unknown events transport %q", cfg.Transport)
	}
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

//go:build nats

package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/logging"
)

// streamName holds every pushed envelope. Push is only a latency
// optimisation, so the stream keeps messages for StreamMaxAge at most.
const streamName = "CLASSFEED_RECORDS"

type natsTransport struct {
	pub message.Publisher
	sub message.Subscriber
}

// NewNATSTransport connects a JetStream publisher and subscriber to
// cfg.URL, creating the record stream if needed. Every server instance
// gets its own ephemeral consumer, so each sees every push.
func NewNATSTransport(cfg config.NATSConfig, topic string) (Transport, error) {
	logger := logging.NewWatermillAdapter("events.nats")

	if err := ensureStream(cfg, topic); err != nil {
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(2),
				natsgo.RetryWait(50 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            cfg.URL,
		AckWaitTimeout: 5 * time.Second,
		CloseTimeout:   5 * time.Second,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			AckAsync:      true,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(streamName),
				natsgo.DeliverNew(),
			},
		},
	}, logger)
	if err != nil {
		pub.Close() //nolint:errcheck
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}

	return &natsTransport{pub: pub, sub: sub}, nil
}

func ensureStream(cfg config.NATSConfig, topic string) error {
	nc, err := natsgo.Connect(cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamCfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.StreamMaxAge,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}
	_, err = js.Stream(ctx, streamName)
	switch {
	case err == nil:
		_, err = js.UpdateStream(ctx, streamCfg)
	case errors.Is(err, jetstream.ErrStreamNotFound):
		_, err = js.CreateStream(ctx, streamCfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s for %s: %w", streamName, topic, err)
	}
	return nil
}

func (t *natsTransport) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
		}
	}
	return t.pub.Publish(topic, msgs...)
}

func (t *natsTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return t.sub.Subscribe(ctx, topic)
}

func (t *natsTransport) Close() error {
	return errors.Join(t.sub.Close(), t.pub.Close())
}

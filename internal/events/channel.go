// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
)

// DefaultTopic is used when the configuration leaves the topic empty.
const DefaultTopic = "classfeed.records"

type route struct {
	kind      models.Kind
	partition string
}

// Channel is the server-side Source. Publish and Mutate write through the
// store; Serve relays transport messages to local listeners.
type Channel struct {
	store     store.Store
	transport Transport
	topic     string
	breaker   *gobreaker.CircuitBreaker[any]
	logger    zerolog.Logger

	mu        sync.RWMutex
	listeners map[route]map[uint64]Listener
	nextID    uint64

	readyOnce sync.Once
	ready     chan struct{}
}

// NewChannel wires a store to a push transport.
func NewChannel(s store.Store, t Transport, cfg config.EventsConfig) *Channel {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Channel{
		store:     s,
		transport: t,
		topic:     topic,
		breaker:   newBreaker("events-push", cfg.Breaker),
		logger:    logging.WithComponent("events"),
		listeners: make(map[route]map[uint64]Listener),
		ready:     make(chan struct{}),
	}
}

// Store exposes the backing store for typed reads.
func (c *Channel) Store() store.Store {
	return c.store
}

// Ready is closed once Serve holds a live transport subscription. Pushes
// sent before that are lost to this process.
func (c *Channel) Ready() <-chan struct{} {
	return c.ready
}

// Publish stores rec and pushes the stored envelope. Only a store failure
// is returned.
func (c *Channel) Publish(ctx context.Context, rec models.Record) (models.Envelope, error) {
	env, err := models.Wrap(rec)
	if err != nil {
		return models.Envelope{}, err
	}
	stored, err := c.store.Put(ctx, env)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("store %s %s: %w", env.Kind, env.ID, err)
	}
	metrics.EventsPublished.WithLabelValues(string(stored.Kind)).Inc()
	c.Notify(ctx, stored)
	return stored, nil
}

// Notify pushes an already stored envelope. Failures are logged and
// counted, never returned.
func (c *Channel) Notify(ctx context.Context, env models.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.pushFailed(ctx, env, "encode", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(env.Kind))

	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.transport.Publish(c.topic, msg)
	})
	if err == nil {
		return
	}
	reason := "transport"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "breaker_open"
	}
	c.pushFailed(ctx, env, reason, err)
}

func (c *Channel) pushFailed(ctx context.Context, env models.Envelope, reason string, err error) {
	metrics.EventsPushFailures.WithLabelValues(string(env.Kind), reason).Inc()
	logging.Ctx(ctx).Warn().
		Err(fmt.Errorf("%w: %v", models.ErrTransport, err)).
		Str("kind", string(env.Kind)).
		Str("id", env.ID).
		Uint64("version", env.Version).
		Str("reason", reason).
		Msg("push delivery failed, consumers will catch up by polling")
}

// Subscribe registers fn for (kind, partition). The returned handle
// removes it.
func (c *Channel) Subscribe(_ context.Context, kind models.Kind, partition string, fn Listener) (Handle, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("subscribe: unknown kind %q", kind)
	}
	if fn == nil {
		return nil, errors.New("subscribe: nil listener")
	}
	key := route{kind: kind, partition: partition}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.listeners[key] == nil {
		c.listeners[key] = make(map[uint64]Listener)
	}
	c.listeners[key][id] = fn
	c.mu.Unlock()
	metrics.EventListeners.Inc()

	return HandleFunc(func() {
		c.mu.Lock()
		delete(c.listeners[key], id)
		if len(c.listeners[key]) == 0 {
			delete(c.listeners, key)
		}
		c.mu.Unlock()
		metrics.EventListeners.Dec()
	}), nil
}

// Poll reads from the store.
func (c *Channel) Poll(ctx context.Context, kind models.Kind, partition string, since uint64) ([]models.Envelope, error) {
	envs, err := c.store.Query(ctx, kind, partition, since)
	metrics.RecordPoll(string(kind), err)
	return envs, err
}

// Serve subscribes to the transport and dispatches to listeners until ctx
// ends. It returns an error when the transport subscription breaks, which
// lets a supervisor restart it.
func (c *Channel) Serve(ctx context.Context) error {
	msgs, err := c.transport.Subscribe(ctx, c.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.topic, err)
	}
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Info().Str("topic", c.topic).Msg("event dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("transport subscription to %s closed", c.topic)
			}
			c.handle(msg)
		}
	}
}

func (c *Channel) handle(msg *message.Message) {
	var env models.Envelope
	err := json.Unmarshal(msg.Payload, &env)
	msg.Ack()
	if err != nil {
		c.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping undecodable push")
		return
	}
	c.Dispatch(env)
}

// Dispatch hands env to every listener of one of its partitions.
func (c *Channel) Dispatch(env models.Envelope) {
	c.mu.RLock()
	var targets []Listener
	for _, p := range env.Partitions {
		for _, fn := range c.listeners[route{kind: env.Kind, partition: p}] {
			targets = append(targets, fn)
		}
	}
	c.mu.RUnlock()

	for _, fn := range targets {
		fn(env)
	}
	if len(targets) > 0 {
		metrics.EventsDispatched.WithLabelValues(string(env.Kind)).Add(float64(len(targets)))
	}
}

// Close closes the transport. The store is owned by the caller.
func (c *Channel) Close() error {
	return c.transport.Close()
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// clientIDCounter orders clients for shutdown and logs.
var clientIDCounter atomic.Uint64

// Topic names one push stream.
type Topic struct {
	Kind      models.Kind `json:"kind"`
	Partition string      `json:"partition"`
}

// inbound is a client frame. Data is decoded lazily by type.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is one websocket connection and its subscriptions.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	mu     sync.Mutex
	closed bool
	subs   map[Topic]events.Handle
	done   chan struct{}
}

// NewClient returns a client for conn.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, hub.sendBuf),
		subs: make(map[Topic]events.Handle),
		done: make(chan struct{}),
	}
}

// ID returns the client's sequence number.
func (c *Client) ID() uint64 {
	return c.id
}

// enqueue never blocks. It reports false when the client is closed or its
// buffer is full.
func (c *Client) enqueue(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- m:
		return true
	default:
		return false
	}
}

// deliver is the event channel listener for every subscription of c.
func (c *Client) deliver(env models.Envelope) {
	if c.enqueue(Message{Type: MessageTypeEvent, Data: env}) {
		metrics.WSMessagesSent.Inc()
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	// Full buffer: cut the connection and let the client catch up by
	// polling. readPump sees the error and unregisters.
	metrics.WSSlowClientsDropped.Inc()
	logging.Warn().Uint64("client_id", c.id).Msg("dropping slow websocket client")
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Subscribe adds a push stream. Subscribing twice to one topic is a no-op.
func (c *Client) Subscribe(ctx context.Context, t Topic) error {
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	if t.Partition == "" {
		return fmt.Errorf("partition is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client closed")
	}
	if _, ok := c.subs[t]; ok {
		c.mu.Unlock()
		return nil
	}
	if len(c.subs) >= c.hub.maxSubs {
		c.mu.Unlock()
		return fmt.Errorf("subscription limit of %d reached", c.hub.maxSubs)
	}
	c.mu.Unlock()

	h, err := c.hub.src.Subscribe(ctx, t.Kind, t.Partition, c.deliver)
	if err != nil {
		return err
	}

	c.mu.Lock()
	_, dup := c.subs[t]
	if c.closed || dup {
		c.mu.Unlock()
		return h.Close()
	}
	c.subs[t] = h
	c.mu.Unlock()
	metrics.WSSubscriptions.Inc()
	return nil
}

// Unsubscribe removes a push stream.
func (c *Client) Unsubscribe(t Topic) error {
	c.mu.Lock()
	h, ok := c.subs[t]
	delete(c.subs, t)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.WSSubscriptions.Dec()
	return h.Close()
}

// Topics returns the current subscriptions.
func (c *Client) Topics() []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Topic, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// shutdown drops every subscription and closes send, which makes
// writePump say goodbye and exit. Called by the hub only.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	close(c.done)
	c.mu.Unlock()

	for _, h := range subs {
		_ = h.Close()
		metrics.WSSubscriptions.Dec()
	}
}

func (c *Client) reply(typ string, data interface{}) {
	if !c.enqueue(Message{Type: typ, Data: data}) {
		logging.Debug().Uint64("client_id", c.id).Str("type", typ).Msg("reply dropped")
	}
}

func (c *Client) handle(ctx context.Context, in inbound) {
	switch in.Type {
	case MessageTypePing:
		c.reply(MessageTypePong, nil)
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var t Topic
		if err := json.Unmarshal(in.Data, &t); err != nil {
			c.reply(MessageTypeError, map[string]string{"message": "invalid topic"})
			return
		}
		var err error
		if in.Type == MessageTypeSubscribe {
			err = c.Subscribe(ctx, t)
		} else {
			err = c.Unsubscribe(t)
		}
		if err != nil {
			c.reply(MessageTypeError, map[string]string{"message": err.Error()})
			return
		}
		if in.Type == MessageTypeSubscribe {
			c.reply(MessageTypeSubscribed, t)
		}
	default:
		c.reply(MessageTypeError, map[string]string{"message": "unknown frame type " + in.Type})
	}
}

// readPump reads client frames until the connection fails.
func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case c.hub.Unregister <- c:
		case <-c.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(MessageTypeError, map[string]string{"message": "invalid frame"})
			continue
		}
		c.handle(ctx, in)
	}
}

// writePump writes queued frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logging.Error().Err(err).Str("type", msg.Type).Msg("failed to encode websocket frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start runs the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

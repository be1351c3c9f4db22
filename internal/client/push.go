// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
)

const (
	handshakeTimeout  = 10 * time.Second
	ackTimeout        = 5 * time.Second
	pushWriteWait     = 10 * time.Second
	pushReadWait      = 75 * time.Second
	pushPingPeriod    = 30 * time.Second
	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 32 * time.Second
)

var errPushClosed = errors.New("push connection closed")

type topic struct {
	Kind      models.Kind `json:"kind"`
	Partition string      `json:"partition"`
}

type pushFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// pushConn multiplexes every subscription of a Client over one websocket.
// A background loop dials on demand, resubscribes after reconnects and
// dispatches event frames to listeners.
type pushConn struct {
	c *Client

	mu        sync.Mutex
	conn      *websocket.Conn
	listeners map[topic]map[uint64]events.Listener
	waiters   map[topic][]chan error
	nextID    uint64
	closed    bool

	writeMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wake    chan struct{}
	started sync.Once
	wg      sync.WaitGroup
}

func newPushConn(c *Client) *pushConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &pushConn{
		c:         c,
		listeners: make(map[topic]map[uint64]events.Listener),
		waiters:   make(map[topic][]chan error),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
	}
}

// Subscribe implements events.Source. It returns once the server has
// confirmed the subscription, or with an error if the websocket cannot be
// reached, in which case followers fall back to polling.
func (c *Client) Subscribe(ctx context.Context, kind models.Kind, partition string, fn events.Listener) (events.Handle, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("subscribe: unknown kind %q", kind)
	}
	return c.push.subscribe(ctx, topic{Kind: kind, Partition: partition}, fn)
}

func (p *pushConn) subscribe(ctx context.Context, t topic, fn events.Listener) (events.Handle, error) {
	ack := make(chan error, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPushClosed
	}
	p.nextID++
	id := p.nextID
	if p.listeners[t] == nil {
		p.listeners[t] = make(map[uint64]events.Listener)
	}
	p.listeners[t][id] = fn
	p.waiters[t] = append(p.waiters[t], ack)
	conn := p.conn
	p.mu.Unlock()

	p.started.Do(func() {
		p.wg.Add(1)
		go p.run()
	})

	if conn != nil {
		if err := p.writeFrame(conn, "subscribe", t); err != nil {
			// The read loop notices the broken connection and redials.
			logging.Debug().Err(err).Msg("push subscribe write failed")
		}
	} else {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-ack:
	case <-timer.C:
		err = fmt.Errorf("subscribe %s/%s: no acknowledgement within %s", t.Kind, t.Partition, ackTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	case <-p.ctx.Done():
		err = errPushClosed
	}
	if err != nil {
		p.unsubscribe(t, id, ack)
		return nil, err
	}
	return events.HandleFunc(func() { p.unsubscribe(t, id, nil) }), nil
}

// unsubscribe removes one listener. The server subscription is dropped
// with the topic's last listener.
func (p *pushConn) unsubscribe(t topic, id uint64, ack chan error) {
	p.mu.Lock()
	if ack != nil {
		p.dropWaiter(t, ack)
	}
	last := false
	if ls, ok := p.listeners[t]; ok {
		delete(ls, id)
		if len(ls) == 0 {
			delete(p.listeners, t)
			last = true
		}
	}
	conn := p.conn
	p.mu.Unlock()

	if last && conn != nil {
		_ = p.writeFrame(conn, "unsubscribe", t)
	}
}

func (p *pushConn) dropWaiter(t topic, ack chan error) {
	ws := p.waiters[t]
	for i, w := range ws {
		if w == ack {
			p.waiters[t] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(p.waiters[t]) == 0 {
		delete(p.waiters, t)
	}
}

// resolve answers the waiters of t, or of every topic when t is nil.
func (p *pushConn) resolve(t *topic, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, ws := range p.waiters {
		if t != nil && k != *t {
			continue
		}
		for _, w := range ws {
			w <- err
		}
		delete(p.waiters, k)
	}
}

func (p *pushConn) wanted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners) > 0
}

// run owns the connection lifecycle until close.
func (p *pushConn) run() {
	defer p.wg.Done()

	delay := minReconnectDelay
	for {
		for !p.wanted() {
			select {
			case <-p.ctx.Done():
				return
			case <-p.wake:
			}
		}

		conn, err := p.dial()
		if err != nil {
			if p.ctx.Err() != nil {
				p.resolve(nil, errPushClosed)
				return
			}
			p.resolve(nil, err)
			logging.Debug().Err(err).Dur("retry_in", delay).Msg("push connection failed")
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		delay = minReconnectDelay

		p.listen(conn)

		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		p.resolve(nil, errors.New("push connection lost"))
		if p.ctx.Err() != nil {
			return
		}
		logging.Debug().Msg("push connection lost, reconnecting")
	}
}

func (p *pushConn) websocketURL() (string, error) {
	u, err := url.Parse(p.c.base.String() + "/api/v1/ws")
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	if tok := p.c.Token(); tok != "" {
		q := u.Query()
		q.Set("token", tok)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// dial connects and subscribes every registered topic.
func (p *pushConn) dial() (*websocket.Conn, error) {
	wsURL, err := p.websocketURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(p.ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, errPushClosed
	}
	p.conn = conn
	topics := make([]topic, 0, len(p.listeners))
	for t := range p.listeners {
		topics = append(topics, t)
	}
	p.mu.Unlock()

	for _, t := range topics {
		if err := p.writeFrame(conn, "subscribe", t); err != nil {
			p.mu.Lock()
			p.conn = nil
			p.mu.Unlock()
			_ = conn.Close()
			return nil, fmt.Errorf("resubscribe: %w", err)
		}
	}
	return conn, nil
}

// listen reads frames until the connection fails.
func (p *pushConn) listen(conn *websocket.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()
	}()

	extend := func() error { return conn.SetReadDeadline(time.Now().Add(pushReadWait)) }
	if err := extend(); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error { return extend() })
	conn.SetPingHandler(func(data string) error {
		if err := extend(); err != nil {
			return err
		}
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pushWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	p.wg.Add(1)
	go p.pingLoop(conn, done)

	stop := context.AfterFunc(p.ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && p.ctx.Err() == nil {
				logging.Debug().Err(err).Msg("push read failed")
			}
			return
		}
		var f pushFrame
		if err := json.Unmarshal(data, &f); err != nil {
			logging.Debug().Err(err).Msg("undecodable push frame")
			continue
		}
		p.handle(f)
	}
}

func (p *pushConn) handle(f pushFrame) {
	switch f.Type {
	case "event":
		var env models.Envelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			logging.Debug().Err(err).Msg("undecodable push event")
			return
		}
		p.dispatch(env)
	case "subscribed":
		var t topic
		if err := json.Unmarshal(f.Data, &t); err == nil {
			p.resolve(&t, nil)
		}
	case "error":
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Data, &e)
		// Error frames carry no topic, so every pending subscribe fails.
		p.resolve(nil, fmt.Errorf("push: %s", e.Message))
	}
}

// dispatch calls listeners outside the lock; a listener may unsubscribe.
func (p *pushConn) dispatch(env models.Envelope) {
	var fns []events.Listener
	p.mu.Lock()
	for _, part := range env.Partitions {
		for _, fn := range p.listeners[topic{Kind: env.Kind, Partition: part}] {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

func (p *pushConn) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(pushPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pushWriteWait))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (p *pushConn) writeFrame(conn *websocket.Conn, typ string, t topic) error {
	data, err := json.Marshal(map[string]interface{}{"type": typ, "data": t})
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(pushWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (p *pushConn) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.mu.Unlock()

	p.cancel()
	if conn != nil {
		p.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
	}
	p.wg.Wait()
	return nil
}

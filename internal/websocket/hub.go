// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Frame types.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeSubscribed  = "subscribed"
	MessageTypeEvent       = "event"
	MessageTypeError       = "error"
	MessageTypePing        = "ping"
	MessageTypePong        = "pong"
)

// Defaults used when the config leaves a limit at zero.
const (
	DefaultMaxSubscriptions = 32
	DefaultSendBuffer       = 256
	DefaultRegisterTimeout  = 5 * time.Second
)

// Message is one frame in either direction.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks connected clients.
type Hub struct {
	src      events.Source
	maxSubs  int
	sendBuf  int
	upgrader websocket.Upgrader

	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// registerTimeout bounds how long ServeWS waits for the run loop.
	registerTimeout time.Duration
	// stopped is closed when RunWithContext returns and replaced when it
	// starts again. Before the first run it is open, so early upgrades
	// wait up to registerTimeout.
	stopped chan struct{}
}

// NewHub returns a Hub whose clients subscribe on src. allowedOrigins
// limits browser upgrades; "*" or an empty list accepts any origin.
func NewHub(src events.Source, cfg config.WebSocketConfig, allowedOrigins []string) *Hub {
	h := &Hub{
		src:        src,
		maxSubs:    cfg.MaxSubscriptions,
		sendBuf:    cfg.SendBuffer,
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),

		registerTimeout: cfg.RegisterTimeout,
		stopped:         make(chan struct{}),
	}
	if h.registerTimeout <= 0 {
		h.registerTimeout = DefaultRegisterTimeout
	}
	if h.maxSubs <= 0 {
		h.maxSubs = DefaultMaxSubscriptions
	}
	if h.sendBuf <= 0 {
		h.sendBuf = DefaultSendBuffer
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// Serve runs the hub until ctx ends. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// RunWithContext processes registrations until ctx ends, then closes every
// client. Shutdown is checked first and lifecycle events are drained
// before blocking, so client state is settled before the next wait.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.mu.Lock()
	select {
	case <-h.stopped:
		h.stopped = make(chan struct{})
	default:
	}
	stopped := h.stopped
	h.mu.Unlock()
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(c)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	logging.Debug().Uint64("client_id", c.id).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.shutdown()
	metrics.WSConnections.Dec()
	logging.Debug().Uint64("client_id", c.id).Int("total_clients", n).Msg("websocket client disconnected")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	n := h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", n).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// closeAllClients closes clients in id order and returns how many there
// were.
func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		c.shutdown()
		metrics.WSConnections.Dec()
	}
	return len(clients)
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and starts a client. When the hub is not
// running the connection is closed with "try again later" instead of
// blocking the handler.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := NewClient(h, conn)

	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	timer := time.NewTimer(h.registerTimeout)
	defer timer.Stop()

	select {
	case h.Register <- c:
		c.Start()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	case <-stopped:
	case <-timer.C:
	}
	logging.Ctx(r.Context()).Warn().Msg("websocket hub not running, refusing client")
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub not running")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type harness struct {
	ch     *events.Channel
	hub    *Hub
	url    string
	cancel context.CancelFunc
}

func setupHub(t *testing.T, cfg config.WebSocketConfig) *harness {
	t.Helper()
	ch := events.NewChannel(store.NewMemoryStore(), events.NewGoChannelTransport(64), config.EventsConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	chDone := make(chan struct{})
	go func() {
		ch.Serve(ctx) //nolint:errcheck
		close(chDone)
	}()
	<-ch.Ready()

	hub := NewHub(ch, cfg, nil)
	hubDone := make(chan struct{})
	go func() {
		hub.RunWithContext(ctx) //nolint:errcheck
		close(hubDone)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		<-hubDone
		<-chDone
		srv.Close()
		ch.Close()
	})
	return &harness{
		ch:     ch,
		hub:    hub,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		cancel: cancel,
	}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data interface{}) {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{"type": typ, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn, wait time.Duration) (frame, error) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f, nil
}

func mustRead(t *testing.T, conn *websocket.Conn, wantType string) frame {
	t.Helper()
	f, err := read(t, conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read %s: %v", wantType, err)
	}
	if f.Type != wantType {
		t.Fatalf("frame type = %s (%s), want %s", f.Type, f.Data, wantType)
	}
	return f
}

func subscribe(t *testing.T, conn *websocket.Conn, kind models.Kind, partition string) {
	t.Helper()
	send(t, conn, MessageTypeSubscribe, Topic{Kind: kind, Partition: partition})
	mustRead(t, conn, MessageTypeSubscribed)
}

func TestHub_RoutesOnlyToSubscribers(t *testing.T) {
	h := setupHub(t, config.WebSocketConfig{})
	a := h.dial(t)
	b := h.dial(t)

	subscribe(t, a, models.KindPresentation, "p1")
	subscribe(t, b, models.KindPresentation, "p2")

	if _, err := h.ch.Publish(context.Background(), models.Presentation{ID: "p1", SessionCode: "ABC123"}); err != nil {
		t.Fatal(err)
	}

	f := mustRead(t, a, MessageTypeEvent)
	var env models.Envelope
	if err := json.Unmarshal(f.Data, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != "p1" || env.Kind != models.KindPresentation || env.Version == 0 {
		t.Errorf("event = %+v", env)
	}

	if f, err := read(t, b, 150*time.Millisecond); err == nil {
		t.Errorf("unsubscribed client got %s frame", f.Type)
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := setupHub(t, config.WebSocketConfig{})
	a := h.dial(t)

	subscribe(t, a, models.KindSession, "ABC123")
	send(t, a, MessageTypeUnsubscribe, Topic{Kind: models.KindSession, Partition: "ABC123"})
	send(t, a, MessageTypePing, nil)
	mustRead(t, a, MessageTypePong)

	if _, err := h.ch.Publish(context.Background(), models.Session{ID: "s1", Code: "ABC123"}); err != nil {
		t.Fatal(err)
	}
	if f, err := read(t, a, 150*time.Millisecond); err == nil {
		t.Errorf("got %s frame after unsubscribe", f.Type)
	}
}

func TestHub_RejectsBadSubscriptions(t *testing.T) {
	h := setupHub(t, config.WebSocketConfig{MaxSubscriptions: 1})
	a := h.dial(t)

	send(t, a, MessageTypeSubscribe, Topic{Kind: "gossip", Partition: "x"})
	mustRead(t, a, MessageTypeError)

	send(t, a, MessageTypeSubscribe, Topic{Kind: models.KindSession})
	mustRead(t, a, MessageTypeError)

	subscribe(t, a, models.KindSession, "ABC123")
	send(t, a, MessageTypeSubscribe, Topic{Kind: models.KindSession, Partition: "XYZ789"})
	mustRead(t, a, MessageTypeError)

	send(t, a, "shout", nil)
	mustRead(t, a, MessageTypeError)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := setupHub(t, config.WebSocketConfig{})
	a := h.dial(t)
	subscribe(t, a, models.KindSession, "ABC123")

	if n := h.hub.GetClientCount(); n != 1 {
		t.Fatalf("GetClientCount() = %d, want 1", n)
	}

	h.cancel()
	for {
		if _, err := read(t, a, 2*time.Second); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Errorf("read after shutdown = %v, want normal close", err)
			}
			break
		}
	}
}

func TestServeWS_RefusesWhenHubNotRunning(t *testing.T) {
	dialStopped := func(t *testing.T, hub *Hub) error {
		t.Helper()
		srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
		defer srv.Close()
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		_, err = read(t, conn, 2*time.Second)
		return err
	}

	t.Run("never started", func(t *testing.T) {
		hub := NewHub(nil, config.WebSocketConfig{RegisterTimeout: 20 * time.Millisecond}, nil)
		if err := dialStopped(t, hub); !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
			t.Errorf("read = %v, want try-again-later close", err)
		}
	})

	t.Run("stopped", func(t *testing.T) {
		hub := NewHub(nil, config.WebSocketConfig{RegisterTimeout: time.Hour}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			hub.RunWithContext(ctx) //nolint:errcheck
			close(done)
		}()
		cancel()
		<-done

		start := time.Now()
		if err := dialStopped(t, hub); !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
			t.Errorf("read = %v, want try-again-later close", err)
		}
		if time.Since(start) > time.Second {
			t.Errorf("refusal took %v", time.Since(start))
		}
		if n := hub.GetClientCount(); n != 0 {
			t.Errorf("GetClientCount() = %d, want 0", n)
		}
	})
}

func TestClient_SlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil, config.WebSocketConfig{SendBuffer: 1}, nil)
	c := NewClient(hub, nil)

	before := testutil.ToFloat64(metrics.WSSlowClientsDropped)
	c.deliver(models.Envelope{ID: "a", Version: 1})
	c.deliver(models.Envelope{ID: "b", Version: 2})

	if got := testutil.ToFloat64(metrics.WSSlowClientsDropped) - before; got != 1 {
		t.Errorf("slow client drops = %v, want 1", got)
	}
	if len(c.send) != 1 {
		t.Errorf("send buffer holds %d frames, want 1", len(c.send))
	}

	c.shutdown()
	c.deliver(models.Envelope{ID: "c", Version: 3})
	if got := testutil.ToFloat64(metrics.WSSlowClientsDropped) - before; got != 1 {
		t.Errorf("delivery after shutdown counted as a drop")
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://evil.example", true},
		{[]string{"*"}, "https://any.example", true},
		{[]string{"https://school.example"}, "https://school.example", true},
		{[]string{"https://school.example"}, "https://evil.example", false},
		{[]string{"https://school.example"}, "", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/v1/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := originChecker(tt.allowed)(req); got != tt.want {
			t.Errorf("origin %q with %v = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}
}

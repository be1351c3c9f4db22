// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/twistedtree83/classfeedback/internal/client"
	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/supervisor"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("JWT_SECRET", strings.Repeat("x", 32))
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("EVENTS_TRANSPORT", "gochannel")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

// fakeHTTPServer lets the tree run without binding a port.
type fakeHTTPServer struct{ stop chan struct{} }

func (f *fakeHTTPServer) ListenAndServe() error {
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	close(f.stop)
	return nil
}

func TestApp_ServesLessonUnderSupervision(t *testing.T) {
	cfg := loadTestConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		t.Fatal(err)
	}
	a.supervise(tree, cfg, &fakeHTTPServer{stop: make(chan struct{})})
	done := tree.ServeBackground(ctx)

	select {
	case <-a.channel.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("event relay not started")
	}

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	teacher, err := client.New(client.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer teacher.Close()

	if err := teacher.Ready(ctx); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	s, err := teacher.CreateSession(ctx, "Mr Okafor")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if !models.ValidCode(s.Code) || !s.Active {
		t.Errorf("session = %+v", s)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor tree did not stop")
	}
}

func TestNewApp_RejectsUnknownStore(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Store.Backend = "floppy"
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatal("newApp() accepted an unknown store backend")
	}
}

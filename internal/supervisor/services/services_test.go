// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/thejerf/suture/v4"

	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*EmbeddedNATSService)(nil)
	_ suture.Service = (*StoreGCService)(nil)
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	f.started <- struct{}{}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return f.shutdownErr
}

func serveAsync(ctx context.Context, svc suture.Service) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if got := NewHTTPServerService(newFakeHTTPServer(), d).shutdownTimeout; got != 10*time.Second {
			t.Errorf("timeout for %v = %v, want 10s", d, got)
		}
	}
	if s := NewHTTPServerService(newFakeHTTPServer(), time.Second).String(); s != "http-server" {
		t.Errorf("String() = %q", s)
	}
}

func TestHTTPServerService_Serve(t *testing.T) {
	t.Run("graceful shutdown on cancel", func(t *testing.T) {
		srv := newFakeHTTPServer()
		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, NewHTTPServerService(srv, time.Second))
		<-srv.started
		cancel()

		if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("Shutdown called %d times", srv.shutdowns.Load())
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		bind := errors.New("bind: address already in use")
		srv := newFakeHTTPServer()
		srv.listenErr = bind
		if err := NewHTTPServerService(srv, time.Second).Serve(context.Background()); !errors.Is(err, bind) {
			t.Errorf("Serve() = %v, want %v", err, bind)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		stuck := errors.New("connections did not drain")
		srv := newFakeHTTPServer()
		srv.shutdownErr = stuck
		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, NewHTTPServerService(srv, time.Second))
		<-srv.started
		cancel()
		if err := waitErr(t, errCh); !errors.Is(err, stuck) {
			t.Errorf("Serve() = %v, want %v", err, stuck)
		}
	})
}

func TestHTTPServerService_RealServer(t *testing.T) {
	srv := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, NewHTTPServerService(srv, time.Second))
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
}

type fakeNATS struct {
	running   atomic.Bool
	shutdowns atomic.Int32
}

func (f *fakeNATS) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.running.Store(false)
	return nil
}

func (f *fakeNATS) IsRunning() bool { return f.running.Load() }

func TestEmbeddedNATSService(t *testing.T) {
	t.Run("shuts the server down on cancel", func(t *testing.T) {
		ns := &fakeNATS{}
		ns.running.Store(true)
		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, NewEmbeddedNATSService(ns, time.Second))
		cancel()
		if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
		if ns.shutdowns.Load() != 1 {
			t.Errorf("Shutdown called %d times", ns.shutdowns.Load())
		}
	})

	t.Run("fails when the server dies", func(t *testing.T) {
		ns := &fakeNATS{}
		svc := NewEmbeddedNATSService(ns, time.Second)
		svc.checkInterval = 10 * time.Millisecond
		if err := waitErr(t, serveAsync(context.Background(), svc)); err == nil {
			t.Error("Serve() returned nil for a stopped server")
		}
	})
}

type fakeGC struct {
	runs atomic.Int32
	err  error
}

func (f *fakeGC) RunGC() error {
	f.runs.Add(1)
	return f.err
}

func TestStoreGCService(t *testing.T) {
	if got := NewStoreGCService(&fakeGC{}, 0).interval; got != 10*time.Minute {
		t.Errorf("default interval = %v", got)
	}

	tests := []struct {
		name   string
		err    error
		result string
	}{
		{"success", nil, "ok"},
		{"failure keeps running", errors.New("value log busy"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gc := &fakeGC{err: tt.err}
			before := testutil.ToFloat64(metrics.StoreGCRuns.WithLabelValues(tt.result))

			ctx, cancel := context.WithCancel(context.Background())
			errCh := serveAsync(ctx, NewStoreGCService(gc, 5*time.Millisecond))
			deadline := time.Now().Add(2 * time.Second)
			for gc.runs.Load() < 2 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()
			if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
				t.Errorf("Serve() = %v", err)
			}
			if gc.runs.Load() < 2 {
				t.Fatalf("RunGC called %d times, want at least 2", gc.runs.Load())
			}
			if got := testutil.ToFloat64(metrics.StoreGCRuns.WithLabelValues(tt.result)) - before; got < 2 {
				t.Errorf("%s runs counted = %v", tt.result, got)
			}
		})
	}
}

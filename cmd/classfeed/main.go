// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package main is the classfeed server.
//
// classfeed hosts the record store, the event channel, the HTTP API under
// /api/v1 and the websocket push hub at /api/v1/ws. Teachers create a
// session and a card deck, approve students, and move the cursor; students
// follow the cursor and send feedback, questions and extension requests.
//
// # Startup
//
//  1. .env is loaded into the environment when present (godotenv)
//  2. Configuration: defaults, then config.yaml, then environment (koanf)
//  3. Record store: badger (default), memory or postgres
//  4. Event transport: in-process gochannel, or NATS JetStream with
//     -tags nats, optionally with an embedded server
//  5. Supervisor tree: relay and store GC, hub and NATS, HTTP server
//
// # Configuration
//
// JWT_SECRET is required and must be at least 32 characters. Common
// overrides:
//
//	HTTP_PORT=8480
//	STORE_BACKEND=memory
//	EVENTS_TRANSPORT=nats
//	LOG_LEVEL=debug
//
// # Signals
//
// SIGINT and SIGTERM stop the tree. The HTTP server drains for
// HTTP_SHUTDOWN_TIMEOUT and websocket clients receive a normal close.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/twistedtree83/classfeedback/internal/admission"
	"github.com/twistedtree83/classfeedback/internal/api"
	"github.com/twistedtree83/classfeedback/internal/auth"
	"github.com/twistedtree83/classfeedback/internal/authz"
	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/presentation"
	"github.com/twistedtree83/classfeedback/internal/sessions"
	"github.com/twistedtree83/classfeedback/internal/sidechannel"
	"github.com/twistedtree83/classfeedback/internal/store"
	"github.com/twistedtree83/classfeedback/internal/supervisor"
	"github.com/twistedtree83/classfeedback/internal/supervisor/services"
	"github.com/twistedtree83/classfeedback/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn().Err(err).Msg("Failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("classfeed stopped with error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("classfeed stopped")
}

// app holds every long-lived component of one server.
type app struct {
	store   store.Store
	nats    *events.EmbeddedServer
	channel *events.Channel
	hub     *websocket.Hub
	handler http.Handler
}

// newApp opens the store and transport and wires the API. The caller owns
// close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var err error
	if a.store, err = store.Open(ctx, cfg.Store); err != nil {
		return nil, err
	}

	if cfg.Events.Transport == events.TransportNATS && cfg.NATS.EmbeddedServer {
		if a.nats, err = events.NewEmbeddedServer(cfg.NATS); err != nil {
			return nil, err
		}
		cfg.NATS.URL = a.nats.ClientURL()
		logging.Info().Str("url", cfg.NATS.URL).Msg("Embedded NATS server started")
	}

	transport, err := events.NewTransport(cfg.Events, cfg.NATS)
	if err != nil {
		return nil, err
	}
	a.channel = events.NewChannel(a.store, transport, cfg.Events)

	tokens, err := auth.NewTokenManager(&cfg.Security)
	if err != nil {
		return nil, err
	}
	enforcer, err := authz.NewEnforcer(authz.EnforcerConfig{})
	if err != nil {
		return nil, err
	}

	a.hub = websocket.NewHub(a.channel, cfg.WebSocket, cfg.Security.CORSOrigins)
	reg := sessions.NewRegistry(a.channel, cfg.Session)
	handler := api.NewHandler(api.Services{
		Channel:       a.channel,
		Sessions:      reg,
		Admission:     admission.NewService(a.channel, reg, cfg.Session.MaxNameLength),
		Presentations: presentation.NewService(a.channel, reg),
		SideChannel:   sidechannel.NewService(a.channel, cfg.Session.MaxNameLength),
		Tokens:        tokens,
		Hub:           a.hub,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(cfg.Security),
		auth.NewMiddleware(tokens), authz.NewMiddleware(enforcer))
	a.handler = router.SetupChi()

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}
	ok = true
	return a, nil
}

// supervise adds the app's services to tree.
func (a *app) supervise(tree *supervisor.SupervisorTree, cfg *config.Config, srv services.HTTPServer) {
	tree.AddDataService(a.channel)
	if gc, ok := a.store.(store.GarbageCollector); ok {
		tree.AddDataService(services.NewStoreGCService(gc, cfg.Store.GCInterval))
	}
	tree.AddMessagingService(a.hub)
	if a.nats != nil {
		tree.AddMessagingService(services.NewEmbeddedNATSService(a.nats, cfg.Server.ShutdownTimeout))
	}
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
}

func (a *app) close() {
	if a.channel != nil {
		if err := a.channel.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event transport")
		}
	}
	if a.nats != nil && a.nats.IsRunning() {
		if err := a.nats.Shutdown(context.Background()); err != nil {
			logging.Error().Err(err).Msg("Error stopping NATS server")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing record store")
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	a.supervise(tree, cfg, srv)

	logging.Info().
		Str("addr", srv.Addr).
		Str("store", cfg.Store.Backend).
		Str("transport", cfg.Events.Transport).
		Str("environment", cfg.Server.Environment).
		Msg("Starting classfeed")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, s := range report {
			logging.Warn().Str("service", s.Name).Msg("Service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

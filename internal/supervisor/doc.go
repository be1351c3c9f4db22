// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

/*
Package supervisor runs classfeed's long-lived services under suture v4.

# Layout

	RootSupervisor ("classfeed")
	├── DataSupervisor ("data-layer")
	│   ├── events.Channel          (transport relay)
	│   └── services.StoreGCService (badger backend only)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── websocket.Hub
	│   └── services.EmbeddedNATSService (nats build tag, embedded server)
	└── APISupervisor ("api-layer")
	    └── services.HTTPServerService

Each layer counts failures on its own. If the hub or the transport relay
keeps crashing, HTTP polling still answers and every watcher keeps up
through its poll fallback.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(),
	    supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
	    return err
	}
	tree.AddDataService(channel)
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("supervisor stopped")
	}

Supervisor events go to slog through sutureslog; logging.NewSlogLogger
routes them into zerolog.
*/
package supervisor

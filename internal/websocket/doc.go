// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

/*
Package websocket pushes record envelopes to browsers and Go clients.

A connection starts with no subscriptions. The client names the streams it
wants:

	{"type":"subscribe","data":{"kind":"presentation","partition":"<id>"}}

and the server answers with "subscribed", then sends one frame per change:

	{"type":"event","data":<Envelope>}

Each subscription is a listener on the event channel. Listeners never
block: a frame that does not fit into the client's send buffer disconnects
the client, which then falls back to polling and may reconnect.

	┌─────────────┐ Subscribe  ┌──────────┐  send chan  ┌──────────┐
	│ events.     │◀───────────│  Client  │────────────▶│ writePump│──▶ conn
	│ Channel     │──listener─▶│          │             └──────────┘
	└─────────────┘            └──────────┘
	                                ▲ readPump (subscribe, unsubscribe, ping)

The Hub tracks connections so it can report counts and close them all on
shutdown.
*/
package websocket

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

/*
Package api exposes the lesson engine over HTTP.

Routing uses go-chi/chi. Every route under /api/v1 passes through the same
stack:

	RequestID -> Recoverer -> PrometheusMetrics -> CORS -> httprate
	          -> auth.Authenticate -> authz.AuthorizeRequest -> handler

Authentication turns an optional bearer token into claims (anonymous when
absent). Authorization checks the role against the casbin route policy.
Handlers then check ownership from the claims: a teacher token only
controls its own session, a student token only submits as its own name
and only once admitted.

Responses use the models.APIResponse envelope. Domain errors map to
status codes in one place (respondServiceError):

	models.ErrValidation        400 VALIDATION_ERROR (field details)
	auth failures               401 UNAUTHORIZED / 403 FORBIDDEN
	models.ErrNotFound          404 NOT_FOUND
	models.ErrInvalidTransition 409 INVALID_TRANSITION
	rate limit                  429 RATE_LIMIT_EXCEEDED

A missing and an ended session share one message so callers cannot tell
them apart.

Push is served at /api/v1/ws by internal/websocket; /api/v1/events is the
poll side of the same streams. /metrics serves Prometheus collectors.
*/
package api

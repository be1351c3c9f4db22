// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

/*
Package middleware provides the infrastructure HTTP middleware shared by the
API router.

  - RequestID: accepts or generates X-Request-ID and X-Correlation-ID and
    seeds the logging context with both.
  - PrometheusMetrics: counts requests and observes latency per route
    pattern, so ids in the path do not explode label cardinality.

Both are plain func(http.Handler) http.Handler and slot directly into
chi's r.Use. Authentication and authorization live in internal/auth and
internal/authz; CORS and rate limiting come from go-chi.

Typical order in the router:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(cors.Handler(...))
	r.Use(httprate.Limit(...))
	r.Use(authn.Authenticate)
	r.Use(authzMW.AuthorizeRequest)
*/
package middleware

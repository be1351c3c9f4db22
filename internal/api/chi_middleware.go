// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/twistedtree83/classfeedback/internal/config"
)

// Rate limit defaults used when the config leaves them at zero.
const (
	DefaultRateLimitRequests = 300
	DefaultRateLimitWindow   = time.Minute
)

// ChiMiddleware builds the CORS and rate limit middleware from config.
type ChiMiddleware struct {
	cors          func(http.Handler) http.Handler
	rateRequests  int
	rateWindow    time.Duration
	rateDisabled  bool
	rateKeyFunc   httprate.KeyFunc
	onRateLimited http.HandlerFunc
}

// NewChiMiddleware returns middleware configured from sec.
func NewChiMiddleware(sec config.SecurityConfig) *ChiMiddleware {
	origins := sec.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	m := &ChiMiddleware{
		cors: cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Correlation-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Correlation-ID", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		rateRequests:  sec.RateLimitReqs,
		rateWindow:    sec.RateLimitWindow,
		rateDisabled:  sec.RateLimitDisabled,
		rateKeyFunc:   httprate.KeyByIP,
		onRateLimited: rateLimited,
	}
	if m.rateRequests <= 0 {
		m.rateRequests = DefaultRateLimitRequests
	}
	if m.rateWindow <= 0 {
		m.rateWindow = DefaultRateLimitWindow
	}
	return m
}

// CORS handles preflight requests and sets CORS headers.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit limits requests per client IP. It is a no-op when disabled.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	if m.rateDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.rateRequests,
		m.rateWindow,
		httprate.WithKeyFuncs(m.rateKeyFunc),
		httprate.WithLimitHandler(m.onRateLimited),
	)
}

// RateLimitJoin is the stricter limit on session creation and join
// requests, which are the only writes open to anonymous callers.
func (m *ChiMiddleware) RateLimitJoin() func(http.Handler) http.Handler {
	if m.rateDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	n := m.rateRequests / 10
	if n < 5 {
		n = 5
	}
	return httprate.Limit(n, m.rateWindow,
		httprate.WithKeyFuncs(m.rateKeyFunc),
		httprate.WithLimitHandler(m.onRateLimited),
	)
}

func rateLimited(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests, slow down", nil, nil)
}

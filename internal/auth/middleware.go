// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/twistedtree83/classfeedback/internal/logging"
)

type contextKey string

// ClaimsContextKey holds the *Claims of an authenticated request.
const ClaimsContextKey contextKey = "claims"

// Anonymous is attached to requests that carry no token.
var Anonymous = &Claims{Role: RoleAnonymous}

// ClaimsFromContext returns the request's claims, or Anonymous.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(ClaimsContextKey).(*Claims); ok && c != nil {
		return c
	}
	return Anonymous
}

// WithClaims returns ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, c)
}

// Middleware resolves the bearer token of each request.
type Middleware struct {
	tokens *TokenManager
}

// NewMiddleware returns a Middleware verifying with tokens.
func NewMiddleware(tokens *TokenManager) *Middleware {
	return &Middleware{tokens: tokens}
}

// Authenticate attaches claims to the request context. A missing token
// yields Anonymous; a present but invalid token is rejected with 401.
// Whether the resulting role may proceed is decided by authz.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := extractToken(r)
		if !present {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), Anonymous)))
			return
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("token validation failed")
			w.Header().Set("WWW-Authenticate", `Bearer realm="classfeed"`)
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		ctx := WithClaims(r.Context(), claims)
		ctx = logging.ContextWithLogger(ctx, logging.With().
			Str("role", claims.Role).
			Str("subject", claims.Subject).
			Logger())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the Authorization header, falling back to the token
// query parameter that browsers must use for websocket upgrades.
func extractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", true
		}
		return strings.TrimSpace(token), true
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}
	return "", false
}

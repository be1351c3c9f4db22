// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package authz

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/twistedtree83/classfeedback/internal/auth"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// Middleware enforces the route policy on every request.
type Middleware struct {
	enforcer *Enforcer
}

// NewMiddleware returns a Middleware using enforcer.
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{enforcer: enforcer}
}

// AuthorizeRequest checks the request's role against its escaped path and
// method. It must run after auth.Middleware.Authenticate. Anonymous
// callers that are denied get 401 so they know a token would help; other
// roles get 403.
func (m *Middleware) AuthorizeRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())

		allowed, err := m.enforcer.Enforce(claims.Role, r.URL.EscapedPath(), r.Method)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("authorization error")
			deny(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}
		if !allowed {
			if claims.Role == auth.RoleAnonymous {
				deny(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			deny(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response already committed
	json.NewEncoder(w).Encode(models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/twistedtree83/classfeedback/internal/logging"
)

type contextKey string

// RequestIDKey holds the request id in the request context.
const RequestIDKey contextKey = "request_id"

// HeaderRequestID and HeaderCorrelationID are read from the request and
// echoed on the response.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// maxRequestIDLength bounds ids accepted from upstream proxies.
const maxRequestIDLength = 128

// RequestID tags each request with a request id and a correlation id,
// reusing sane upstream ones. Both are echoed in the response and put in
// the logging context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := upstreamID(r, HeaderRequestID)
		if !ok {
			requestID = logging.GenerateRequestID()
		}
		correlationID, ok := upstreamID(r, HeaderCorrelationID)
		if !ok {
			correlationID = logging.GenerateCorrelationID()
		}

		w.Header().Set(HeaderRequestID, requestID)
		w.Header().Set(HeaderCorrelationID, correlationID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = logging.ContextWithRequestID(ctx, requestID)
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func upstreamID(r *http.Request, header string) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(header))
	if id == "" || len(id) > maxRequestIDLength || !printable(id) {
		return "", false
	}
	return id, true
}

func printable(s string) bool {
	for _, c := range s {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/twistedtree83/classfeedback/internal/metrics"
)

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/presentations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/presentations/{id}/advance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.WriteHeader(http.StatusTeapot)
	})

	ok := metrics.APIRequestsTotal.WithLabelValues("GET", "/presentations/{id}", "200")
	conflict := metrics.APIRequestsTotal.WithLabelValues("POST", "/presentations/{id}/advance", "409")
	missing := metrics.APIRequestsTotal.WithLabelValues("GET", unmatchedRoute, "404")
	okBefore := testutil.ToFloat64(ok)
	conflictBefore := testutil.ToFloat64(conflict)
	missingBefore := testutil.ToFloat64(missing)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/presentations/p1", nil),
		httptest.NewRequest(http.MethodGet, "/presentations/p2", nil),
		httptest.NewRequest(http.MethodPost, "/presentations/p1/advance", nil),
		httptest.NewRequest(http.MethodGet, "/nowhere", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if d := testutil.ToFloat64(ok) - okBefore; d != 2 {
		t.Errorf("GET /presentations/{id} 200 delta = %v, want 2", d)
	}
	if d := testutil.ToFloat64(conflict) - conflictBefore; d != 1 {
		t.Errorf("first status should win; 409 delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(missing) - missingBefore; d != 1 {
		t.Errorf("unmatched 404 delta = %v, want 1", d)
	}
}

func TestPrometheusMetrics_ActiveRequestsSettle(t *testing.T) {
	before := testutil.ToFloat64(metrics.APIActiveRequests)
	var during float64
	h := PrometheusMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(metrics.APIActiveRequests)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if during < before+1 {
		t.Errorf("in-flight gauge during request = %v, want at least %v", during, before+1)
	}
	if after := testutil.ToFloat64(metrics.APIActiveRequests); after != before {
		t.Errorf("in-flight gauge after request = %v, want %v", after, before)
	}
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package metrics holds the Prometheus collectors for the server. All
// collectors register with the default registry through promauto and are
// exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Store
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classfeed_store_operation_duration_seconds",
			Help:    "Duration of record store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"}, // put, get, update, query
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_store_errors_total",
			Help: "Record store operations that returned an error other than not-found",
		},
		[]string{"backend", "operation"},
	)

	StoreGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_store_gc_runs_total",
			Help: "Periodic store garbage collection passes",
		},
		[]string{"result"}, // ok, error
	)

	// Event channel
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_events_published_total",
			Help: "Records written through the event channel",
		},
		[]string{"kind"},
	)

	EventsPushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_events_push_failures_total",
			Help: "Push deliveries that failed or were rejected by the breaker; poll covers them",
		},
		[]string{"kind", "reason"}, // reason: transport, breaker_open, encode
	)

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_events_dispatched_total",
			Help: "Envelopes handed to in-process listeners",
		},
		[]string{"kind"},
	)

	EventPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_event_polls_total",
			Help: "Catch-up polls served or issued",
		},
		[]string{"kind", "result"}, // result: ok, error
	)

	EventListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classfeed_event_listeners",
			Help: "Registered push listeners",
		},
	)

	ActiveFollowers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classfeed_active_followers",
			Help: "Open push+poll followers",
		},
		[]string{"kind"},
	)

	// Domain
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classfeed_sessions_created_total",
			Help: "Sessions created",
		},
	)

	SessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classfeed_sessions_ended_total",
			Help: "Sessions ended",
		},
	)

	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_admission_decisions_total",
			Help: "Join requests and their outcomes",
		},
		[]string{"outcome"}, // requested, approved, rejected, invalid
	)

	CursorMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_cursor_moves_total",
			Help: "Presentation cursor writes",
		},
		[]string{"direction"}, // advance, retreat, set, noop
	)

	SideChannelSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_side_channel_submissions_total",
			Help: "Messages, feedback, questions and extension requests submitted",
		},
		[]string{"channel"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_api_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classfeed_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classfeed_api_active_requests",
			Help: "In-flight HTTP requests",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classfeed_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	WSSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classfeed_websocket_subscriptions",
			Help: "Active websocket topic subscriptions",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classfeed_websocket_messages_sent_total",
			Help: "Frames queued to websocket clients",
		},
	)

	WSSlowClientsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classfeed_websocket_slow_clients_dropped_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classfeed_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordStoreOperation observes one store call.
func RecordStoreOperation(backend, operation string, start time.Time, err error) {
	StoreOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordPoll counts one poll.
func RecordPoll(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventPolls.WithLabelValues(kind, result).Inc()
}

// RecordAPIRequest records a finished HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBreakerTransition updates the state gauge and transition counter.
// States use gobreaker's String() names.
func RecordBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

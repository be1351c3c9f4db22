// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the store ping in HealthReady.
const readyTimeout = 2 * time.Second

// HealthStatus is the body of both health endpoints.
type HealthStatus struct {
	Status        string  `json:"status"`
	StoreOK       bool    `json:"store_ok"`
	PushReady     bool    `json:"push_ready"`
	WSClients     int     `json:"websocket_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthLive reports that the process is serving HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, time.Now(), HealthStatus{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady reports 200 once the store answers and push dispatch is
// running, 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	hs := HealthStatus{UptimeSeconds: time.Since(h.startTime).Seconds()}
	hs.StoreOK = h.channel.Store().Ping(ctx) == nil
	select {
	case <-h.channel.Ready():
		hs.PushReady = true
	default:
	}
	if h.hub != nil {
		hs.WSClients = h.hub.GetClientCount()
	}

	status := http.StatusOK
	hs.Status = "ready"
	if !hs.StoreOK || !hs.PushReady {
		status = http.StatusServiceUnavailable
		hs.Status = "degraded"
	}
	respondData(w, status, start, hs)
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// PollEvents returns the records of one stream newer than ?since=. The
// partition may contain "/" when sent escaped as %2F.
func (h *Handler) PollEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	kind := models.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		respondServiceError(w, r, models.NewValidationError("kind", "unknown kind "+strconv.Quote(string(kind))), "")
		return
	}
	partition, err := url.PathUnescape(chi.URLParam(r, "partition"))
	if err != nil || partition == "" {
		respondServiceError(w, r, models.NewValidationError("partition", "partition is required"), "")
		return
	}

	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondServiceError(w, r, models.NewValidationError("since", "since must be a non-negative integer"), "")
			return
		}
	}

	envs, err := h.channel.Poll(r.Context(), kind, partition, since)
	if err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	if envs == nil {
		envs = []models.Envelope{}
	}
	respondList(w, start, envs, len(envs))
}

// WebSocket upgrades to the push hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

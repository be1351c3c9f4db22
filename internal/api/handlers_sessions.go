// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// CreateSession opens a session and returns it with a teacher token.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}

	s, err := h.sessions.Create(r.Context(), req.TeacherName)
	if err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	token, err := h.tokens.IssueTeacher(s)
	if err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	respondData(w, http.StatusCreated, start, sessionCreated{Session: s, Token: token})
}

// GetSession resolves a code. include_inactive=true also returns an
// ended session, for summaries.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := chi.URLParam(r, "code")

	resolve := h.sessions.Resolve
	if inactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive")); inactive {
		resolve = h.sessions.ResolveAny
	}
	s, err := resolve(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	respondData(w, http.StatusOK, start, s)
}

// EndSession ends the caller's session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := chi.URLParam(r, "code")
	if _, err := h.teacherOf(r.Context(), code, true); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	s, err := h.sessions.End(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	respondData(w, http.StatusOK, start, s)
}

// ActivePresentation returns the presentation currently running in a
// session, cards included.
func (h *Handler) ActivePresentation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := chi.URLParam(r, "code")
	if _, err := h.sessions.Resolve(r.Context(), code); err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	p, err := h.presentations.ActiveForSession(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err, "No presentation is running in this session")
		return
	}
	respondData(w, http.StatusOK, start, p)
}

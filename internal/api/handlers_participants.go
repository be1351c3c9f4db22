// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/twistedtree83/classfeedback/internal/models"
)

const participantNotFound = "Participant not found"

// RequestJoin records a pending join and returns a student token. The
// token is useless for submissions until the teacher approves.
func (h *Handler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}

	p, err := h.admission.RequestJoin(r.Context(), chi.URLParam(r, "code"), req.StudentName)
	if err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	token, err := h.tokens.IssueStudent(p)
	if err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	respondData(w, http.StatusCreated, start, joinAccepted{Participant: p, Token: token})
}

// ListParticipants is the teacher's roster.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := chi.URLParam(r, "code")
	if _, err := h.teacherOf(r.Context(), code, true); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	list, err := h.admission.List(r.Context(), code)
	if err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	respondList(w, start, list, len(list))
}

// GetParticipant is the student's status poll.
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, err := h.admission.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, participantNotFound)
		return
	}
	respondData(w, http.StatusOK, start, p)
}

// ApproveParticipant admits a pending participant.
func (h *Handler) ApproveParticipant(w http.ResponseWriter, r *http.Request) {
	h.decideParticipant(w, r, models.StatusApproved)
}

// RejectParticipant turns a pending participant away.
func (h *Handler) RejectParticipant(w http.ResponseWriter, r *http.Request) {
	h.decideParticipant(w, r, models.StatusRejected)
}

func (h *Handler) decideParticipant(w http.ResponseWriter, r *http.Request, to models.Status) {
	start := time.Now()
	ctx := r.Context()
	p, err := h.admission.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, participantNotFound)
		return
	}
	c, err := h.requireTeacher(ctx, p.SessionCode)
	if err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	if p.SessionID != c.Subject {
		respondServiceError(w, r, fmt.Errorf("participant %s joined another session: %w", p.ID, errForbidden), "")
		return
	}

	if to == models.StatusApproved {
		p, err = h.admission.Approve(ctx, p.ID)
	} else {
		p, err = h.admission.Reject(ctx, p.ID)
	}
	if err != nil {
		respondServiceError(w, r, err, participantNotFound)
		return
	}
	respondData(w, http.StatusOK, start, p)
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/twistedtree83/classfeedback/internal/admission"
	"github.com/twistedtree83/classfeedback/internal/auth"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/presentation"
	"github.com/twistedtree83/classfeedback/internal/sessions"
	"github.com/twistedtree83/classfeedback/internal/sidechannel"
	"github.com/twistedtree83/classfeedback/internal/websocket"
)

// Services is everything the handlers call.
type Services struct {
	Channel       *events.Channel
	Sessions      *sessions.Registry
	Admission     *admission.Service
	Presentations *presentation.Service
	SideChannel   *sidechannel.Service
	Tokens        *auth.TokenManager
	Hub           *websocket.Hub
}

// Handler serves the HTTP API.
type Handler struct {
	channel       *events.Channel
	sessions      *sessions.Registry
	admission     *admission.Service
	presentations *presentation.Service
	side          *sidechannel.Service
	tokens        *auth.TokenManager
	hub           *websocket.Hub
	startTime     time.Time
}

// NewHandler returns a Handler over svc.
func NewHandler(svc Services) *Handler {
	return &Handler{
		channel:       svc.Channel,
		sessions:      svc.Sessions,
		admission:     svc.Admission,
		presentations: svc.Presentations,
		side:          svc.SideChannel,
		tokens:        svc.Tokens,
		hub:           svc.Hub,
		startTime:     time.Now(),
	}
}

// requireTeacher passes only the teacher token of the active session
// holding code. A token minted for an earlier session under a reused
// code carries a different subject and is refused.
func (h *Handler) requireTeacher(ctx context.Context, code string) (*auth.Claims, error) {
	return h.teacherOf(ctx, code, false)
}

// teacherOf is requireTeacher that optionally lets an ended session's own
// teacher through, so ending stays idempotent.
func (h *Handler) teacherOf(ctx context.Context, code string, allowEnded bool) (*auth.Claims, error) {
	c := auth.ClaimsFromContext(ctx)
	if c.Role != auth.RoleTeacher || c.SessionCode != models.NormalizeCode(code) {
		return nil, fmt.Errorf("teacher of %s required: %w", code, errForbidden)
	}
	s, err := h.sessions.ResolveAny(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", code, errForbidden)
		}
		return nil, err
	}
	if c.Subject != s.ID {
		return nil, fmt.Errorf("token of an earlier session under %s: %w", code, errForbidden)
	}
	if !s.Active && !allowEnded {
		return nil, fmt.Errorf("session %s has ended: %w", code, errForbidden)
	}
	return c, nil
}

// requireAdmitted passes only a student token whose participant was
// approved into the session p belongs to, while that session is active.
func (h *Handler) requireAdmitted(ctx context.Context, p models.Presentation) (*auth.Claims, error) {
	c := auth.ClaimsFromContext(ctx)
	if c.Role != auth.RoleStudent || c.SessionCode != models.NormalizeCode(p.SessionCode) {
		return nil, fmt.Errorf("student of %s required: %w", p.SessionCode, errForbidden)
	}
	part, err := h.admission.Get(ctx, c.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("participant %s: %w", c.ParticipantID, errForbidden)
	}
	if part.SessionID != p.SessionID {
		return nil, fmt.Errorf("participant %s joined another session: %w", part.ID, errForbidden)
	}
	if part.Status != models.StatusApproved {
		return nil, fmt.Errorf("participant %s is %s: %w", part.ID, part.Status, errForbidden)
	}
	s, err := h.sessions.Resolve(ctx, p.SessionCode)
	if err != nil || s.ID != part.SessionID {
		return nil, fmt.Errorf("session of participant %s has ended: %w", part.ID, errForbidden)
	}
	return c, nil
}

// ownedPresentation loads the presentation in the {id} URL param and
// checks the caller teaches its session.
func (h *Handler) ownedPresentation(r *http.Request) (models.Presentation, *auth.Claims, error) {
	p, err := h.presentations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return models.Presentation{}, nil, err
	}
	c, err := h.requireTeacher(r.Context(), p.SessionCode)
	if err != nil {
		return models.Presentation{}, nil, err
	}
	if p.SessionID != c.Subject {
		return models.Presentation{}, nil, fmt.Errorf("presentation %s belongs to another session: %w", p.ID, errForbidden)
	}
	return p, c, nil
}

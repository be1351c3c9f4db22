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

	"github.com/twistedtree83/classfeedback/internal/auth"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/models"
)

const (
	questionNotFound  = "Question not found"
	extensionNotFound = "Extension request not found"
)

// SendMessage broadcasts a teacher message to the presentation.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	p, claims, err := h.ownedPresentation(r)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	m, err := h.side.Send(r.Context(), p.ID, claims.Name, req.Content)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	respondData(w, http.StatusCreated, start, m)
}

// studentPresentation loads {id} and checks the caller is an admitted
// student of its session.
func (h *Handler) studentPresentation(r *http.Request) (models.Presentation, *auth.Claims, error) {
	p, err := h.presentations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return models.Presentation{}, nil, err
	}
	c, err := h.requireAdmitted(r.Context(), p)
	if err != nil {
		return models.Presentation{}, nil, err
	}
	return p, c, nil
}

// SubmitFeedback records the caller's reaction to a card. A second
// submission for the same card replaces the first.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	p, claims, err := h.studentPresentation(r)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	f, err := h.side.Submit(r.Context(), p.ID, claims.Name, *req.CardIndex, req.Type)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	respondData(w, http.StatusCreated, start, f)
}

// AskQuestion records a free-text question.
func (h *Handler) AskQuestion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req questionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	p, claims, err := h.studentPresentation(r)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	q, err := h.side.Ask(r.Context(), p.ID, claims.Name, req.Text, *req.CardIndex)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	respondData(w, http.StatusCreated, start, q)
}

// RequestExtension asks for the extension activity of a card. Asking
// again returns the existing request.
func (h *Handler) RequestExtension(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req extensionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	p, claims, err := h.studentPresentation(r)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	e, err := h.side.Request(r.Context(), p.ID, claims.Name, *req.CardIndex)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	respondData(w, http.StatusOK, start, e)
}

// AnswerQuestion marks a question answered.
func (h *Handler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	q, err := events.Load[models.Question](ctx, h.channel, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, questionNotFound)
		return
	}
	if err := h.teachesPresentation(r, q.PresentationID); err != nil {
		respondServiceError(w, r, err, questionNotFound)
		return
	}
	q, err = h.side.MarkAnswered(ctx, q.ID)
	if err != nil {
		respondServiceError(w, r, err, questionNotFound)
		return
	}
	respondData(w, http.StatusOK, start, q)
}

// ApproveExtension unlocks a student's extension activity.
func (h *Handler) ApproveExtension(w http.ResponseWriter, r *http.Request) {
	h.decideExtension(w, r, models.StatusApproved)
}

// RejectExtension declines a student's extension request.
func (h *Handler) RejectExtension(w http.ResponseWriter, r *http.Request) {
	h.decideExtension(w, r, models.StatusRejected)
}

func (h *Handler) decideExtension(w http.ResponseWriter, r *http.Request, to models.Status) {
	start := time.Now()
	ctx := r.Context()
	e, err := events.Load[models.ExtensionRequest](ctx, h.channel, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, extensionNotFound)
		return
	}
	if err := h.teachesPresentation(r, e.PresentationID); err != nil {
		respondServiceError(w, r, err, extensionNotFound)
		return
	}
	if to == models.StatusApproved {
		e, err = h.side.ApproveExtension(ctx, e.ID)
	} else {
		e, err = h.side.RejectExtension(ctx, e.ID)
	}
	if err != nil {
		respondServiceError(w, r, err, extensionNotFound)
		return
	}
	respondData(w, http.StatusOK, start, e)
}

func (h *Handler) teachesPresentation(r *http.Request, presentationID string) error {
	p, err := h.presentations.Get(r.Context(), presentationID)
	if err != nil {
		return err
	}
	c, err := h.requireTeacher(r.Context(), p.SessionCode)
	if err != nil {
		return err
	}
	if p.SessionID != c.Subject {
		return fmt.Errorf("presentation %s belongs to another session: %w", p.ID, errForbidden)
	}
	return nil
}

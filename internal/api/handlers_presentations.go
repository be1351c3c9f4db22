// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/presentation"
)

const presentationNotFound = "Presentation not found"

// viewResponse adds the rendered progress label to an assembled view.
type viewResponse struct {
	presentation.View
	Index    int    `json:"index"`
	Progress string `json:"progress"`
}

// CreatePresentation stores a card deck for the caller's session.
func (h *Handler) CreatePresentation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req createPresentationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	claims, err := h.requireTeacher(r.Context(), req.SessionCode)
	if err != nil {
		respondServiceError(w, r, err, "")
		return
	}

	p, err := h.presentations.Create(r.Context(), presentation.CreateInput{
		SessionCode: req.SessionCode,
		TeacherName: claims.Name,
		Title:       req.Title,
		Cards:       req.Cards,
		Extras:      req.Extras,
	})
	if err != nil {
		respondServiceError(w, r, err, models.SessionGoneMessage)
		return
	}
	respondData(w, http.StatusCreated, start, p)
}

// GetPresentation returns a presentation with its cards.
func (h *Handler) GetPresentation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, err := h.presentations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	respondData(w, http.StatusOK, start, p)
}

// PresentationView assembles the card at ?index=, or at the live cursor
// when index is absent. Out-of-range indexes are clamped.
func (h *Handler) PresentationView(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p, err := h.presentations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}

	index := p.CurrentCardIndex
	if raw := r.URL.Query().Get("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondServiceError(w, r, models.NewValidationError("index", "index must be an integer"), "")
			return
		}
		index = p.ClampIndex(n)
	}

	v := presentation.Assemble(p, index)
	respondData(w, http.StatusOK, start, viewResponse{View: v, Index: index, Progress: v.Progress()})
}

// AdvanceCursor moves the cursor one card forward.
func (h *Handler) AdvanceCursor(w http.ResponseWriter, r *http.Request) {
	h.moveCursor(w, r, h.presentations.Advance)
}

// RetreatCursor moves the cursor one card back.
func (h *Handler) RetreatCursor(w http.ResponseWriter, r *http.Request) {
	h.moveCursor(w, r, h.presentations.Retreat)
}

// SetCursor jumps to a card. The index is clamped.
func (h *Handler) SetCursor(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err, "")
		return
	}
	h.moveCursor(w, r, func(ctx context.Context, id string) (models.Presentation, error) {
		return h.presentations.SetCursor(ctx, id, *req.Index)
	})
}

func (h *Handler) moveCursor(w http.ResponseWriter, r *http.Request, move func(context.Context, string) (models.Presentation, error)) {
	start := time.Now()
	p, _, err := h.ownedPresentation(r)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	p, err = move(r.Context(), p.ID)
	if err != nil {
		respondServiceError(w, r, err, presentationNotFound)
		return
	}
	respondData(w, http.StatusOK, start, p)
}

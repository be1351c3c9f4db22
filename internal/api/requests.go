// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package api

import "github.com/twistedtree83/classfeedback/internal/models"

// Request bodies. Names and content are trimmed and length-checked again by
// the services; the tags here reject obviously bad input before any store
// access.

type createSessionRequest struct {
	TeacherName string `json:"teacher_name" validate:"notblank,max=128"`
}

type joinRequest struct {
	StudentName string `json:"student_name" validate:"notblank,max=128"`
}

type createPresentationRequest struct {
	SessionCode string            `json:"session_code" validate:"sessioncode"`
	Title       string            `json:"title" validate:"max=512"`
	Cards       []models.Card     `json:"cards" validate:"min=1,dive"`
	Extras      map[string]string `json:"extras,omitempty" validate:"max=32"`
}

type cursorRequest struct {
	Index *int `json:"index" validate:"required"`
}

type messageRequest struct {
	Content string `json:"content" validate:"notblank,max=2000"`
}

type feedbackRequest struct {
	CardIndex *int                `json:"card_index" validate:"required"`
	Type      models.FeedbackType `json:"type" validate:"feedbacktype"`
}

type questionRequest struct {
	Text      string `json:"text" validate:"notblank,max=1000"`
	CardIndex *int   `json:"card_index" validate:"required"`
}

type extensionRequest struct {
	CardIndex *int `json:"card_index" validate:"required"`
}

// Responses that carry a token alongside the record.

type sessionCreated struct {
	Session models.Session `json:"session"`
	Token   string         `json:"token"`
}

type joinAccepted struct {
	Participant models.Participant `json:"participant"`
	Token       string             `json:"token"`
}

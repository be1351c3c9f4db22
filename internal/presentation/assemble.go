// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package presentation

import (
	"fmt"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// WelcomeCardID identifies the synthetic card shown before the lesson.
const WelcomeCardID = "welcome"

// View is what a student screen shows for one cursor position.
type View struct {
	PresentationID string      `json:"presentation_id"`
	Title          string      `json:"title"`
	TeacherName    string      `json:"teacher_name"`
	Card           models.Card `json:"card"`
	Welcome        bool        `json:"welcome"`
	Position       int         `json:"position"`
	Total          int         `json:"total"`
	LessonStarted  bool        `json:"lesson_started"`
	Active         bool        `json:"active"`
}

// LessonStarted is the one place that decides when the welcome screen is
// over.
func LessonStarted(index int) bool {
	return index > 0
}

// Assemble resolves the card shown at cursor index. Index 0 and the
// welcome index show a synthetic welcome card; index i > 0 shows
// cards[i-1].
func Assemble(p models.Presentation, index int) View {
	v := View{
		PresentationID: p.ID,
		Title:          p.Title,
		TeacherName:    p.TeacherName,
		Total:          len(p.Cards),
		LessonStarted:  LessonStarted(index),
		Active:         p.Active,
	}
	if index <= 0 || index > len(p.Cards) {
		v.Welcome = true
		v.Card = welcomeCard(p)
		return v
	}
	v.Card = p.Cards[index-1]
	v.Position = index
	return v
}

func welcomeCard(p models.Presentation) models.Card {
	return models.Card{
		ID:      WelcomeCardID,
		Type:    WelcomeCardID,
		Title:   p.Title,
		Content: fmt.Sprintf("%s · %d cards", p.TeacherName, len(p.Cards)),
	}
}

// Progress renders "2 of 5", or "" on the welcome card.
func (v View) Progress() string {
	if v.Welcome {
		return ""
	}
	return fmt.Sprintf("%d of %d", v.Position, v.Total)
}

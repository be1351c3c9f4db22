// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// WelcomeIndex is the cursor value before the lesson starts.
const WelcomeIndex = -1

// Card is produced by the lesson authoring side and never interpreted
// here. Content may hold pre-sanitized rich text. Extension is the
// supplementary activity a student unlocks once their extension request
// for this card is approved.
type Card struct {
	ID          string            `json:"id" validate:"required,max=128"`
	Type        string            `json:"type" validate:"max=64"`
	Title       string            `json:"title" validate:"required,max=512"`
	Content     string            `json:"content"`
	Duration    string            `json:"duration,omitempty"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`
	Extension   json.RawMessage   `json:"extension,omitempty"`
}

// Presentation is the ordered card list plus the shared cursor. Cards are
// fixed at creation; CurrentCardIndex and Active are the only fields that
// change afterwards.
type Presentation struct {
	Versioned
	ID               string            `json:"id"`
	SessionID        string            `json:"session_id"`
	SessionCode      string            `json:"session_code"`
	TeacherName      string            `json:"teacher_name"`
	Title            string            `json:"title"`
	Cards            []Card            `json:"cards"`
	CurrentCardIndex int               `json:"current_card_index"`
	Active           bool              `json:"active"`
	Extras           map[string]string `json:"extras,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (p Presentation) RecordKind() Kind { return KindPresentation }
func (p Presentation) RecordID() string { return p.ID }

func (p Presentation) PartitionKeys() []string {
	return []string{p.SessionCode, p.ID}
}

// LastIndex is the highest addressable cursor value.
func (p *Presentation) LastIndex() int {
	return len(p.Cards) - 1
}

// ClampIndex bounds i to [WelcomeIndex, LastIndex].
func (p *Presentation) ClampIndex(i int) int {
	if i < WelcomeIndex {
		return WelcomeIndex
	}
	if last := p.LastIndex(); i > last {
		return last
	}
	return i
}

// HasCard reports whether i addresses a card.
func (p *Presentation) HasCard(i int) bool {
	return i >= 0 && i < len(p.Cards)
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/presentation"
)

// View is an assembled card with its rendered progress label.
type View struct {
	presentation.View
	Index    int    `json:"index"`
	Progress string `json:"progress"`
}

type tokenResponse struct {
	Session     models.Session     `json:"session"`
	Participant models.Participant `json:"participant"`
	Token       string             `json:"token"`
}

func seg(s string) string { return url.PathEscape(s) }

// CreateSession opens a session and adopts the returned teacher token.
func (c *Client) CreateSession(ctx context.Context, teacherName string) (models.Session, error) {
	var out tokenResponse
	err := c.do(ctx, http.MethodPost, "/sessions", nil, map[string]string{"teacher_name": teacherName}, &out)
	if err != nil {
		return models.Session{}, err
	}
	c.SetToken(out.Token)
	return out.Session, nil
}

// ResolveSession looks up a code. includeInactive also returns ended
// sessions.
func (c *Client) ResolveSession(ctx context.Context, code string, includeInactive bool) (models.Session, error) {
	var q url.Values
	if includeInactive {
		q = url.Values{"include_inactive": {"true"}}
	}
	var s models.Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+seg(code), q, nil, &s)
	return s, err
}

// EndSession ends the session held by the teacher token.
func (c *Client) EndSession(ctx context.Context, code string) (models.Session, error) {
	var s models.Session
	err := c.do(ctx, http.MethodPost, "/sessions/"+seg(code)+"/end", nil, nil, &s)
	return s, err
}

// Join requests admission and adopts the returned student token.
func (c *Client) Join(ctx context.Context, code, studentName string) (models.Participant, error) {
	var out tokenResponse
	err := c.do(ctx, http.MethodPost, "/sessions/"+seg(code)+"/participants", nil,
		map[string]string{"student_name": studentName}, &out)
	if err != nil {
		return models.Participant{}, err
	}
	c.SetToken(out.Token)
	return out.Participant, nil
}

// Participant reads one join request.
func (c *Client) Participant(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := c.do(ctx, http.MethodGet, "/participants/"+seg(id), nil, nil, &p)
	return p, err
}

// Roster lists a session's join requests.
func (c *Client) Roster(ctx context.Context, code string) ([]models.Participant, error) {
	var out []models.Participant
	err := c.do(ctx, http.MethodGet, "/sessions/"+seg(code)+"/participants", nil, nil, &out)
	return out, err
}

// Approve admits a participant.
func (c *Client) Approve(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := c.do(ctx, http.MethodPost, "/participants/"+seg(id)+"/approve", nil, nil, &p)
	return p, err
}

// Reject turns a participant away.
func (c *Client) Reject(ctx context.Context, id string) (models.Participant, error) {
	var p models.Participant
	err := c.do(ctx, http.MethodPost, "/participants/"+seg(id)+"/reject", nil, nil, &p)
	return p, err
}

// CreatePresentation uploads a card deck for code.
func (c *Client) CreatePresentation(ctx context.Context, code, title string, cards []models.Card, extras map[string]string) (models.Presentation, error) {
	var p models.Presentation
	err := c.do(ctx, http.MethodPost, "/presentations", nil, map[string]interface{}{
		"session_code": code,
		"title":        title,
		"cards":        cards,
		"extras":       extras,
	}, &p)
	return p, err
}

// ActivePresentation returns what a session is showing.
func (c *Client) ActivePresentation(ctx context.Context, code string) (models.Presentation, error) {
	var p models.Presentation
	err := c.do(ctx, http.MethodGet, "/sessions/"+seg(code)+"/presentation", nil, nil, &p)
	return p, err
}

// Presentation reads one presentation.
func (c *Client) Presentation(ctx context.Context, id string) (models.Presentation, error) {
	var p models.Presentation
	err := c.do(ctx, http.MethodGet, "/presentations/"+seg(id), nil, nil, &p)
	return p, err
}

// View assembles the live card of a presentation.
func (c *Client) View(ctx context.Context, id string) (View, error) {
	var v View
	err := c.do(ctx, http.MethodGet, "/presentations/"+seg(id)+"/view", nil, nil, &v)
	return v, err
}

// Advance moves the cursor forward.
func (c *Client) Advance(ctx context.Context, id string) (models.Presentation, error) {
	return c.cursor(ctx, http.MethodPost, id, "/advance", nil)
}

// Retreat moves the cursor back.
func (c *Client) Retreat(ctx context.Context, id string) (models.Presentation, error) {
	return c.cursor(ctx, http.MethodPost, id, "/retreat", nil)
}

// SetCursor jumps to index. The server clamps it.
func (c *Client) SetCursor(ctx context.Context, id string, index int) (models.Presentation, error) {
	return c.cursor(ctx, http.MethodPut, id, "/cursor", map[string]int{"index": index})
}

func (c *Client) cursor(ctx context.Context, method, id, action string, body interface{}) (models.Presentation, error) {
	var p models.Presentation
	err := c.do(ctx, method, "/presentations/"+seg(id)+action, nil, body, &p)
	return p, err
}

// SendMessage broadcasts a teacher message.
func (c *Client) SendMessage(ctx context.Context, presentationID, content string) (models.TeacherMessage, error) {
	var m models.TeacherMessage
	err := c.do(ctx, http.MethodPost, "/presentations/"+seg(presentationID)+"/messages", nil,
		map[string]string{"content": content}, &m)
	return m, err
}

// SubmitFeedback sends a reaction to a card. Calls closer together than
// the cooldown fail with ErrCooldown without reaching the server.
func (c *Client) SubmitFeedback(ctx context.Context, presentationID string, cardIndex int, typ models.FeedbackType) (models.FeedbackEntry, error) {
	if !c.cooldown.Allow() {
		return models.FeedbackEntry{}, ErrCooldown
	}
	var f models.FeedbackEntry
	err := c.do(ctx, http.MethodPost, "/presentations/"+seg(presentationID)+"/feedback", nil,
		map[string]interface{}{"card_index": cardIndex, "type": typ}, &f)
	return f, err
}

// Ask sends a question about a card.
func (c *Client) Ask(ctx context.Context, presentationID, text string, cardIndex int) (models.Question, error) {
	var q models.Question
	err := c.do(ctx, http.MethodPost, "/presentations/"+seg(presentationID)+"/questions", nil,
		map[string]interface{}{"text": text, "card_index": cardIndex}, &q)
	return q, err
}

// RequestExtension asks for a card's extension activity.
func (c *Client) RequestExtension(ctx context.Context, presentationID string, cardIndex int) (models.ExtensionRequest, error) {
	var e models.ExtensionRequest
	err := c.do(ctx, http.MethodPost, "/presentations/"+seg(presentationID)+"/extensions", nil,
		map[string]int{"card_index": cardIndex}, &e)
	return e, err
}

// AnswerQuestion marks a question answered.
func (c *Client) AnswerQuestion(ctx context.Context, id string) (models.Question, error) {
	var q models.Question
	err := c.do(ctx, http.MethodPost, "/questions/"+seg(id)+"/answer", nil, nil, &q)
	return q, err
}

// ApproveExtension unlocks an extension request.
func (c *Client) ApproveExtension(ctx context.Context, id string) (models.ExtensionRequest, error) {
	return c.decideExtension(ctx, id, "approve")
}

// RejectExtension declines an extension request.
func (c *Client) RejectExtension(ctx context.Context, id string) (models.ExtensionRequest, error) {
	return c.decideExtension(ctx, id, "reject")
}

func (c *Client) decideExtension(ctx context.Context, id, action string) (models.ExtensionRequest, error) {
	var e models.ExtensionRequest
	err := c.do(ctx, http.MethodPost, "/extensions/"+seg(id)+"/"+action, nil, nil, &e)
	return e, err
}

// Ready reports whether the server is ready to serve.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/ready", nil, nil, nil)
}


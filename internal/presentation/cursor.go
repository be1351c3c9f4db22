// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package presentation owns the shared card cursor.
//
// The teacher moves the cursor; every move is an atomic update of the
// stored index, clamped to [-1, len(cards)-1]. Students attach a Viewer,
// which resolves the cards once and afterwards only takes the cursor and
// active flag from updates.
package presentation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/sessions"
	"github.com/twistedtree83/classfeedback/internal/store"
	"github.com/twistedtree83/classfeedback/internal/validation"
)

// CreateInput is what the authoring side hands over.
type CreateInput struct {
	SessionCode string            `json:"session_code" validate:"sessioncode"`
	TeacherName string            `json:"teacher_name" validate:"max=128"`
	Title       string            `json:"title" validate:"max=512"`
	Cards       []models.Card     `json:"cards" validate:"min=1,dive"`
	Extras      map[string]string `json:"extras,omitempty"`
}

// Service creates presentations and moves their cursors.
type Service struct {
	ch       *events.Channel
	sessions *sessions.Registry
	now      func() time.Time
}

// NewService returns a Service.
func NewService(ch *events.Channel, reg *sessions.Registry) *Service {
	return &Service{
		ch:       ch,
		sessions: reg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new active presentation at the welcome position.
func (s *Service) Create(ctx context.Context, in CreateInput) (models.Presentation, error) {
	if err := validation.Validate(&in); err != nil {
		return models.Presentation{}, err
	}
	seen := make(map[string]int, len(in.Cards))
	for i, c := range in.Cards {
		if j, dup := seen[c.ID]; dup {
			return models.Presentation{}, models.NewValidationError(
				fmt.Sprintf("cards[%d].id", i),
				fmt.Sprintf("id %q already used by cards[%d]", c.ID, j))
		}
		seen[c.ID] = i
	}

	sess, err := s.sessions.Resolve(ctx, in.SessionCode)
	if err != nil {
		return models.Presentation{}, err
	}

	teacher := strings.TrimSpace(in.TeacherName)
	if teacher == "" {
		teacher = sess.TeacherName
	}
	now := s.now()
	p := models.Presentation{
		ID:               uuid.NewString(),
		SessionID:        sess.ID,
		SessionCode:      sess.Code,
		TeacherName:      teacher,
		Title:            strings.TrimSpace(in.Title),
		Cards:            in.Cards,
		CurrentCardIndex: models.WelcomeIndex,
		Active:           true,
		Extras:           in.Extras,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	env, err := s.ch.Publish(ctx, p)
	if err != nil {
		return models.Presentation{}, fmt.Errorf("create presentation: %w", err)
	}
	p.Version = env.Version
	logging.Ctx(ctx).Info().
		Str("presentation_id", p.ID).
		Str("session_code", p.SessionCode).
		Int("cards", len(p.Cards)).
		Msg("presentation created")
	return p, nil
}

// Get returns one presentation, active or not.
func (s *Service) Get(ctx context.Context, id string) (models.Presentation, error) {
	return events.Load[models.Presentation](ctx, s.ch, id)
}

// ActiveForSession returns the newest active presentation of the session
// holding code.
func (s *Service) ActiveForSession(ctx context.Context, code string) (models.Presentation, error) {
	code = models.NormalizeCode(code)
	all, err := events.List[models.Presentation](ctx, s.ch, code)
	if err != nil {
		return models.Presentation{}, err
	}
	var best *models.Presentation
	for i := range all {
		p := &all[i]
		if !p.Active {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return models.Presentation{}, fmt.Errorf("presentation for %s: %w", code, models.ErrNotFound)
	}
	return *best, nil
}

// Advance moves to the next card. At the last card it is a no-op.
func (s *Service) Advance(ctx context.Context, id string) (models.Presentation, error) {
	return s.move(ctx, id, "advance", func(cur int) int { return cur + 1 })
}

// Retreat moves to the previous card. At the welcome position it is a
// no-op.
func (s *Service) Retreat(ctx context.Context, id string) (models.Presentation, error) {
	return s.move(ctx, id, "retreat", func(cur int) int { return cur - 1 })
}

// SetCursor jumps to index, clamped to the valid range.
func (s *Service) SetCursor(ctx context.Context, id string, index int) (models.Presentation, error) {
	return s.move(ctx, id, "set", func(int) int { return index })
}

// move computes the target from the stored index inside the update, so
// two racing moves never both start from the same stale value.
func (s *Service) move(ctx context.Context, id, direction string, next func(int) int) (models.Presentation, error) {
	p, changed, err := events.Mutate(ctx, s.ch, id, func(p *models.Presentation) error {
		if !p.Active {
			return fmt.Errorf("%w: presentation has ended", models.ErrInvalidTransition)
		}
		target := p.ClampIndex(next(p.CurrentCardIndex))
		if target == p.CurrentCardIndex {
			return store.ErrUnchanged
		}
		p.CurrentCardIndex = target
		p.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return models.Presentation{}, fmt.Errorf("%s presentation %s: %w", direction, id, err)
	}
	if !changed {
		direction = "noop"
	}
	metrics.CursorMoves.WithLabelValues(direction).Inc()
	return p, nil
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package admission gates students into a session.
//
// A join request creates a pending Participant. The teacher approves or
// rejects it exactly once:
//
//	pending ──approve──▶ approved
//	   └─────reject───▶ rejected
//
// Repeating the decision that was already made is a no-op. Asking for the
// opposite decision fails with models.ErrInvalidTransition. A rejected
// student joins again as a new Participant.
package admission

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

// Service handles join requests and decisions.
type Service struct {
	ch       *events.Channel
	sessions *sessions.Registry
	maxName  int
	now      func() time.Time
}

// NewService returns a Service. maxNameLength <= 0 means 64.
func NewService(ch *events.Channel, reg *sessions.Registry, maxNameLength int) *Service {
	if maxNameLength <= 0 {
		maxNameLength = 64
	}
	return &Service{
		ch:       ch,
		sessions: reg,
		maxName:  maxNameLength,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type joinInput struct {
	StudentName string `json:"student_name" validate:"notblank"`
}

// RequestJoin records a pending join for studentName in the active
// session holding code.
func (s *Service) RequestJoin(ctx context.Context, code, studentName string) (models.Participant, error) {
	name := strings.TrimSpace(studentName)
	if err := validation.Validate(&joinInput{StudentName: name}); err != nil {
		return models.Participant{}, err
	}
	if len(name) > s.maxName {
		return models.Participant{}, models.NewValidationError("student_name",
			fmt.Sprintf("student_name must be at most %d characters", s.maxName))
	}

	sess, err := s.sessions.Resolve(ctx, code)
	if err != nil {
		return models.Participant{}, err
	}

	p := models.Participant{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		SessionCode: sess.Code,
		StudentName: name,
		Status:      models.StatusPending,
		JoinedAt:    s.now(),
	}
	env, err := s.ch.Publish(ctx, p)
	if err != nil {
		return models.Participant{}, fmt.Errorf("request join: %w", err)
	}
	p.Version = env.Version
	metrics.AdmissionDecisions.WithLabelValues("requested").Inc()
	logging.Ctx(ctx).Info().
		Str("session_code", sess.Code).
		Str("participant_id", p.ID).
		Msg("join requested")
	return p, nil
}

// Approve admits a pending participant.
func (s *Service) Approve(ctx context.Context, id string) (models.Participant, error) {
	return s.decide(ctx, id, models.StatusApproved)
}

// Reject turns a pending participant away.
func (s *Service) Reject(ctx context.Context, id string) (models.Participant, error) {
	return s.decide(ctx, id, models.StatusRejected)
}

func (s *Service) decide(ctx context.Context, id string, to models.Status) (models.Participant, error) {
	p, changed, err := events.Mutate(ctx, s.ch, id, func(p *models.Participant) error {
		changed, err := p.Status.Decide(to)
		if err != nil {
			return err
		}
		if !changed {
			return store.ErrUnchanged
		}
		decided := s.now()
		p.DecidedAt = &decided
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			metrics.AdmissionDecisions.WithLabelValues("invalid").Inc()
		}
		return models.Participant{}, fmt.Errorf("participant %s: %w", id, err)
	}
	if changed {
		metrics.AdmissionDecisions.WithLabelValues(string(to)).Inc()
		logging.Ctx(ctx).Info().
			Str("participant_id", id).
			Str("session_code", p.SessionCode).
			Str("status", string(to)).
			Msg("join decided")
	}
	return p, nil
}

// Get returns one participant; students poll it for their status.
func (s *Service) Get(ctx context.Context, id string) (models.Participant, error) {
	return events.Load[models.Participant](ctx, s.ch, id)
}

// List returns every participant of the session currently holding code,
// oldest join first. Joins into earlier sessions under a reused code are
// left out.
func (s *Service) List(ctx context.Context, code string) ([]models.Participant, error) {
	sess, err := s.sessions.ResolveAny(ctx, code)
	if err != nil {
		return nil, err
	}
	all, err := events.List[models.Participant](ctx, s.ch, sess.Code)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.SessionID == sess.ID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package sessions creates, resolves and ends live sessions by their
// six-character join code.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
)

// ErrCodeSpaceExhausted is returned when no free code was found within the
// configured number of attempts.
var ErrCodeSpaceExhausted = errors.New("no free session code")

// Registry owns session records.
type Registry struct {
	ch       *events.Channel
	attempts int
	maxName  int

	// createMu makes code sampling and the insert one step, so two
	// concurrent creates cannot pick the same free code.
	createMu sync.Mutex

	// newCode is replaced in tests.
	newCode func() string
	now     func() time.Time
}

// NewRegistry returns a Registry publishing through ch.
func NewRegistry(ch *events.Channel, cfg config.SessionConfig) *Registry {
	attempts := cfg.CodeAttempts
	if attempts <= 0 {
		attempts = 32
	}
	maxName := cfg.MaxNameLength
	if maxName <= 0 {
		maxName = 64
	}
	return &Registry{
		ch:       ch,
		attempts: attempts,
		maxName:  maxName,
		newCode:  randomCode,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func randomCode() string {
	var b strings.Builder
	b.Grow(models.CodeLength)
	for i := 0; i < models.CodeLength; i++ {
		b.WriteByte(models.CodeAlphabet[rand.IntN(len(models.CodeAlphabet))])
	}
	return b.String()
}

// Create opens a session under a code no active session holds.
func (r *Registry) Create(ctx context.Context, teacherName string) (models.Session, error) {
	name := strings.TrimSpace(teacherName)
	if name == "" {
		return models.Session{}, models.NewValidationError("teacher_name", "teacher_name is required")
	}
	if len(name) > r.maxName {
		return models.Session{}, models.NewValidationError("teacher_name",
			fmt.Sprintf("teacher_name must be at most %d characters", r.maxName))
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	for i := 0; i < r.attempts; i++ {
		code := r.newCode()
		_, err := r.Resolve(ctx, code)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.Session{}, err
		}

		s := models.Session{
			ID:          uuid.NewString(),
			Code:        code,
			TeacherName: name,
			Active:      true,
			CreatedAt:   r.now(),
		}
		env, err := r.ch.Publish(ctx, s)
		if err != nil {
			return models.Session{}, fmt.Errorf("create session: %w", err)
		}
		s.Version = env.Version
		metrics.SessionsCreated.Inc()
		logging.Ctx(ctx).Info().
			Str("session_code", code).
			Str("session_id", s.ID).
			Int("attempts", i+1).
			Msg("session created")
		return s, nil
	}
	return models.Session{}, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, r.attempts)
}

// Resolve returns the active session holding code.
func (r *Registry) Resolve(ctx context.Context, code string) (models.Session, error) {
	s, err := r.latest(ctx, code)
	if err != nil {
		return models.Session{}, err
	}
	if !s.Active {
		return models.Session{}, fmt.Errorf("session %s: %w", s.Code, models.ErrNotFound)
	}
	return s, nil
}

// ResolveAny is Resolve including ended sessions, for lesson summaries.
func (r *Registry) ResolveAny(ctx context.Context, code string) (models.Session, error) {
	return r.latest(ctx, code)
}

// latest picks the most recently created session that used code.
func (r *Registry) latest(ctx context.Context, code string) (models.Session, error) {
	code = models.NormalizeCode(code)
	if !models.ValidCode(code) {
		return models.Session{}, fmt.Errorf("session %q: %w", code, models.ErrNotFound)
	}
	all, err := events.List[models.Session](ctx, r.ch, code)
	if err != nil {
		return models.Session{}, fmt.Errorf("resolve session: %w", err)
	}
	if len(all) == 0 {
		return models.Session{}, fmt.Errorf("session %s: %w", code, models.ErrNotFound)
	}

	// An active holder wins over any ended session under the same code.
	best := all[0]
	for _, s := range all[1:] {
		switch {
		case s.Active && !best.Active:
			best = s
		case s.Active == best.Active && s.CreatedAt.After(best.CreatedAt):
			best = s
		}
	}
	return best, nil
}

// End deactivates the active session holding code and every presentation
// in it. Ending an already ended session returns it unchanged.
func (r *Registry) End(ctx context.Context, code string) (models.Session, error) {
	current, err := r.latest(ctx, code)
	if err != nil {
		return models.Session{}, err
	}

	s, changed, err := events.Mutate(ctx, r.ch, current.ID, func(s *models.Session) error {
		if !s.Active {
			return store.ErrUnchanged
		}
		ended := r.now()
		s.Active = false
		s.EndedAt = &ended
		return nil
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("end session: %w", err)
	}
	if !changed {
		return s, nil
	}
	metrics.SessionsEnded.Inc()

	if err := r.deactivatePresentations(ctx, s.Code, s.ID); err != nil {
		return s, err
	}
	logging.Ctx(ctx).Info().Str("session_code", s.Code).Msg("session ended")
	return s, nil
}

func (r *Registry) deactivatePresentations(ctx context.Context, code, sessionID string) error {
	pres, err := events.List[models.Presentation](ctx, r.ch, code)
	if err != nil {
		return fmt.Errorf("list presentations of %s: %w", code, err)
	}
	for _, p := range pres {
		if p.SessionID != sessionID {
			continue
		}
		_, _, err := events.Mutate(ctx, r.ch, p.ID, func(p *models.Presentation) error {
			if !p.Active {
				return store.ErrUnchanged
			}
			p.Active = false
			p.UpdatedAt = r.now()
			return nil
		})
		if err != nil {
			return fmt.Errorf("deactivate presentation %s: %w", p.ID, err)
		}
	}
	return nil
}

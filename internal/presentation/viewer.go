// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package presentation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// DefaultCursorPoll is the student-side fallback poll period.
const DefaultCursorPoll = 3 * time.Second

// Viewer follows one presentation's cursor.
type Viewer struct {
	follower *events.Follower
	onChange func(View)

	mu   sync.RWMutex
	pres models.Presentation
}

// Attach loads the presentation and follows its cursor. onChange, if set,
// runs with the new view whenever the cursor or active flag changes.
func Attach(ctx context.Context, src events.Source, presentationID string, poll time.Duration, onChange func(View)) (*Viewer, error) {
	if poll <= 0 {
		poll = DefaultCursorPoll
	}
	envs, err := src.Poll(ctx, models.KindPresentation, presentationID, 0)
	if err != nil {
		return nil, fmt.Errorf("load presentation %s: %w", presentationID, err)
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("presentation %s: %w", presentationID, models.ErrNotFound)
	}
	pres, err := models.Decode[models.Presentation](envs[len(envs)-1])
	if err != nil {
		return nil, err
	}

	v := &Viewer{pres: pres, onChange: onChange}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindPresentation,
		Partition:    presentationID,
		PollInterval: poll,
	}, v.apply)
	if err != nil {
		return nil, err
	}
	v.follower = f
	return v, nil
}

// apply takes only the volatile fields; cards never change after create.
func (v *Viewer) apply(env models.Envelope) {
	upd, err := models.Decode[models.Presentation](env)
	if err != nil {
		logging.Warn().Err(err).Str("presentation_id", env.ID).Msg("undecodable presentation update")
		return
	}

	v.mu.Lock()
	if upd.Version <= v.pres.Version {
		v.mu.Unlock()
		return
	}
	moved := upd.CurrentCardIndex != v.pres.CurrentCardIndex || upd.Active != v.pres.Active
	v.pres.CurrentCardIndex = upd.CurrentCardIndex
	v.pres.Active = upd.Active
	v.pres.UpdatedAt = upd.UpdatedAt
	v.pres.Version = upd.Version
	view := Assemble(v.pres, v.pres.CurrentCardIndex)
	v.mu.Unlock()

	if moved && v.onChange != nil {
		v.onChange(view)
	}
}

// View is the view at the current cursor.
func (v *Viewer) View() View {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Assemble(v.pres, v.pres.CurrentCardIndex)
}

// Presentation returns the merged presentation.
func (v *Viewer) Presentation() models.Presentation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pres
}

func (v *Viewer) Close() error {
	return v.follower.Close()
}

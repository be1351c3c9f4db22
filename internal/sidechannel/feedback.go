// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package sidechannel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/validation"
)

type feedbackInput struct {
	StudentName string              `json:"student_name" validate:"notblank"`
	Type        models.FeedbackType `json:"type" validate:"feedbacktype"`
}

// Submit records studentName's reaction to a card. A later submission for
// the same card replaces the earlier one.
func (s *Service) Submit(ctx context.Context, presentationID, studentName string, cardIndex int, typ models.FeedbackType) (models.FeedbackEntry, error) {
	in := feedbackInput{StudentName: strings.TrimSpace(studentName), Type: typ}
	if err := validation.Validate(&in); err != nil {
		return models.FeedbackEntry{}, err
	}
	if err := s.checkName("student_name", in.StudentName); err != nil {
		return models.FeedbackEntry{}, err
	}
	p, err := s.livePresentation(ctx, presentationID)
	if err != nil {
		return models.FeedbackEntry{}, err
	}
	if err := checkCard(p, cardIndex); err != nil {
		return models.FeedbackEntry{}, err
	}

	fb := models.FeedbackEntry{
		ID:             models.FeedbackID(presentationID, in.StudentName, cardIndex),
		PresentationID: presentationID,
		StudentName:    in.StudentName,
		CardIndex:      cardIndex,
		Type:           typ,
		CreatedAt:      s.now(),
	}
	env, err := s.ch.Publish(ctx, fb)
	if err != nil {
		return models.FeedbackEntry{}, fmt.Errorf("submit feedback: %w", err)
	}
	fb.Version = env.Version
	submitted(ChannelFeedback)
	return fb, nil
}

// Scope selects which entries FeedbackBoard.Counts includes.
type Scope struct {
	card  int
	whole bool
}

// WholeSession counts every card.
var WholeSession = Scope{whole: true}

// CurrentCard counts only the card at index.
func CurrentCard(index int) Scope {
	return Scope{card: index}
}

func (sc Scope) includes(f models.FeedbackEntry) bool {
	return sc.whole || f.CardIndex == sc.card
}

// FeedbackBoard is the teacher's aggregate of card feedback.
type FeedbackBoard struct {
	merged   *events.Merger[models.FeedbackEntry, *models.FeedbackEntry]
	follower *events.Follower
}

// FollowFeedback follows the feedback of one presentation.
func FollowFeedback(ctx context.Context, src events.Source, presentationID string, poll time.Duration, onChange func()) (*FeedbackBoard, error) {
	if poll <= 0 {
		poll = DefaultSidePoll
	}
	b := &FeedbackBoard{merged: events.NewMerger[models.FeedbackEntry]()}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindFeedback,
		Partition:    presentationID,
		PollInterval: poll,
	}, func(env models.Envelope) {
		changed, err := b.merged.Apply(env)
		if err != nil {
			logging.Warn().Err(err).Str("feedback_id", env.ID).Msg("undecodable feedback")
			return
		}
		if changed && onChange != nil {
			onChange()
		}
	})
	if err != nil {
		return nil, err
	}
	b.follower = f
	return b, nil
}

// Counts tallies entries in scope by type. Every known type is present.
func (b *FeedbackBoard) Counts(scope Scope) map[models.FeedbackType]int {
	out := make(map[models.FeedbackType]int, len(models.FeedbackTypes))
	for _, t := range models.FeedbackTypes {
		out[t] = 0
	}
	for _, f := range b.merged.Values() {
		if scope.includes(f) {
			out[f.Type]++
		}
	}
	return out
}

// Latest maps each student to their most recent entry on any card.
func (b *FeedbackBoard) Latest() map[string]models.FeedbackEntry {
	out := make(map[string]models.FeedbackEntry)
	for _, f := range b.merged.Values() {
		// Values is in version order, so later entries win.
		out[f.StudentName] = f
	}
	return out
}

// Entries returns every current entry in version order.
func (b *FeedbackBoard) Entries() []models.FeedbackEntry {
	return b.merged.Values()
}

func (b *FeedbackBoard) Refresh(ctx context.Context) error { return b.follower.Refresh(ctx) }

func (b *FeedbackBoard) Close() error { return b.follower.Close() }

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package sidechannel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
	"github.com/twistedtree83/classfeedback/internal/validation"
)

type questionInput struct {
	StudentName string `json:"student_name" validate:"notblank"`
	Text        string `json:"text" validate:"notblank,max=1000"`
}

// Ask records a student question about a card.
func (s *Service) Ask(ctx context.Context, presentationID, studentName, text string, cardIndex int) (models.Question, error) {
	in := questionInput{StudentName: strings.TrimSpace(studentName), Text: strings.TrimSpace(text)}
	if err := validation.Validate(&in); err != nil {
		return models.Question{}, err
	}
	if err := s.checkName("student_name", in.StudentName); err != nil {
		return models.Question{}, err
	}
	p, err := s.livePresentation(ctx, presentationID)
	if err != nil {
		return models.Question{}, err
	}
	if err := checkCard(p, cardIndex); err != nil {
		return models.Question{}, err
	}

	q := models.Question{
		ID:             uuid.NewString(),
		PresentationID: presentationID,
		StudentName:    in.StudentName,
		Text:           in.Text,
		CardIndex:      cardIndex,
		CreatedAt:      s.now(),
	}
	env, err := s.ch.Publish(ctx, q)
	if err != nil {
		return models.Question{}, fmt.Errorf("ask question: %w", err)
	}
	q.Version = env.Version
	submitted(ChannelQuestion)
	return q, nil
}

// MarkAnswered flags a question as answered. Answering twice is a no-op.
func (s *Service) MarkAnswered(ctx context.Context, id string) (models.Question, error) {
	q, _, err := events.Mutate(ctx, s.ch, id, func(q *models.Question) error {
		if q.Answered {
			return store.ErrUnchanged
		}
		now := s.now()
		q.Answered = true
		q.AnsweredAt = &now
		return nil
	})
	if err != nil {
		return models.Question{}, fmt.Errorf("answer question %s: %w", id, err)
	}
	return q, nil
}

// QuestionBoard is the teacher's list of questions for one presentation.
type QuestionBoard struct {
	merged   *events.Merger[models.Question, *models.Question]
	follower *events.Follower
}

// FollowQuestions follows the questions of one presentation.
func FollowQuestions(ctx context.Context, src events.Source, presentationID string, poll time.Duration, onChange func()) (*QuestionBoard, error) {
	if poll <= 0 {
		poll = DefaultSidePoll
	}
	b := &QuestionBoard{merged: events.NewMerger[models.Question]()}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindQuestion,
		Partition:    presentationID,
		PollInterval: poll,
	}, func(env models.Envelope) {
		changed, err := b.merged.Apply(env)
		if err != nil {
			logging.Warn().Err(err).Str("question_id", env.ID).Msg("undecodable question")
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

// All returns every question, oldest first.
func (b *QuestionBoard) All() []models.Question {
	out := b.merged.Values()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Unanswered returns the open questions, oldest first.
func (b *QuestionBoard) Unanswered() []models.Question {
	all := b.All()
	out := all[:0]
	for _, q := range all {
		if !q.Answered {
			out = append(out, q)
		}
	}
	return out
}

func (b *QuestionBoard) Get(id string) (models.Question, bool) { return b.merged.Get(id) }

func (b *QuestionBoard) Refresh(ctx context.Context) error { return b.follower.Refresh(ctx) }

func (b *QuestionBoard) Close() error { return b.follower.Close() }

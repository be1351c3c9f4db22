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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/validation"
)

// DefaultSidePoll is the fallback poll period for messages, feedback and
// questions.
const DefaultSidePoll = 5 * time.Second

type messageInput struct {
	TeacherName string `json:"teacher_name" validate:"notblank,max=128"`
	Content     string `json:"content" validate:"notblank,max=2000"`
}

// Send broadcasts a teacher message to everyone following the
// presentation.
func (s *Service) Send(ctx context.Context, presentationID, teacherName, content string) (models.TeacherMessage, error) {
	in := messageInput{TeacherName: strings.TrimSpace(teacherName), Content: strings.TrimSpace(content)}
	if err := validation.Validate(&in); err != nil {
		return models.TeacherMessage{}, err
	}
	if _, err := s.livePresentation(ctx, presentationID); err != nil {
		return models.TeacherMessage{}, err
	}

	m := models.TeacherMessage{
		ID:             uuid.NewString(),
		PresentationID: presentationID,
		TeacherName:    in.TeacherName,
		Content:        in.Content,
		CreatedAt:      s.now(),
	}
	env, err := s.ch.Publish(ctx, m)
	if err != nil {
		return models.TeacherMessage{}, fmt.Errorf("send message: %w", err)
	}
	m.Version = env.Version
	submitted(ChannelMessage)
	return m, nil
}

// MessageLog is a student's view of the teacher's messages.
type MessageLog struct {
	merged   *events.Merger[models.TeacherMessage, *models.TeacherMessage]
	follower *events.Follower

	mu   sync.Mutex
	read map[string]struct{}
}

// FollowMessages follows the messages of one presentation. Messages that
// already exist count as unread until MarkViewed.
func FollowMessages(ctx context.Context, src events.Source, presentationID string, poll time.Duration, onChange func()) (*MessageLog, error) {
	if poll <= 0 {
		poll = DefaultSidePoll
	}
	l := &MessageLog{
		merged: events.NewMerger[models.TeacherMessage](),
		read:   make(map[string]struct{}),
	}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindMessage,
		Partition:    presentationID,
		PollInterval: poll,
	}, func(env models.Envelope) {
		changed, err := l.merged.Apply(env)
		if err != nil {
			logging.Warn().Err(err).Str("message_id", env.ID).Msg("undecodable message")
			return
		}
		if changed && onChange != nil {
			onChange()
		}
	})
	if err != nil {
		return nil, err
	}
	l.follower = f
	return l, nil
}

// Messages returns every message, oldest first.
func (l *MessageLog) Messages() []models.TeacherMessage {
	out := l.merged.Values()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Unread counts messages that arrived since the last MarkViewed.
func (l *MessageLog) Unread() int {
	msgs := l.merged.Values()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range msgs {
		if _, ok := l.read[m.ID]; !ok {
			n++
		}
	}
	return n
}

// MarkViewed marks every held message as read.
func (l *MessageLog) MarkViewed() {
	msgs := l.merged.Values()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		l.read[m.ID] = struct{}{}
	}
}

func (l *MessageLog) Refresh(ctx context.Context) error { return l.follower.Refresh(ctx) }

func (l *MessageLog) Close() error { return l.follower.Close() }

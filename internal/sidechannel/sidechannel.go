// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package sidechannel carries the small per-presentation streams that run
// next to the cursor: teacher messages, card feedback, student questions
// and extension requests.
//
// Each follows the same path. A submission is validated against the live
// presentation, persisted through the event channel, and aggregated on the
// receiving side by a follower-backed view (MessageLog, FeedbackBoard,
// QuestionBoard, ExtensionQueue, ExtensionWatcher).
package sidechannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// Channel names used for the submissions metric.
const (
	ChannelMessage   = "message"
	ChannelFeedback  = "feedback"
	ChannelQuestion  = "question"
	ChannelExtension = "extension"
)

// DefaultMaxNameLength bounds student and teacher names.
const DefaultMaxNameLength = 64

// Service accepts side-channel submissions and teacher decisions.
type Service struct {
	ch      *events.Channel
	maxName int
	now     func() time.Time

	// requestMu serializes extension request creation so the
	// existence check and the insert act as one step.
	requestMu sync.Mutex
}

// NewService returns a Service. maxNameLength <= 0 means
// DefaultMaxNameLength.
func NewService(ch *events.Channel, maxNameLength int) *Service {
	if maxNameLength <= 0 {
		maxNameLength = DefaultMaxNameLength
	}
	return &Service{
		ch:      ch,
		maxName: maxNameLength,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// livePresentation loads id and hides inactive presentations behind
// ErrNotFound.
func (s *Service) livePresentation(ctx context.Context, id string) (models.Presentation, error) {
	p, err := events.Load[models.Presentation](ctx, s.ch, id)
	if err != nil {
		return models.Presentation{}, fmt.Errorf("presentation %s: %w", id, err)
	}
	if !p.Active {
		return models.Presentation{}, fmt.Errorf("presentation %s has ended: %w", id, models.ErrNotFound)
	}
	return p, nil
}

func checkCard(p models.Presentation, index int) error {
	if p.HasCard(index) {
		return nil
	}
	return models.NewValidationError("card_index",
		fmt.Sprintf("card_index must be between 0 and %d", p.LastIndex()))
}

func (s *Service) checkName(field, name string) error {
	if len(name) > s.maxName {
		return models.NewValidationError(field,
			fmt.Sprintf("%s must be at most %d characters", field, s.maxName))
	}
	return nil
}

func submitted(channel string) {
	metrics.SideChannelSubmissions.WithLabelValues(channel).Inc()
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package sidechannel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
	"github.com/twistedtree83/classfeedback/internal/validation"
)

// DefaultExtensionPoll is the student-side fallback poll period while a
// request is pending.
const DefaultExtensionPoll = 2 * time.Second

type extensionInput struct {
	StudentName string `json:"student_name" validate:"notblank"`
}

// Request asks for the extension activity of a card. A student holds at
// most one request per card; asking again returns the existing request in
// whatever state it is.
func (s *Service) Request(ctx context.Context, presentationID, studentName string, cardIndex int) (models.ExtensionRequest, error) {
	in := extensionInput{StudentName: strings.TrimSpace(studentName)}
	if err := validation.Validate(&in); err != nil {
		return models.ExtensionRequest{}, err
	}
	if err := s.checkName("student_name", in.StudentName); err != nil {
		return models.ExtensionRequest{}, err
	}
	p, err := s.livePresentation(ctx, presentationID)
	if err != nil {
		return models.ExtensionRequest{}, err
	}
	if err := checkCard(p, cardIndex); err != nil {
		return models.ExtensionRequest{}, err
	}

	id := models.ExtensionID(presentationID, in.StudentName, cardIndex)

	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	existing, err := events.Load[models.ExtensionRequest](ctx, s.ch, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.ExtensionRequest{}, fmt.Errorf("load extension request: %w", err)
	}

	req := models.ExtensionRequest{
		ID:             id,
		PresentationID: presentationID,
		StudentName:    in.StudentName,
		CardIndex:      cardIndex,
		Status:         models.StatusPending,
		CreatedAt:      s.now(),
	}
	env, err := s.ch.Publish(ctx, req)
	if err != nil {
		return models.ExtensionRequest{}, fmt.Errorf("request extension: %w", err)
	}
	req.Version = env.Version
	submitted(ChannelExtension)
	logging.Ctx(ctx).Debug().
		Str("presentation_id", presentationID).
		Int("card_index", cardIndex).
		Msg("extension requested")
	return req, nil
}

// ApproveExtension unlocks the request's activity for its student.
func (s *Service) ApproveExtension(ctx context.Context, id string) (models.ExtensionRequest, error) {
	return s.decideExtension(ctx, id, models.StatusApproved)
}

// RejectExtension declines the request.
func (s *Service) RejectExtension(ctx context.Context, id string) (models.ExtensionRequest, error) {
	return s.decideExtension(ctx, id, models.StatusRejected)
}

func (s *Service) decideExtension(ctx context.Context, id string, to models.Status) (models.ExtensionRequest, error) {
	req, _, err := events.Mutate(ctx, s.ch, id, func(r *models.ExtensionRequest) error {
		changed, err := r.Status.Decide(to)
		if err != nil {
			return err
		}
		if !changed {
			return store.ErrUnchanged
		}
		now := s.now()
		r.DecidedAt = &now
		return nil
	})
	if err != nil {
		return models.ExtensionRequest{}, fmt.Errorf("extension %s: %w", id, err)
	}
	return req, nil
}

// ExtensionQueue is the teacher's view of extension requests for one
// presentation.
type ExtensionQueue struct {
	merged   *events.Merger[models.ExtensionRequest, *models.ExtensionRequest]
	follower *events.Follower
}

// FollowExtensions follows every extension request of a presentation.
func FollowExtensions(ctx context.Context, src events.Source, presentationID string, poll time.Duration, onChange func()) (*ExtensionQueue, error) {
	if poll <= 0 {
		poll = DefaultSidePoll
	}
	q := &ExtensionQueue{merged: events.NewMerger[models.ExtensionRequest]()}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindExtension,
		Partition:    presentationID,
		PollInterval: poll,
	}, func(env models.Envelope) {
		changed, err := q.merged.Apply(env)
		if err != nil {
			logging.Warn().Err(err).Str("extension_id", env.ID).Msg("undecodable extension request")
			return
		}
		if changed && onChange != nil {
			onChange()
		}
	})
	if err != nil {
		return nil, err
	}
	q.follower = f
	return q, nil
}

// Pending returns undecided requests, oldest first.
func (q *ExtensionQueue) Pending() []models.ExtensionRequest {
	var out []models.ExtensionRequest
	for _, r := range q.merged.Values() {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *ExtensionQueue) Get(id string) (models.ExtensionRequest, bool) { return q.merged.Get(id) }

func (q *ExtensionQueue) Refresh(ctx context.Context) error { return q.follower.Refresh(ctx) }

func (q *ExtensionQueue) Close() error { return q.follower.Close() }

// ExtensionWatcher follows one student's own extension requests and fires
// OnUnlock once per approved request.
//
// Push delivery runs for the watcher's whole life. The catch-up poll only
// runs while at least one known request is pending.
type ExtensionWatcher struct {
	merged   *events.Merger[models.ExtensionRequest, *models.ExtensionRequest]
	follower *events.Follower
	onUnlock func(models.ExtensionRequest)

	mu       sync.Mutex
	unlocked map[string]struct{}
}

// WatchExtensions starts an ExtensionWatcher for studentName.
func WatchExtensions(ctx context.Context, src events.Source, presentationID, studentName string, poll time.Duration, onUnlock func(models.ExtensionRequest)) (*ExtensionWatcher, error) {
	if poll <= 0 {
		poll = DefaultExtensionPoll
	}
	w := &ExtensionWatcher{
		merged:   events.NewMerger[models.ExtensionRequest](),
		onUnlock: onUnlock,
		unlocked: make(map[string]struct{}),
	}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindExtension,
		Partition:    models.StudentPartition(presentationID, strings.TrimSpace(studentName)),
		PollInterval: poll,
		PollWhile:    w.Polling,
	}, w.apply)
	if err != nil {
		return nil, err
	}
	w.follower = f
	return w, nil
}

func (w *ExtensionWatcher) apply(env models.Envelope) {
	if _, err := w.merged.Apply(env); err != nil {
		logging.Warn().Err(err).Str("extension_id", env.ID).Msg("undecodable extension request")
		return
	}
	if r, ok := w.merged.Get(env.ID); ok {
		w.unlock(r)
	}
}

// Track merges a request the caller already holds, typically the result
// of Service.Request, so polling starts without waiting for a push.
func (w *ExtensionWatcher) Track(r models.ExtensionRequest) {
	w.merged.Upsert(r.ID, r.Version, r)
	if cur, ok := w.merged.Get(r.ID); ok {
		w.unlock(cur)
	}
}

func (w *ExtensionWatcher) unlock(r models.ExtensionRequest) {
	if r.Status != models.StatusApproved {
		return
	}
	w.mu.Lock()
	_, done := w.unlocked[r.ID]
	if !done {
		w.unlocked[r.ID] = struct{}{}
	}
	w.mu.Unlock()
	if !done && w.onUnlock != nil {
		w.onUnlock(r)
	}
}

// Polling reports whether a known request is still pending.
func (w *ExtensionWatcher) Polling() bool {
	for _, r := range w.merged.Values() {
		if r.Status == models.StatusPending {
			return true
		}
	}
	return false
}

// Unlocked reports whether the request for cardIndex has been approved.
func (w *ExtensionWatcher) Unlocked(cardIndex int) bool {
	for _, r := range w.merged.Values() {
		if r.CardIndex == cardIndex && r.Status == models.StatusApproved {
			return true
		}
	}
	return false
}

// Requests returns the student's requests in version order.
func (w *ExtensionWatcher) Requests() []models.ExtensionRequest {
	return w.merged.Values()
}

// Close stops push and poll delivery.
func (w *ExtensionWatcher) Close() error {
	return w.follower.Close()
}

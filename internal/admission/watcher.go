// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package admission

import (
	"context"
	"sync"
	"time"

	"github.com/twistedtree83/classfeedback/internal/approvalcache"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// DefaultStatusPoll is the student-side fallback poll period.
const DefaultStatusPoll = 3 * time.Second

// WatchOptions configures a StatusWatcher.
type WatchOptions struct {
	// PollInterval defaults to DefaultStatusPoll.
	PollInterval time.Duration

	// Cache, if set, receives the approval and is consulted first.
	Cache approvalcache.Cache

	// TeacherName and Token are stored with a cached approval so a later
	// join can reuse the admitted participant.
	TeacherName string
	Token       string

	// OnChange runs on every new status, on the follower goroutine.
	OnChange func(models.Participant)
}

// StatusWatcher tracks one student's own join request until it is
// decided.
type StatusWatcher struct {
	code     string
	opts     WatchOptions
	follower *events.Follower

	mu        sync.Mutex
	current   models.Participant
	fromCache bool

	decided     chan struct{}
	decidedOnce sync.Once
}

// Watch starts tracking participantID in the session holding code.
//
// When the cache already holds an approval for code the watcher starts in
// the approved state and nothing is followed.
func Watch(ctx context.Context, src events.Source, code, participantID string, opts WatchOptions) (*StatusWatcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultStatusPoll
	}
	code = models.NormalizeCode(code)
	w := &StatusWatcher{
		code:    code,
		opts:    opts,
		decided: make(chan struct{}),
	}

	if opts.Cache != nil {
		if e, ok := opts.Cache.Get(code); ok && e.Approved &&
			(e.ParticipantID == "" || e.ParticipantID == participantID) {
			w.fromCache = true
			w.current = models.Participant{
				ID:          participantID,
				SessionID:   e.SessionID,
				SessionCode: code,
				StudentName: e.StudentName,
				Status:      models.StatusApproved,
				DecidedAt:   &e.Timestamp,
			}
			w.markDecided()
			return w, nil
		}
	}

	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    participantID,
		PollInterval: opts.PollInterval,
		PollWhile:    w.undecided,
	}, w.apply)
	if err != nil {
		return nil, err
	}
	w.follower = f
	return w, nil
}

func (w *StatusWatcher) apply(env models.Envelope) {
	p, err := models.Decode[models.Participant](env)
	if err != nil {
		logging.Warn().Err(err).Str("participant_id", env.ID).Msg("undecodable participant update")
		return
	}

	w.mu.Lock()
	w.current = p
	w.mu.Unlock()

	switch p.Status {
	case models.StatusApproved:
		if w.opts.Cache != nil {
			err := w.opts.Cache.Put(w.code, approvalcache.Entry{
				Approved:      true,
				SessionID:     p.SessionID,
				ParticipantID: p.ID,
				StudentName:   p.StudentName,
				TeacherName:   w.opts.TeacherName,
				Token:         w.opts.Token,
			})
			if err != nil {
				logging.Warn().Err(err).Str("session_code", w.code).Msg("could not cache approval")
			}
		}
		w.markDecided()
	case models.StatusRejected:
		if w.opts.Cache != nil {
			if err := w.opts.Cache.Clear(w.code); err != nil {
				logging.Warn().Err(err).Str("session_code", w.code).Msg("could not clear cached approval")
			}
		}
		w.markDecided()
	}

	if w.opts.OnChange != nil {
		w.opts.OnChange(p)
	}
}

func (w *StatusWatcher) markDecided() {
	w.decidedOnce.Do(func() { close(w.decided) })
}

func (w *StatusWatcher) undecided() bool {
	select {
	case <-w.decided:
		return false
	default:
		return true
	}
}

// Status is the latest known state of the request.
func (w *StatusWatcher) Status() models.Participant {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// FromCache reports whether the approval came from the local cache.
func (w *StatusWatcher) FromCache() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fromCache
}

// Decided is closed once the request is approved or rejected.
func (w *StatusWatcher) Decided() <-chan struct{} {
	return w.decided
}

// Wait blocks until the request is decided or ctx ends.
func (w *StatusWatcher) Wait(ctx context.Context) (models.Participant, error) {
	select {
	case <-w.decided:
		return w.Status(), nil
	case <-ctx.Done():
		return w.Status(), ctx.Err()
	}
}

// Close stops following. The cached approval, if any, is kept.
func (w *StatusWatcher) Close() error {
	if w.follower == nil {
		return nil
	}
	return w.follower.Close()
}

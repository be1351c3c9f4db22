// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// FollowSpec selects what a Follower tracks.
type FollowSpec struct {
	Kind      models.Kind
	Partition string

	// PollInterval is the catch-up period. Zero means push only.
	PollInterval time.Duration

	// PollWhile, if set, is checked on every tick and the catch-up poll
	// runs only while it returns true. It may turn true again later, so a
	// caller can pause polling while it has nothing outstanding. Push
	// delivery is unaffected.
	PollWhile func() bool
}

// Follower delivers each (id, version) of a partition to apply at most
// once, whether it arrived by push or by poll. apply calls are serialized.
type Follower struct {
	src   Source
	spec  FollowSpec
	apply Listener

	mu     sync.Mutex
	seen   map[string]uint64
	cursor uint64
	closed bool

	handle    Handle
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Follow subscribes, seeds from a full poll, and then polls every
// spec.PollInterval, gated by spec.PollWhile, until Close or until ctx
// ends. A failed subscription
// is logged and the follower runs on polling alone; a failed seed poll is
// returned.
//
// apply must not call Close on its own follower.
func Follow(ctx context.Context, src Source, spec FollowSpec, apply Listener) (*Follower, error) {
	if !spec.Kind.Valid() {
		return nil, fmt.Errorf("follow: unknown kind %q", spec.Kind)
	}
	f := &Follower{
		src:   src,
		spec:  spec,
		apply: apply,
		seen:  make(map[string]uint64),
		stop:  make(chan struct{}),
	}

	// Subscribe before the seed poll so nothing written in between is lost.
	h, err := src.Subscribe(ctx, spec.Kind, spec.Partition, f.deliver)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("kind", string(spec.Kind)).
			Str("partition", spec.Partition).
			Msg("push subscription failed, following by poll only")
	}
	f.handle = h

	if err := f.poll(ctx); err != nil {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		if f.handle != nil {
			f.handle.Close() //nolint:errcheck
		}
		return nil, fmt.Errorf("seed poll %s/%s: %w", spec.Kind, spec.Partition, err)
	}

	metrics.ActiveFollowers.WithLabelValues(string(spec.Kind)).Inc()
	if spec.PollInterval > 0 {
		f.wg.Add(1)
		go f.loop(ctx)
	}
	return f, nil
}

func (f *Follower) loop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.spec.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			if !f.Polling() {
				continue
			}
			if err := f.poll(ctx); err != nil && ctx.Err() == nil {
				logging.Ctx(ctx).Debug().Err(err).
					Str("kind", string(f.spec.Kind)).
					Str("partition", f.spec.Partition).
					Msg("catch-up poll failed")
			}
		}
	}
}

func (f *Follower) poll(ctx context.Context) error {
	f.mu.Lock()
	since := f.cursor
	f.mu.Unlock()

	envs, err := f.src.Poll(ctx, f.spec.Kind, f.spec.Partition, since)
	if err != nil {
		return err
	}
	for _, env := range envs {
		f.deliver(env)
	}
	if n := len(envs); n > 0 {
		f.mu.Lock()
		if last := envs[n-1].Version; last > f.cursor {
			f.cursor = last
		}
		f.mu.Unlock()
	}
	return nil
}

func (f *Follower) deliver(env models.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if v, ok := f.seen[env.ID]; ok && v >= env.Version {
		return
	}
	f.seen[env.ID] = env.Version
	f.apply(env)
}

func (f *Follower) stopPolling() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// Refresh runs one poll now.
func (f *Follower) Refresh(ctx context.Context) error {
	return f.poll(ctx)
}

// Polling reports whether the next tick would poll.
func (f *Follower) Polling() bool {
	select {
	case <-f.stop:
		return false
	default:
	}
	if f.spec.PollInterval <= 0 {
		return false
	}
	return f.spec.PollWhile == nil || f.spec.PollWhile()
}

// Close stops push and poll delivery. No apply call starts after Close
// returns. Later calls are no-ops.
func (f *Follower) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		if f.handle != nil {
			err = f.handle.Close()
		}
		f.stopPolling()
		f.wg.Wait()
		metrics.ActiveFollowers.WithLabelValues(string(f.spec.Kind)).Dec()
	})
	return err
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package events is the change-fanout layer every live view is built on.
//
// A write goes to the store first and is then pushed, best effort, to
// whoever listens on one of the record's partitions. Push can lose
// messages; consumers also poll the store with a version cursor and merge
// idempotently, so a lost push only delays an update by one poll interval.
//
// The in-process Channel and the remote client both implement Source, and
// Follow turns any Source into a stream of de-duplicated envelopes:
//
//	f, err := events.Follow(ctx, ch, events.FollowSpec{
//	    Kind:         models.KindParticipant,
//	    Partition:    participantID,
//	    PollInterval: 3 * time.Second,
//	}, func(env models.Envelope) { ... })
//	defer f.Close()
package events

import (
	"context"
	"sync"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// Listener receives pushed envelopes. It runs on the dispatcher goroutine
// and must return quickly.
type Listener func(models.Envelope)

// Handle cancels a subscription. Close is safe to call more than once.
type Handle interface {
	Close() error
}

// Source is anything that can push and be polled.
type Source interface {
	// Subscribe registers fn for envelopes of kind routed to partition.
	Subscribe(ctx context.Context, kind models.Kind, partition string, fn Listener) (Handle, error)

	// Poll returns envelopes of kind in partition with Version > since,
	// ordered by version.
	Poll(ctx context.Context, kind models.Kind, partition string, since uint64) ([]models.Envelope, error)
}

// HandleFunc adapts a function to Handle; the function runs once.
func HandleFunc(fn func()) Handle {
	return &onceHandle{fn: fn}
}

type onceHandle struct {
	once sync.Once
	fn   func()
}

func (h *onceHandle) Close() error {
	h.once.Do(h.fn)
	return nil
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
)

func kindOf[T any, P models.RecordPtr[T]]() models.Kind {
	return P(new(T)).RecordKind()
}

// Mutate atomically edits the record with the given id and pushes the
// result. fn may return store.ErrUnchanged to leave the record alone; the
// current value is then returned with changed=false and nothing is pushed.
//
//	p, changed, err := events.Mutate(ctx, ch, id, func(p *models.Participant) error {
//	    p.Status = models.StatusApproved
//	    return nil
//	})
func Mutate[T any, P models.RecordPtr[T]](ctx context.Context, c *Channel, id string, fn func(P) error) (T, bool, error) {
	var zero T
	kind := kindOf[T, P]()

	env, changed, err := c.store.Update(ctx, kind, id, func(raw json.RawMessage) (json.RawMessage, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
		}
		if err := fn(P(&v)); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, false, err
	}

	out, err := models.Decode[T, P](env)
	if err != nil {
		return zero, false, err
	}
	if changed {
		metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
		c.Notify(ctx, env)
	}
	return out, changed, nil
}

// Load reads one record.
func Load[T any, P models.RecordPtr[T]](ctx context.Context, c *Channel, id string) (T, error) {
	env, err := c.store.Get(ctx, kindOf[T, P](), id)
	if err != nil {
		var zero T
		return zero, err
	}
	return models.Decode[T, P](env)
}

// List reads every record of T in partition, oldest version first.
func List[T any, P models.RecordPtr[T]](ctx context.Context, src Source, partition string) ([]T, error) {
	envs, err := src.Poll(ctx, kindOf[T, P](), partition, 0)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(envs))
	for _, env := range envs {
		v, err := models.Decode[T, P](env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package store persists record envelopes.
//
// A backend needs only three things: durable upsert by (kind, id), an
// atomic read-modify-write of one record, and a query by partition key that
// returns records newer than a version cursor. Every write is stamped with
// a store-wide, strictly increasing version.
//
// Backends:
//   - MemoryStore: tests and single-process demos
//   - BadgerStore: embedded, the default for a single server
//   - PostgresStore: gorm on PostgreSQL
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// ErrUnchanged is returned by a MutateFunc to leave the record as it is.
// Update then reports changed=false and keeps the current version.
var ErrUnchanged = errors.New("record unchanged")

// MutateFunc receives the current record JSON and returns the new one.
type MutateFunc func(current json.RawMessage) (json.RawMessage, error)

// Store is implemented by every backend.
//
// Versions are assigned and committed in order: once a Query has returned
// version N, no record with a version <= N can appear later. Consumers rely
// on this to use the highest polled version as their cursor.
type Store interface {
	// Put upserts env, assigning a new version. Partitions of an existing
	// record are kept.
	Put(ctx context.Context, env models.Envelope) (models.Envelope, error)

	// Get returns models.ErrNotFound when the record does not exist.
	Get(ctx context.Context, kind models.Kind, id string) (models.Envelope, error)

	// Update applies fn atomically. Concurrent updates of the same record
	// are serialized so fn always sees the latest committed data.
	Update(ctx context.Context, kind models.Kind, id string, fn MutateFunc) (env models.Envelope, changed bool, err error)

	// Query returns records of kind in partition with Version > since,
	// ordered by version.
	Query(ctx context.Context, kind models.Kind, partition string, since uint64) ([]models.Envelope, error)

	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error

	Close() error
}

func sortByVersion(envs []models.Envelope) {
	sort.Slice(envs, func(i, j int) bool { return envs[i].Version < envs[j].Version })
}

func mergePartitions(existing, incoming []string) []string {
	out := append([]string(nil), existing...)
	for _, p := range incoming {
		found := false
		for _, q := range out {
			if p == q {
				found = true
				break
			}
		}
		if !found {
			out = append(out, p)
		}
	}
	return out
}

func cloneEnvelope(env models.Envelope) models.Envelope {
	env.Partitions = append([]string(nil), env.Partitions...)
	env.Data = append(json.RawMessage(nil), env.Data...)
	return env
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

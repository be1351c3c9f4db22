// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twistedtree83/classfeedback/internal/models"
)

type recordKey struct {
	kind models.Kind
	id   string
}

type partitionKey struct {
	kind      models.Kind
	partition string
}

// MemoryStore keeps everything in maps guarded by one mutex.
type MemoryStore struct {
	mu         sync.RWMutex
	version    uint64
	records    map[recordKey]models.Envelope
	partitions map[partitionKey]map[string]struct{}
	closed     bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[recordKey]models.Envelope),
		partitions: make(map[partitionKey]map[string]struct{}),
	}
}

var errClosed = errors.New("store is closed")

func (s *MemoryStore) Put(_ context.Context, env models.Envelope) (models.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Envelope{}, errClosed
	}

	key := recordKey{env.Kind, env.ID}
	if prev, ok := s.records[key]; ok {
		env.Partitions = mergePartitions(prev.Partitions, env.Partitions)
	}
	s.version++
	env.Version = s.version
	env.UpdatedAt = now()
	env = cloneEnvelope(env)
	s.records[key] = env
	s.index(env)
	return cloneEnvelope(env), nil
}

// index must be called with mu held.
func (s *MemoryStore) index(env models.Envelope) {
	for _, p := range env.Partitions {
		pk := partitionKey{env.Kind, p}
		ids, ok := s.partitions[pk]
		if !ok {
			ids = make(map[string]struct{})
			s.partitions[pk] = ids
		}
		ids[env.ID] = struct{}{}
	}
}

func (s *MemoryStore) Get(_ context.Context, kind models.Kind, id string) (models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.records[recordKey{kind, id}]
	if !ok {
		return models.Envelope{}, fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return cloneEnvelope(env), nil
}

func (s *MemoryStore) Update(_ context.Context, kind models.Kind, id string, fn MutateFunc) (models.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Envelope{}, false, errClosed
	}

	key := recordKey{kind, id}
	cur, ok := s.records[key]
	if !ok {
		return models.Envelope{}, false, fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}

	data, err := fn(cloneEnvelope(cur).Data)
	if errors.Is(err, ErrUnchanged) {
		return cloneEnvelope(cur), false, nil
	}
	if err != nil {
		return models.Envelope{}, false, err
	}

	s.version++
	cur.Version = s.version
	cur.UpdatedAt = now()
	cur.Data = data
	cur = cloneEnvelope(cur)
	s.records[key] = cur
	return cloneEnvelope(cur), true, nil
}

func (s *MemoryStore) Query(_ context.Context, kind models.Kind, partition string, since uint64) ([]models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.partitions[partitionKey{kind, partition}]
	out := make([]models.Envelope, 0, len(ids))
	for id := range ids {
		env := s.records[recordKey{kind, id}]
		if env.Version > since {
			out = append(out, cloneEnvelope(env))
		}
	}
	sortByVersion(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

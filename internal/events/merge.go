// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package events

import (
	"sort"
	"sync"

	"github.com/twistedtree83/classfeedback/internal/models"
)

// Merger keeps the newest version of each record by id. Applying the same
// or an older version is a no-op, so push and poll may both deliver.
type Merger[T any, P models.RecordPtr[T]] struct {
	mu       sync.RWMutex
	items    map[string]T
	versions map[string]uint64
}

// NewMerger returns an empty Merger.
func NewMerger[T any, P models.RecordPtr[T]]() *Merger[T, P] {
	return &Merger[T, P]{
		items:    make(map[string]T),
		versions: make(map[string]uint64),
	}
}

// Apply decodes env and upserts it. It reports whether the held value
// changed.
func (m *Merger[T, P]) Apply(env models.Envelope) (bool, error) {
	m.mu.RLock()
	held, ok := m.versions[env.ID]
	m.mu.RUnlock()
	if ok && held >= env.Version {
		return false, nil
	}
	v, err := models.Decode[T, P](env)
	if err != nil {
		return false, err
	}
	return m.Upsert(env.ID, env.Version, v), nil
}

// Upsert stores v under id unless a version >= version is held.
func (m *Merger[T, P]) Upsert(id string, version uint64, v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.versions[id]; ok && held >= version {
		return false
	}
	m.items[id] = v
	m.versions[id] = version
	return true
}

// Get returns the held value for id.
func (m *Merger[T, P]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[id]
	return v, ok
}

// Values returns every held value ordered by version.
func (m *Merger[T, P]) Values() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.versions[ids[i]] < m.versions[ids[j]] })
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = m.items[id]
	}
	return out
}

// Len is the number of distinct ids held.
func (m *Merger[T, P]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

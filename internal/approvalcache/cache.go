// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

// Package approvalcache remembers, on the student's side, that a join
// request was approved, so reopening a lesson skips the waiting room.
//
// Entries expire. A cached approval is a hint: it is cleared when the
// server reports a rejection, the session is gone, or the code now
// belongs to a different session.
package approvalcache

import (
	"strings"
	"sync"
	"time"
)

// Entry is what the watcher stores on approval.
type Entry struct {
	Approved      bool      `cbor:"approved" json:"approved"`
	SessionID     string    `cbor:"session_id" json:"session_id"`
	ParticipantID string    `cbor:"participant_id" json:"participant_id"`
	Token         string    `cbor:"token" json:"token"`
	StudentName   string    `cbor:"student_name" json:"student_name"`
	TeacherName   string    `cbor:"teacher_name" json:"teacher_name"`
	Timestamp     time.Time `cbor:"timestamp" json:"timestamp"`
}

// Cache is keyed by normalized session code.
type Cache interface {
	// Get returns a live entry. Expired entries are dropped and reported
	// as missing.
	Get(code string) (Entry, bool)
	Put(code string, e Entry) error
	Clear(code string) error
}

func key(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns a Cache whose entries live for ttl. A ttl of zero
// never expires.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

func (m *Memory) Get(code string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(code)
	e, ok := m.entries[k]
	if !ok {
		return Entry{}, false
	}
	if expired(e, m.ttl, m.now()) {
		delete(m.entries, k)
		return Entry{}, false
	}
	return e, true
}

func (m *Memory) Put(code string, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	m.mu.Lock()
	m.entries[key(code)] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(code string) error {
	m.mu.Lock()
	delete(m.entries, key(code))
	m.mu.Unlock()
	return nil
}

func expired(e Entry, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.Timestamp) > ttl
}

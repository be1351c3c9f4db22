// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"fmt"
	"time"
)

// Status is the decision state shared by participants and extension
// requests.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Participant is one join attempt. A rejected student retries with a new
// Participant; the rejected record is never reopened.
type Participant struct {
	Versioned
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	SessionCode string     `json:"session_code"`
	StudentName string     `json:"student_name"`
	Status      Status     `json:"status"`
	JoinedAt    time.Time  `json:"joined_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

func (p Participant) RecordKind() Kind { return KindParticipant }
func (p Participant) RecordID() string { return p.ID }

// PartitionKeys routes a participant both to the session roster and to
// the student's own status watcher.
func (p Participant) PartitionKeys() []string {
	return []string{p.SessionCode, p.ID}
}

// Decide moves a pending status to the terminal status to. Deciding the
// same outcome twice reports changed=false; the opposite outcome is
// ErrInvalidTransition.
func (s *Status) Decide(to Status) (changed bool, err error) {
	if !to.Terminal() {
		return false, fmt.Errorf("%w: cannot decide %q", ErrInvalidTransition, to)
	}
	switch *s {
	case to:
		return false, nil
	case StatusPending:
		*s = to
		return true, nil
	default:
		return false, fmt.Errorf("%w: already %s, cannot become %s", ErrInvalidTransition, *s, to)
	}
}

// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"strings"
	"time"
)

// CodeLength is the length of a session code.
const CodeLength = 6

// CodeAlphabet is the set of characters a session code is drawn from.
const CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizeCode trims and upper-cases a human-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is CodeLength characters from CodeAlphabet.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(CodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// Session is a live room. Only one active session may hold a code.
type Session struct {
	Versioned
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	TeacherName string     `json:"teacher_name"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (s Session) RecordKind() Kind { return KindSession }
func (s Session) RecordID() string { return s.ID }
func (s Session) PartitionKeys() []string { return []string{s.Code} }

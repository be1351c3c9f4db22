// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors shared by every layer. Wrap them with %w and test with
// errors.Is.
var (
	// ErrNotFound covers absent records and inactive sessions or
	// presentations. Callers must not tell the two apart when talking to
	// end users.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a write targets a record that is
	// already in a terminal state different from the requested one.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrTransport marks push delivery failures. It is logged, never
	// returned to a publisher.
	ErrTransport = errors.New("push transport failure")
)

// SessionGoneMessage is the single user-facing text for a session that
// never existed or has ended.
const SessionGoneMessage = "session not found or has ended"

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

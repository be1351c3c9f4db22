// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TeacherMessage is an append-only broadcast to a presentation.
type TeacherMessage struct {
	Versioned
	ID             string    `json:"id"`
	PresentationID string    `json:"presentation_id"`
	TeacherName    string    `json:"teacher_name"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m TeacherMessage) RecordKind() Kind { return KindMessage }
func (m TeacherMessage) RecordID() string { return m.ID }
func (m TeacherMessage) PartitionKeys() []string { return []string{m.PresentationID} }

// FeedbackType is a student's reaction to a card.
type FeedbackType string

const (
	FeedbackUnderstand FeedbackType = "understand"
	FeedbackConfused   FeedbackType = "confused"
	FeedbackSlower     FeedbackType = "slower"
)

// FeedbackTypes lists the accepted reactions in display order.
var FeedbackTypes = []FeedbackType{FeedbackUnderstand, FeedbackConfused, FeedbackSlower}

// Valid reports whether t is one of FeedbackTypes.
func (t FeedbackType) Valid() bool {
	for _, ft := range FeedbackTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// FeedbackEntry is the current reaction of one student to one card. Its
// ID is derived from (presentation, student, card) so a second submission
// overwrites the first.
type FeedbackEntry struct {
	Versioned
	ID             string       `json:"id"`
	PresentationID string       `json:"presentation_id"`
	StudentName    string       `json:"student_name"`
	CardIndex      int          `json:"card_index"`
	Type           FeedbackType `json:"type"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (f FeedbackEntry) RecordKind() Kind { return KindFeedback }
func (f FeedbackEntry) RecordID() string { return f.ID }
func (f FeedbackEntry) PartitionKeys() []string { return []string{f.PresentationID} }

// Question is free text from a student. Answered only ever goes from false
// to true.
type Question struct {
	Versioned
	ID             string     `json:"id"`
	PresentationID string     `json:"presentation_id"`
	StudentName    string     `json:"student_name"`
	Text           string     `json:"text"`
	CardIndex      int        `json:"card_index"`
	Answered       bool       `json:"answered"`
	CreatedAt      time.Time  `json:"created_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
}

func (q Question) RecordKind() Kind { return KindQuestion }
func (q Question) RecordID() string { return q.ID }
func (q Question) PartitionKeys() []string { return []string{q.PresentationID} }

// ExtensionRequest asks the teacher to unlock a card's extension activity
// for one student. At most one exists per (student, card).
type ExtensionRequest struct {
	Versioned
	ID             string     `json:"id"`
	PresentationID string     `json:"presentation_id"`
	StudentName    string     `json:"student_name"`
	CardIndex      int        `json:"card_index"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
}

func (e ExtensionRequest) RecordKind() Kind { return KindExtension }
func (e ExtensionRequest) RecordID() string { return e.ID }

// PartitionKeys routes a request to the teacher's queue and to the
// requesting student's own partition.
func (e ExtensionRequest) PartitionKeys() []string {
	return []string{e.PresentationID, StudentPartition(e.PresentationID, e.StudentName)}
}

// StudentPartition is the partition key holding one student's records in
// a presentation.
func StudentPartition(presentationID, studentName string) string {
	return presentationID + "/" + studentName
}

var recordNamespace = uuid.MustParse("6f1c1f4e-3a57-4d0b-9c1e-2b7d8e0f5a21")

func scopedID(kind Kind, presentationID, studentName string, cardIndex int) string {
	key := strings.Join([]string{
		string(kind), presentationID, strings.TrimSpace(studentName), strconv.Itoa(cardIndex),
	}, "\x00")
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// FeedbackID is the stable id of a student's feedback on a card.
func FeedbackID(presentationID, studentName string, cardIndex int) string {
	return scopedID(KindFeedback, presentationID, studentName, cardIndex)
}

// ExtensionID is the stable id of a student's extension request on a card.
func ExtensionID(presentationID, studentName string, cardIndex int) string {
	return scopedID(KindExtension, presentationID, studentName, cardIndex)
}

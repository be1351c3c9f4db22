// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Kind names a record type. It doubles as the store namespace and the push
// routing key.
type Kind string

const (
	KindSession      Kind = "session"
	KindParticipant  Kind = "participant"
	KindPresentation Kind = "presentation"
	KindMessage      Kind = "message"
	KindFeedback     Kind = "feedback"
	KindQuestion     Kind = "question"
	KindExtension    Kind = "extension"
)

// Kinds lists every known kind.
var Kinds = []Kind{
	KindSession, KindParticipant, KindPresentation,
	KindMessage, KindFeedback, KindQuestion, KindExtension,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Record is implemented by every persisted entity.
//
// PartitionKeys are the values a consumer can poll or subscribe on. They
// must not change over the life of a record.
type Record interface {
	RecordKind() Kind
	RecordID() string
	PartitionKeys() []string
}

// Versioned is embedded in every record. The store assigns Version on each
// write; it is the poll cursor and the merge tiebreaker.
type Versioned struct {
	Version uint64 `json:"version"`
}

// SetVersion is called after a record is decoded from an envelope.
func (v *Versioned) SetVersion(n uint64) { v.Version = n }

// Envelope is a stored record as it travels through the store, the push
// transport, the poll endpoint and the websocket. The envelope Version is
// authoritative; the copy inside Data may lag.
type Envelope struct {
	Kind       Kind            `json:"kind"`
	ID         string          `json:"id"`
	Partitions []string        `json:"partitions"`
	Version    uint64          `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Data       json.RawMessage `json:"data"`
}

// HasPartition reports whether the envelope is routed to partition p.
func (e *Envelope) HasPartition(p string) bool {
	for _, q := range e.Partitions {
		if q == p {
			return true
		}
	}
	return false
}

// Wrap serializes rec into an unversioned envelope.
func Wrap(rec Record) (Envelope, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s %s: %w", rec.RecordKind(), rec.RecordID(), err)
	}
	return Envelope{
		Kind:       rec.RecordKind(),
		ID:         rec.RecordID(),
		Partitions: rec.PartitionKeys(),
		Data:       data,
	}, nil
}

// RecordPtr constrains Decode to pointer types of records.
type RecordPtr[T any] interface {
	*T
	Record
	SetVersion(uint64)
}

// Decode unmarshals env.Data into a T and stamps it with the envelope
// version.
//
//	p, err := models.Decode[models.Participant](env)
func Decode[T any, P RecordPtr[T]](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", env.Kind, env.ID, err)
	}
	P(&v).SetVersion(env.Version)
	return v, nil
}

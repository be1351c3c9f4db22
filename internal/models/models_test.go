// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABCDEF", true},
		{"A1B2C3", true},
		{"abcdef", false},
		{"ABCDE", false},
		{"ABCDEFG", false},
		{"ABC-EF", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ValidCode(tt.code); got != tt.want {
				t.Errorf("ValidCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  k7q2zd \n"); got != "K7Q2ZD" {
		t.Errorf("NormalizeCode() = %q, want K7Q2ZD", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !StatusApproved.Terminal() || !StatusRejected.Terminal() {
		t.Error("approved and rejected must be terminal")
	}
}

func TestFeedbackID_Deterministic(t *testing.T) {
	a := FeedbackID("pres-1", "Ada", 2)
	b := FeedbackID("pres-1", " Ada ", 2)
	if a != b {
		t.Errorf("same student and card should share an id: %s vs %s", a, b)
	}
	if a == FeedbackID("pres-1", "Ada", 3) {
		t.Error("different card must give a different id")
	}
	if a == FeedbackID("pres-1", "Grace", 2) {
		t.Error("different student must give a different id")
	}
	if a == ExtensionID("pres-1", "Ada", 2) {
		t.Error("feedback and extension ids must not collide")
	}
}

func TestDecode_StampsEnvelopeVersion(t *testing.T) {
	p := Participant{ID: "p1", SessionCode: "ABCDEF", StudentName: "Ada", Status: StatusPending}
	env, err := Wrap(p)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if env.Kind != KindParticipant || env.ID != "p1" {
		t.Fatalf("unexpected envelope identity %s/%s", env.Kind, env.ID)
	}
	if !env.HasPartition("ABCDEF") || !env.HasPartition("p1") {
		t.Errorf("partitions = %v", env.Partitions)
	}

	env.Version = 42
	got, err := Decode[Participant](env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Version != 42 {
		t.Errorf("Version = %d, want 42", got.Version)
	}
	if got.StudentName != "Ada" || got.Status != StatusPending {
		t.Errorf("decoded %+v", got)
	}
}

func TestExtensionRequest_Partitions(t *testing.T) {
	e := ExtensionRequest{ID: "x", PresentationID: "pres-1", StudentName: "Ada"}
	keys := e.PartitionKeys()
	if len(keys) != 2 || keys[0] != "pres-1" || keys[1] != "pres-1/Ada" {
		t.Errorf("PartitionKeys() = %v", keys)
	}
}

func TestPresentation_ClampIndex(t *testing.T) {
	p := &Presentation{Cards: make([]Card, 3)}
	tests := []struct{ in, want int }{
		{-5, -1}, {-1, -1}, {0, 0}, {2, 2}, {3, 2}, {99, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			if got := p.ClampIndex(tt.in); got != tt.want {
				t.Errorf("ClampIndex(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
	if p.HasCard(-1) || !p.HasCard(0) || p.HasCard(3) {
		t.Error("HasCard bounds wrong")
	}
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("create: %w", &ValidationError{Fields: map[string]string{
		"title": "is required",
		"cards": "must not be empty",
	}})
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 2 {
		t.Fatalf("errors.As failed: %v", err)
	}
	want := "validation failed: cards: must not be empty; title: is required"
	if ve.Error() != want {
		t.Errorf("Error() = %q, want %q", ve.Error(), want)
	}
}

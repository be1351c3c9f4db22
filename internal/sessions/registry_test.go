// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package sessions

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newRegistry(t *testing.T) (*Registry, *events.Channel) {
	t.Helper()
	ch := events.NewChannel(store.NewMemoryStore(), events.NewGoChannelTransport(16), config.EventsConfig{})
	t.Cleanup(func() { ch.Close() })
	return NewRegistry(ch, config.SessionConfig{CodeAttempts: 8, MaxNameLength: 20}), ch
}

// fixedCodes makes the registry draw codes from a list.
func fixedCodes(codes ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func TestCreate_CodeShape(t *testing.T) {
	r, _ := newRegistry(t)
	s, err := r.Create(context.Background(), "  Ms Rivera ")
	if err != nil {
		t.Fatal(err)
	}
	if !models.ValidCode(s.Code) {
		t.Errorf("code %q is not 6 uppercase alphanumerics", s.Code)
	}
	if !s.Active || s.TeacherName != "Ms Rivera" || s.Version == 0 {
		t.Errorf("Create() = %+v", s)
	}
}

func TestCreate_Validation(t *testing.T) {
	r, _ := newRegistry(t)
	for _, name := range []string{"", "   ", "a teacher name that is far too long"} {
		if _, err := r.Create(context.Background(), name); !errors.Is(err, models.ErrValidation) {
			t.Errorf("Create(%q) error = %v, want ErrValidation", name, err)
		}
	}
}

func TestCreate_SkipsCodesHeldByActiveSessions(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	r.newCode = fixedCodes("AAAAAA", "AAAAAA", "BBBBBB")

	first, err := r.Create(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Create(ctx, "T2")
	if err != nil {
		t.Fatal(err)
	}
	if first.Code != "AAAAAA" || second.Code != "BBBBBB" {
		t.Errorf("codes = %s, %s; want AAAAAA then BBBBBB", first.Code, second.Code)
	}
}

func TestCreate_ExhaustsAttempts(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	r.newCode = fixedCodes("AAAAAA")

	if _, err := r.Create(ctx, "T1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, "T2"); !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Errorf("Create() error = %v, want ErrCodeSpaceExhausted", err)
	}
}

func TestCreate_ConcurrentCodesUnique(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	r.newCode = fixedCodes("AAAAAA", "BBBBBB", "CCCCCC", "DDDDDD")

	var wg sync.WaitGroup
	codes := make(chan string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Create(ctx, "T")
			if err != nil {
				t.Error(err)
				return
			}
			codes <- s.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		if seen[c] {
			t.Errorf("code %s issued twice", c)
		}
		seen[c] = true
	}
}

func TestResolve(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	s, err := r.Create(ctx, "T")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"exact", s.Code, nil},
		{"lowercase with spaces", " " + string([]byte{s.Code[0] | 0x20}) + s.Code[1:] + " ", nil},
		{"unknown", "ZZZZZ9", models.ErrNotFound},
		{"malformed", "abc", models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.code)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve(%q) error = %v, want %v", tt.code, err, tt.wantErr)
				}
				return
			}
			if err != nil || got.ID != s.ID {
				t.Errorf("Resolve(%q) = %+v, %v", tt.code, got, err)
			}
		})
	}
}

func TestEnd(t *testing.T) {
	r, ch := newRegistry(t)
	ctx := context.Background()
	r.newCode = fixedCodes("AAAAAA")

	s, err := r.Create(ctx, "T")
	if err != nil {
		t.Fatal(err)
	}
	pres := models.Presentation{
		ID: uuid.NewString(), SessionID: s.ID, SessionCode: s.Code,
		Cards: []models.Card{{ID: "c1", Title: "One"}}, CurrentCardIndex: -1, Active: true,
	}
	if _, err := ch.Publish(ctx, pres); err != nil {
		t.Fatal(err)
	}

	ended, err := r.End(ctx, "aaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if ended.Active || ended.EndedAt == nil {
		t.Errorf("End() = %+v", ended)
	}

	if _, err := r.Resolve(ctx, s.Code); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Resolve() after End = %v, want ErrNotFound", err)
	}
	if got, err := r.ResolveAny(ctx, s.Code); err != nil || got.ID != s.ID {
		t.Errorf("ResolveAny() = %+v, %v", got, err)
	}

	p, err := events.Load[models.Presentation](ctx, ch, pres.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Active {
		t.Error("presentation still active after session end")
	}

	again, err := r.End(ctx, s.Code)
	if err != nil || again.Version != ended.Version {
		t.Errorf("second End() = v%d, %v; want unchanged v%d", again.Version, err, ended.Version)
	}

	// The code is free again.
	next, err := r.Create(ctx, "T2")
	if err != nil {
		t.Fatal(err)
	}
	if next.Code != s.Code {
		t.Errorf("code not reused: %s", next.Code)
	}
	if got, err := r.Resolve(ctx, s.Code); err != nil || got.ID != next.ID {
		t.Errorf("Resolve() = %+v, %v; want the new session", got, err)
	}
}

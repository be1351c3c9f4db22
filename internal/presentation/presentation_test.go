// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package presentation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/sessions"
	"github.com/twistedtree83/classfeedback/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type droppingTransport struct{}

func (droppingTransport) Publish(string, ...*message.Message) error { return errors.New("dropped") }
func (droppingTransport) Subscribe(ctx context.Context, _ string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (droppingTransport) Close() error { return nil }

type fixture struct {
	ch      *events.Channel
	reg     *sessions.Registry
	svc     *Service
	session models.Session
}

func newFixture(t *testing.T, tr events.Transport) *fixture {
	t.Helper()
	ch := events.NewChannel(store.NewMemoryStore(), tr, config.EventsConfig{
		Breaker: config.BreakerConfig{FailureThreshold: 1000},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ch.Serve(ctx) //nolint:errcheck
		close(done)
	}()
	<-ch.Ready()
	t.Cleanup(func() {
		cancel()
		<-done
		ch.Close()
	})

	reg := sessions.NewRegistry(ch, config.SessionConfig{})
	s, err := reg.Create(context.Background(), "Ms Rivera")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{ch: ch, reg: reg, svc: NewService(ch, reg), session: s}
}

func cards(n int) []models.Card {
	out := make([]models.Card, n)
	for i := range out {
		out[i] = models.Card{ID: fmt.Sprintf("c%d", i), Type: "text", Title: fmt.Sprintf("Card %d", i)}
	}
	return out
}

func (f *fixture) create(t *testing.T, n int) models.Presentation {
	t.Helper()
	p, err := f.svc.Create(context.Background(), CreateInput{
		SessionCode: f.session.Code,
		Title:       "Photosynthesis",
		Cards:       cards(n),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCreate(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(16))
	p := f.create(t, 3)

	if p.CurrentCardIndex != models.WelcomeIndex || !p.Active {
		t.Errorf("new presentation = index %d active %v", p.CurrentCardIndex, p.Active)
	}
	if p.TeacherName != "Ms Rivera" || p.SessionID != f.session.ID {
		t.Errorf("session fields not copied: %+v", p)
	}
	got, err := f.svc.ActiveForSession(context.Background(), f.session.Code)
	if err != nil || got.ID != p.ID {
		t.Errorf("ActiveForSession() = %v, %v", got.ID, err)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(16))
	dup := cards(2)
	dup[1].ID = dup[0].ID
	untitled := cards(1)
	untitled[0].Title = ""

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"no cards", CreateInput{SessionCode: f.session.Code}, models.ErrValidation},
		{"duplicate ids", CreateInput{SessionCode: f.session.Code, Cards: dup}, models.ErrValidation},
		{"untitled card", CreateInput{SessionCode: f.session.Code, Cards: untitled}, models.ErrValidation},
		{"bad code", CreateInput{SessionCode: "x", Cards: cards(1)}, models.ErrValidation},
		{"unknown session", CreateInput{SessionCode: "ZZZZZZ", Cards: cards(1)}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Create(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCursor_Bounds(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(16))
	ctx := context.Background()
	p := f.create(t, 3)

	back, err := f.svc.Retreat(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if back.CurrentCardIndex != -1 || back.Version != p.Version {
		t.Errorf("Retreat() at welcome = index %d v%d, want no-op", back.CurrentCardIndex, back.Version)
	}

	for i := 0; i < 5; i++ {
		if p, err = f.svc.Advance(ctx, p.ID); err != nil {
			t.Fatal(err)
		}
	}
	if p.CurrentCardIndex != 2 {
		t.Errorf("index after 5 advances on 3 cards = %d, want 2", p.CurrentCardIndex)
	}

	for _, tt := range []struct{ set, want int }{{-7, -1}, {1, 1}, {99, 2}} {
		got, err := f.svc.SetCursor(ctx, p.ID, tt.set)
		if err != nil {
			t.Fatal(err)
		}
		if got.CurrentCardIndex != tt.want {
			t.Errorf("SetCursor(%d) = %d, want %d", tt.set, got.CurrentCardIndex, tt.want)
		}
	}
}

func TestCursor_RandomWalkStaysInRange(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(64))
	ctx := context.Background()
	p := f.create(t, 4)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		var err error
		if rng.IntN(2) == 0 {
			p, err = f.svc.Advance(ctx, p.ID)
		} else {
			p, err = f.svc.Retreat(ctx, p.ID)
		}
		if err != nil {
			t.Fatal(err)
		}
		if p.CurrentCardIndex < -1 || p.CurrentCardIndex > 3 {
			t.Fatalf("step %d: index %d out of [-1, 3]", i, p.CurrentCardIndex)
		}
	}
}

func TestCursor_ConcurrentAdvancesAreNotLost(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(64))
	ctx := context.Background()
	p := f.create(t, 50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Advance(ctx, p.ID); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentCardIndex != 9 {
		t.Errorf("index = %d after 10 concurrent advances from -1, want 9", got.CurrentCardIndex)
	}
}

func TestCursor_InactivePresentation(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(16))
	ctx := context.Background()
	p := f.create(t, 2)

	if _, err := f.reg.End(ctx, f.session.Code); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Advance(ctx, p.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Advance() after end = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.ActiveForSession(ctx, f.session.Code); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("ActiveForSession() after end = %v, want ErrNotFound", err)
	}
}

func TestAssemble(t *testing.T) {
	p := models.Presentation{ID: "p", Title: "Cells", TeacherName: "T", Cards: cards(3), Active: true}

	tests := []struct {
		index    int
		welcome  bool
		cardID   string
		started  bool
		progress string
	}{
		{-1, true, WelcomeCardID, false, ""},
		{0, true, WelcomeCardID, false, ""},
		{1, false, "c0", true, "1 of 3"},
		{2, false, "c1", true, "2 of 3"},
		{3, false, "c2", true, "3 of 3"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.index), func(t *testing.T) {
			v := Assemble(p, tt.index)
			if v.Welcome != tt.welcome || v.Card.ID != tt.cardID || v.LessonStarted != tt.started || v.Progress() != tt.progress {
				t.Errorf("Assemble(%d) = welcome %v card %s started %v progress %q",
					tt.index, v.Welcome, v.Card.ID, v.LessonStarted, v.Progress())
			}
			if v.Total != 3 {
				t.Errorf("Total = %d", v.Total)
			}
		})
	}

	w := Assemble(p, -1)
	if w.Card.Title != "Cells" || w.Card.Content == "" {
		t.Errorf("welcome card = %+v", w.Card)
	}
}

func TestViewer_ThreeAdvancesWithLostPush(t *testing.T) {
	f := newFixture(t, droppingTransport{})
	ctx := context.Background()
	p := f.create(t, 4)

	v, err := Attach(ctx, f.ch, p.ID, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if !v.View().Welcome {
		t.Fatal("viewer should start on the welcome card")
	}

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Advance(ctx, p.ID); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for v.Presentation().CurrentCardIndex != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	view := v.View()
	if view.Card.ID != "c1" || !view.LessonStarted || view.Progress() != "2 of 4" {
		t.Errorf("view = card %s started %v progress %q; want c1, started, 2 of 4",
			view.Card.ID, view.LessonStarted, view.Progress())
	}
}

func TestViewer_KeepsResolvedCards(t *testing.T) {
	f := newFixture(t, events.NewGoChannelTransport(16))
	ctx := context.Background()
	p := f.create(t, 2)

	changes := make(chan View, 4)
	v, err := Attach(ctx, f.ch, p.ID, time.Hour, func(view View) { changes <- view })
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	// An update carrying different cards only moves the cursor.
	tampered := p
	tampered.Cards = cards(1)
	tampered.Cards[0].Title = "Tampered"
	tampered.CurrentCardIndex = 1
	env, err := models.Wrap(tampered)
	if err != nil {
		t.Fatal(err)
	}
	env.Version = p.Version + 1000
	f.ch.Dispatch(env)

	select {
	case view := <-changes:
		if view.Card.Title != "Card 0" || view.Total != 2 {
			t.Errorf("view after update = %+v, want original cards", view.Card)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	// A stale version is ignored.
	stale, err := models.Wrap(p)
	if err != nil {
		t.Fatal(err)
	}
	stale.Version = p.Version
	f.ch.Dispatch(stale)
	if v.Presentation().CurrentCardIndex != 1 {
		t.Errorf("stale update moved the cursor")
	}
}

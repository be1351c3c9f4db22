// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package client

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/twistedtree83/classfeedback/internal/admission"
	"github.com/twistedtree83/classfeedback/internal/api"
	"github.com/twistedtree83/classfeedback/internal/approvalcache"
	"github.com/twistedtree83/classfeedback/internal/auth"
	"github.com/twistedtree83/classfeedback/internal/authz"
	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/presentation"
	"github.com/twistedtree83/classfeedback/internal/sessions"
	"github.com/twistedtree83/classfeedback/internal/sidechannel"
	"github.com/twistedtree83/classfeedback/internal/store"
	"github.com/twistedtree83/classfeedback/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// setupServer runs the full HTTP and websocket stack on a loopback port.
func setupServer(t *testing.T) string {
	t.Helper()
	ch := events.NewChannel(store.NewMemoryStore(), events.NewGoChannelTransport(64), config.EventsConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	chDone := make(chan struct{})
	go func() {
		ch.Serve(ctx) //nolint:errcheck
		close(chDone)
	}()
	<-ch.Ready()

	sec := config.SecurityConfig{JWTSecret: strings.Repeat("k", 32)}
	tokens, err := auth.NewTokenManager(&sec)
	if err != nil {
		t.Fatal(err)
	}
	enf, err := authz.NewEnforcer(authz.EnforcerConfig{})
	if err != nil {
		t.Fatal(err)
	}

	hub := websocket.NewHub(ch, config.WebSocketConfig{}, nil)
	hubDone := make(chan struct{})
	go func() {
		hub.RunWithContext(ctx) //nolint:errcheck
		close(hubDone)
	}()

	reg := sessions.NewRegistry(ch, config.SessionConfig{})
	h := api.NewHandler(api.Services{
		Channel:       ch,
		Sessions:      reg,
		Admission:     admission.NewService(ch, reg, 0),
		Presentations: presentation.NewService(ch, reg),
		SideChannel:   sidechannel.NewService(ch, 0),
		Tokens:        tokens,
		Hub:           hub,
	})
	router := api.NewRouter(h, api.NewChiMiddleware(sec), auth.NewMiddleware(tokens), authz.NewMiddleware(enf))
	srv := httptest.NewServer(router.SetupChi())

	t.Cleanup(func() {
		cancel()
		<-hubDone
		<-chDone
		srv.Close()
		ch.Close()
	})
	return srv.URL
}

func newClient(t *testing.T, base string, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = base
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type lesson struct {
	teacher, student *Client
	session          models.Session
	participant      models.Participant
	pres             models.Presentation
}

// startLesson opens a session with a three card deck and a pending
// student called Ana.
func startLesson(t *testing.T, base string) *lesson {
	t.Helper()
	ctx := context.Background()
	l := &lesson{
		teacher: newClient(t, base, Config{}),
		student: newClient(t, base, Config{FeedbackCooldown: time.Hour}),
	}

	var err error
	if l.session, err = l.teacher.CreateSession(ctx, "Ms Rivera"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if l.teacher.Token() == "" {
		t.Fatal("CreateSession did not adopt a teacher token")
	}
	cards := []models.Card{
		{ID: "a", Title: "Fractions"},
		{ID: "b", Title: "Halves"},
		{ID: "c", Title: "Quarters"},
	}
	if l.pres, err = l.teacher.CreatePresentation(ctx, l.session.Code, "Maths", cards, nil); err != nil {
		t.Fatalf("CreatePresentation() error = %v", err)
	}
	if l.participant, err = l.student.Join(ctx, strings.ToLower(l.session.Code), "Ana"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	return l
}

func TestAdmissionWatch_DecidedByPush(t *testing.T) {
	base := setupServer(t)
	l := startLesson(t, base)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cache := approvalcache.NewMemory(time.Hour)
	// A long poll interval leaves push as the only way to learn the result.
	w, err := admission.Watch(ctx, l.student, l.session.Code, l.participant.ID, admission.WatchOptions{
		PollInterval: time.Hour,
		Cache:        cache,
		TeacherName:  l.session.TeacherName,
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	if got := w.Status().Status; got != models.StatusPending {
		t.Fatalf("initial status = %s, want pending", got)
	}
	if _, err := l.teacher.Approve(ctx, l.participant.ID); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	p, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if p.Status != models.StatusApproved {
		t.Errorf("status = %s, want approved", p.Status)
	}
	e, ok := cache.Get(l.session.Code)
	if !ok || !e.Approved || e.StudentName != "Ana" || e.TeacherName != "Ms Rivera" {
		t.Errorf("cache entry = %+v, %v", e, ok)
	}
}

func TestAdmissionWatch_CachedApprovalSkipsServer(t *testing.T) {
	base := setupServer(t)
	l := startLesson(t, base)
	ctx := context.Background()

	cache := approvalcache.NewMemory(time.Hour)
	if err := cache.Put(l.session.Code, approvalcache.Entry{Approved: true, StudentName: "Ana", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	w, err := admission.Watch(ctx, l.student, l.session.Code, l.participant.ID, admission.WatchOptions{Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if !w.FromCache() || w.Status().Status != models.StatusApproved {
		t.Errorf("watcher = %+v fromCache=%v", w.Status(), w.FromCache())
	}
}

func TestViewerFollowsCursor(t *testing.T) {
	base := setupServer(t)
	l := startLesson(t, base)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	views := make(chan presentation.View, 8)
	v, err := presentation.Attach(ctx, l.student, l.pres.ID, time.Hour, func(view presentation.View) {
		views <- view
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer v.Close()

	if !v.View().Welcome {
		t.Fatal("viewer should start on the welcome card")
	}
	if _, err := l.teacher.SetCursor(ctx, l.pres.ID, 2); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}

	select {
	case view := <-views:
		if view.Welcome || view.Card.ID != "b" || !view.LessonStarted {
			t.Errorf("view = %+v, want card b", view)
		}
	case <-ctx.Done():
		t.Fatal("no view change delivered")
	}

	got, err := l.student.View(ctx, l.pres.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Index != 2 || got.Progress != "2 of 3" || got.Card.Title != "Halves" {
		t.Errorf("View() = %+v", got)
	}
}

func TestFollowPushOnly(t *testing.T) {
	base := setupServer(t)
	l := startLesson(t, base)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan models.Envelope, 4)
	f, err := events.Follow(ctx, l.student, events.FollowSpec{
		Kind:      models.KindMessage,
		Partition: l.pres.ID,
	}, func(env models.Envelope) { got <- env })
	if err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	defer f.Close()
	if f.Polling() {
		t.Error("push-only follower should not poll")
	}

	if _, err := l.teacher.SendMessage(ctx, l.pres.ID, "Pencils down"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	select {
	case env := <-got:
		m, err := models.Decode[models.TeacherMessage](env)
		if err != nil {
			t.Fatal(err)
		}
		if m.Content != "Pencils down" {
			t.Errorf("content = %q", m.Content)
		}
	case <-ctx.Done():
		t.Fatal("message not pushed")
	}
}

func TestSubscribeFailsWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()

	c := newClient(t, base, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Subscribe(ctx, models.KindSession, "ABC123", func(models.Envelope) {}); err == nil {
		t.Fatal("Subscribe() succeeded against a closed server")
	}
	if _, err := c.Subscribe(ctx, "gossip", "x", func(models.Envelope) {}); err == nil {
		t.Fatal("Subscribe() accepted an unknown kind")
	}
}

func TestSideChannels(t *testing.T) {
	base := setupServer(t)
	l := startLesson(t, base)
	ctx := context.Background()

	if _, err := l.teacher.Approve(ctx, l.participant.ID); err != nil {
		t.Fatal(err)
	}

	f, err := l.student.SubmitFeedback(ctx, l.pres.ID, 1, models.FeedbackConfused)
	if err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}
	if f.StudentName != "Ana" {
		t.Errorf("feedback name = %q, want name from token", f.StudentName)
	}
	if _, err := l.student.SubmitFeedback(ctx, l.pres.ID, 1, models.FeedbackUnderstand); !errors.Is(err, ErrCooldown) {
		t.Errorf("second SubmitFeedback() error = %v, want ErrCooldown", err)
	}

	q, err := l.student.Ask(ctx, l.pres.ID, "Why halves?", 1)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if q, err = l.teacher.AnswerQuestion(ctx, q.ID); err != nil || !q.Answered {
		t.Errorf("AnswerQuestion() = %+v, %v", q, err)
	}

	if _, err := l.student.SendMessage(ctx, l.pres.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Errorf("student SendMessage() error = %v, want ErrForbidden", err)
	}
}

func TestErrorsMapToSentinels(t *testing.T) {
	base := setupServer(t)
	l := startLesson(t, base)
	ctx := context.Background()

	if _, err := l.student.ResolveSession(ctx, "ZZZZZZ", false); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("ResolveSession(unknown) error = %v, want ErrNotFound", err)
	}

	if _, err := l.teacher.Approve(ctx, l.participant.ID); err != nil {
		t.Fatal(err)
	}
	_, err := l.teacher.Reject(ctx, l.participant.ID)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Reject(approved) error = %v, want ErrInvalidTransition", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != 409 {
		t.Errorf("error = %#v, want 409 *Error", err)
	}

	if _, err := l.teacher.CreateSession(ctx, "   "); !errors.Is(err, models.ErrValidation) {
		t.Errorf("CreateSession(blank) error = %v, want ErrValidation", err)
	}

	anon := newClient(t, base, Config{})
	if _, err := anon.Advance(ctx, l.pres.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("anonymous Advance() error = %v, want ErrUnauthorized", err)
	}

	if _, err := l.teacher.EndSession(ctx, l.session.Code); err != nil {
		t.Fatal(err)
	}
	s, err := l.student.ResolveSession(ctx, l.session.Code, true)
	if err != nil || s.Active {
		t.Errorf("ResolveSession(ended, include inactive) = %+v, %v", s, err)
	}
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "://", "localhost:8080"} {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) succeeded", raw)
		}
	}
}

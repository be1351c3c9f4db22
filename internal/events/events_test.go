// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/twistedtree83/classfeedback/internal/config"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
	"github.com/twistedtree83/classfeedback/internal/store"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// brokenTransport accepts subscriptions but fails every publish.
type brokenTransport struct{}

func (brokenTransport) Publish(string, ...*message.Message) error { return errors.New("network down") }
func (brokenTransport) Subscribe(ctx context.Context, _ string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (brokenTransport) Close() error { return nil }

func newTestChannel(t *testing.T, tr Transport) *Channel {
	t.Helper()
	ch := NewChannel(store.NewMemoryStore(), tr, config.EventsConfig{
		Topic:   "test.records",
		Breaker: config.BreakerConfig{FailureThreshold: 1000},
	})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ch.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
		ch.Close()
	})
	select {
	case <-ch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("channel never became ready")
	}
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func participant(id, code string, status models.Status) models.Participant {
	return models.Participant{ID: id, SessionCode: code, StudentName: "Ann", Status: status}
}

func TestChannel_PublishPushesToPartitionListeners(t *testing.T) {
	ch := newTestChannel(t, NewGoChannelTransport(16))
	ctx := context.Background()

	var roster, own, other atomic.Int32
	for _, sub := range []struct {
		partition string
		n         *atomic.Int32
	}{{"ABCDEF", &roster}, {"p1", &own}, {"ZZZZZZ", &other}} {
		n := sub.n
		h, err := ch.Subscribe(ctx, models.KindParticipant, sub.partition, func(models.Envelope) { n.Add(1) })
		if err != nil {
			t.Fatal(err)
		}
		defer h.Close()
	}

	env, err := ch.Publish(ctx, participant("p1", "ABCDEF", models.StatusPending))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if env.Version == 0 {
		t.Error("Publish() returned an unversioned envelope")
	}

	waitFor(t, "push to both partitions", func() bool { return roster.Load() == 1 && own.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if other.Load() != 0 {
		t.Errorf("listener on another session received %d pushes", other.Load())
	}
}

func TestChannel_PushFailureIsSilent(t *testing.T) {
	ch := newTestChannel(t, brokenTransport{})
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.EventsPushFailures.WithLabelValues("participant", "transport"))
	if _, err := ch.Publish(ctx, participant("p1", "ABCDEF", models.StatusPending)); err != nil {
		t.Fatalf("Publish() error = %v, want nil despite push failure", err)
	}
	after := testutil.ToFloat64(metrics.EventsPushFailures.WithLabelValues("participant", "transport"))
	if after-before != 1 {
		t.Errorf("push failures delta = %v, want 1", after-before)
	}

	envs, err := ch.Poll(ctx, models.KindParticipant, "ABCDEF", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 1 {
		t.Errorf("Poll() returned %d records, want the stored one", len(envs))
	}
}

func TestChannel_SubscribeRejectsUnknownKind(t *testing.T) {
	ch := newTestChannel(t, NewGoChannelTransport(1))
	if _, err := ch.Subscribe(context.Background(), "bogus", "x", func(models.Envelope) {}); err == nil {
		t.Error("Subscribe() with unknown kind should fail")
	}
}

func TestHandle_CloseTwice(t *testing.T) {
	ch := newTestChannel(t, NewGoChannelTransport(1))
	before := testutil.ToFloat64(metrics.EventListeners)

	h, err := ch.Subscribe(context.Background(), models.KindSession, "ABCDEF", func(models.Envelope) {})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.EventListeners); got != before {
		t.Errorf("listeners gauge = %v after double close, want %v", got, before)
	}
}

func TestMutate(t *testing.T) {
	ch := newTestChannel(t, NewGoChannelTransport(16))
	ctx := context.Background()

	if _, err := ch.Publish(ctx, participant("p1", "ABCDEF", models.StatusPending)); err != nil {
		t.Fatal(err)
	}

	var pushes atomic.Int32
	h, _ := ch.Subscribe(ctx, models.KindParticipant, "p1", func(models.Envelope) { pushes.Add(1) })
	defer h.Close()

	p, changed, err := Mutate(ctx, ch, "p1", func(p *models.Participant) error {
		p.Status = models.StatusApproved
		return nil
	})
	if err != nil || !changed {
		t.Fatalf("Mutate() = changed %v, err %v", changed, err)
	}
	if p.Status != models.StatusApproved || p.Version == 0 {
		t.Errorf("Mutate() returned %+v", p)
	}
	waitFor(t, "push after change", func() bool { return pushes.Load() == 1 })

	_, changed, err = Mutate(ctx, ch, "p1", func(*models.Participant) error { return store.ErrUnchanged })
	if err != nil || changed {
		t.Fatalf("unchanged Mutate() = changed %v, err %v", changed, err)
	}
	time.Sleep(20 * time.Millisecond)
	if pushes.Load() != 1 {
		t.Errorf("unchanged Mutate pushed; pushes = %d", pushes.Load())
	}

	if _, _, err := Mutate(ctx, ch, "missing", func(*models.Participant) error { return nil }); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Mutate() on missing = %v, want ErrNotFound", err)
	}
}

func TestLoadAndList(t *testing.T) {
	ch := newTestChannel(t, NewGoChannelTransport(16))
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := ch.Publish(ctx, participant(id, "ABCDEF", models.StatusPending)); err != nil {
			t.Fatal(err)
		}
	}

	p, err := Load[models.Participant](ctx, ch, "b")
	if err != nil || p.ID != "b" || p.Version == 0 {
		t.Fatalf("Load() = %+v, %v", p, err)
	}
	all, err := List[models.Participant](ctx, ch, "ABCDEF")
	if err != nil || len(all) != 2 || all[0].ID != "a" {
		t.Fatalf("List() = %+v, %v", all, err)
	}
}

// manualSource lets a test decide when push delivers.
type manualSource struct {
	store.Store
	mu        sync.Mutex
	listeners []Listener
	polls     atomic.Int32
	failSub   bool
}

func (s *manualSource) Subscribe(_ context.Context, _ models.Kind, _ string, fn Listener) (Handle, error) {
	if s.failSub {
		return nil, errors.New("dial failed")
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	s.mu.Unlock()
	return HandleFunc(func() {
		s.mu.Lock()
		s.listeners[idx] = nil
		s.mu.Unlock()
	}), nil
}

func (s *manualSource) Poll(ctx context.Context, kind models.Kind, partition string, since uint64) ([]models.Envelope, error) {
	s.polls.Add(1)
	return s.Query(ctx, kind, partition, since)
}

func (s *manualSource) push(env models.Envelope) {
	s.mu.Lock()
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range ls {
		if fn != nil {
			fn(env)
		}
	}
}

func (s *manualSource) put(t *testing.T, rec models.Record) models.Envelope {
	t.Helper()
	env, err := models.Wrap(rec)
	if err != nil {
		t.Fatal(err)
	}
	env, err = s.Put(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestFollow_DeduplicatesPushAndPoll(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}
	ctx := context.Background()

	var mu sync.Mutex
	var applied []uint64
	f, err := Follow(ctx, src, FollowSpec{Kind: models.KindParticipant, Partition: "ABCDEF"}, func(env models.Envelope) {
		mu.Lock()
		applied = append(applied, env.Version)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	env := src.put(t, participant("p1", "ABCDEF", models.StatusPending))
	src.push(env)
	src.push(env)
	if err := f.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 1 || applied[0] != env.Version {
		t.Errorf("applied = %v, want exactly version %d once", applied, env.Version)
	}
}

func TestFollow_IgnoresStaleVersions(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}
	ctx := context.Background()

	old := src.put(t, participant("p1", "ABCDEF", models.StatusPending))
	src.put(t, participant("p1", "ABCDEF", models.StatusApproved))

	var got []models.Status
	f, err := Follow(ctx, src, FollowSpec{Kind: models.KindParticipant, Partition: "ABCDEF"}, func(env models.Envelope) {
		p, _ := models.Decode[models.Participant](env)
		got = append(got, p.Status)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// A delayed push of the superseded version arrives after the seed.
	src.push(old)

	if len(got) != 1 || got[0] != models.StatusApproved {
		t.Errorf("applied statuses = %v, want [approved]", got)
	}
}

func TestFollow_PollCoversLostPush(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}
	ctx := context.Background()

	var n atomic.Int32
	f, err := Follow(ctx, src, FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    "ABCDEF",
		PollInterval: 10 * time.Millisecond,
	}, func(models.Envelope) { n.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Stored but never pushed.
	src.put(t, participant("p1", "ABCDEF", models.StatusPending))
	waitFor(t, "poll to pick up the record", func() bool { return n.Load() == 1 })
}

func TestFollow_SubscribeFailureFallsBackToPoll(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore(), failSub: true}
	src.put(t, participant("p1", "ABCDEF", models.StatusPending))

	var n atomic.Int32
	f, err := Follow(context.Background(), src, FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    "ABCDEF",
		PollInterval: 10 * time.Millisecond,
	}, func(models.Envelope) { n.Add(1) })
	if err != nil {
		t.Fatalf("Follow() error = %v, want poll-only follower", err)
	}
	defer f.Close()
	if n.Load() != 1 {
		t.Errorf("seed poll applied %d records, want 1", n.Load())
	}
}

func TestFollow_PollWhilePausesPolling(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}
	ctx := context.Background()

	var done atomic.Bool
	f, err := Follow(ctx, src, FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    "p1",
		PollInterval: 5 * time.Millisecond,
		PollWhile:    func() bool { return !done.Load() },
	}, func(env models.Envelope) {
		p, _ := models.Decode[models.Participant](env)
		done.Store(p.Status.Terminal())
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	src.put(t, participant("p1", "ABCDEF", models.StatusApproved))
	waitFor(t, "terminal status to pause polling", func() bool { return !f.Polling() })

	time.Sleep(20 * time.Millisecond)
	settled := src.polls.Load()
	time.Sleep(40 * time.Millisecond)
	if src.polls.Load() != settled {
		t.Errorf("polling continued while paused: %d -> %d", settled, src.polls.Load())
	}
}

func TestFollow_PollWhileRearms(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}

	var want atomic.Bool
	var n atomic.Int32
	f, err := Follow(context.Background(), src, FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    "p1",
		PollInterval: time.Millisecond,
		PollWhile:    want.Load,
	}, func(models.Envelope) { n.Add(1) })
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	time.Sleep(20 * time.Millisecond)
	if got := src.polls.Load(); got != 1 {
		t.Errorf("polls = %d, want only the seed poll", got)
	}
	if f.Polling() {
		t.Error("Polling() = true while PollWhile is false")
	}

	// Stored but never pushed.
	src.put(t, participant("p1", "ABCDEF", models.StatusPending))
	want.Store(true)
	waitFor(t, "re-armed poll to pick up the record", func() bool { return n.Load() == 1 })
	if !f.Polling() {
		t.Error("Polling() = false after PollWhile turned true")
	}
}

func TestFollow_CloseIsIdempotentAndFinal(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}

	var n atomic.Int32
	f, err := Follow(context.Background(), src, FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    "ABCDEF",
		PollInterval: 5 * time.Millisecond,
	}, func(models.Envelope) { n.Add(1) })
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	env := src.put(t, participant("p1", "ABCDEF", models.StatusPending))
	src.push(env)
	time.Sleep(30 * time.Millisecond)
	if n.Load() != 0 {
		t.Errorf("apply ran %d times after Close", n.Load())
	}
	if f.Polling() {
		t.Error("Polling() = true after Close")
	}
}

func TestFollow_UnknownKind(t *testing.T) {
	src := &manualSource{Store: store.NewMemoryStore()}
	if _, err := Follow(context.Background(), src, FollowSpec{Kind: "nope"}, func(models.Envelope) {}); err == nil {
		t.Error("Follow() with unknown kind should fail")
	}
}

func TestFollow_OverChannel(t *testing.T) {
	ch := newTestChannel(t, NewGoChannelTransport(16))
	ctx := context.Background()

	roster := NewMerger[models.Participant]()
	f, err := Follow(ctx, ch, FollowSpec{Kind: models.KindParticipant, Partition: "ABCDEF"}, func(env models.Envelope) {
		roster.Apply(env) //nolint:errcheck
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := ch.Publish(ctx, participant("p1", "ABCDEF", models.StatusPending)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "push-only delivery", func() bool { return roster.Len() == 1 })
}

func TestMerger(t *testing.T) {
	m := NewMerger[models.Participant]()

	v1, _ := models.Wrap(participant("p1", "ABCDEF", models.StatusPending))
	v1.Version = 1
	v2, _ := models.Wrap(participant("p1", "ABCDEF", models.StatusApproved))
	v2.Version = 2
	other, _ := models.Wrap(participant("p0", "ABCDEF", models.StatusPending))
	other.Version = 3

	steps := []struct {
		name    string
		env     models.Envelope
		applied bool
	}{
		{"first sighting", v2, true},
		{"same version again", v2, false},
		{"older version", v1, false},
		{"another id", other, true},
	}
	for _, s := range steps {
		got, err := m.Apply(s.env)
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if got != s.applied {
			t.Errorf("%s: applied = %v, want %v", s.name, got, s.applied)
		}
	}

	p, ok := m.Get("p1")
	if !ok || p.Status != models.StatusApproved || p.Version != 2 {
		t.Errorf("Get(p1) = %+v, %v", p, ok)
	}
	vals := m.Values()
	if len(vals) != 2 || vals[0].ID != "p1" || vals[1].ID != "p0" {
		t.Errorf("Values() not ordered by version: %+v", vals)
	}
}

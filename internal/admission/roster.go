// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package admission

import (
	"context"
	"sort"
	"time"

	"github.com/twistedtree83/classfeedback/internal/events"
	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/models"
)

// DefaultRosterPoll is the teacher-side fallback poll period.
const DefaultRosterPoll = 5 * time.Second

// Counts summarizes a roster.
type Counts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// Roster is the teacher's live view of every participant in a session.
type Roster struct {
	merged   *events.Merger[models.Participant, *models.Participant]
	follower *events.Follower
}

// FollowRoster follows the participants of sess. Joins into earlier
// sessions under the same code are ignored. onChange, if set, runs after
// each applied update.
func FollowRoster(ctx context.Context, src events.Source, sess models.Session, poll time.Duration, onChange func()) (*Roster, error) {
	if poll <= 0 {
		poll = DefaultRosterPoll
	}
	r := &Roster{merged: events.NewMerger[models.Participant]()}
	f, err := events.Follow(ctx, src, events.FollowSpec{
		Kind:         models.KindParticipant,
		Partition:    models.NormalizeCode(sess.Code),
		PollInterval: poll,
	}, func(env models.Envelope) {
		p, err := models.Decode[models.Participant](env)
		if err != nil {
			logging.Warn().Err(err).Str("participant_id", env.ID).Msg("undecodable roster update")
			return
		}
		if p.SessionID != sess.ID {
			return
		}
		if changed := r.merged.Upsert(env.ID, env.Version, p); changed && onChange != nil {
			onChange()
		}
	})
	if err != nil {
		return nil, err
	}
	r.follower = f
	return r, nil
}

func (r *Roster) byStatus(s models.Status) []models.Participant {
	var out []models.Participant
	for _, p := range r.merged.Values() {
		if p.Status == s {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}

// Pending lists students waiting for a decision, oldest first.
func (r *Roster) Pending() []models.Participant { return r.byStatus(models.StatusPending) }

func (r *Roster) Approved() []models.Participant { return r.byStatus(models.StatusApproved) }

func (r *Roster) Rejected() []models.Participant { return r.byStatus(models.StatusRejected) }

// Get returns one participant as last seen.
func (r *Roster) Get(id string) (models.Participant, bool) {
	return r.merged.Get(id)
}

// Counts is computed from a single snapshot.
func (r *Roster) Counts() Counts {
	var c Counts
	for _, p := range r.merged.Values() {
		switch p.Status {
		case models.StatusPending:
			c.Pending++
		case models.StatusApproved:
			c.Approved++
		case models.StatusRejected:
			c.Rejected++
		}
	}
	return c
}

// Refresh polls immediately.
func (r *Roster) Refresh(ctx context.Context) error {
	return r.follower.Refresh(ctx)
}

func (r *Roster) Close() error {
	return r.follower.Close()
}

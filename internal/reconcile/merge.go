package reconcile

import (
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
)

// Outcome is what ApplyEvent did with an event. Only OutcomeApplied changes
// the view; the rest are logged at debug and counted.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate: the id is already present or tombstoned.
	OutcomeDuplicate
	// OutcomeBuffered: an update for an id not materialized yet.
	OutcomeBuffered
	OutcomeFiltered
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// ApplyEvent merges one change observed on the feed.
func (c *Collection) ApplyEvent(ev models.Event) Outcome {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return OutcomeIgnored
	}
	now := c.opts.Now()
	c.pruneLocked(now)
	var fx effects
	out := c.applyLocked(ev, now, &fx)
	c.mu.Unlock()
	c.flush(&fx)

	c.opts.Recorder.ObserveEvent(string(c.kind), out.String())
	if out != OutcomeApplied {
		c.log.Debug("feed event not applied",
			zap.String("event", ev.Type.String()),
			zap.String("id", ev.Entity.ID),
			zap.Stringer("outcome", out))
	}
	return out
}

func (c *Collection) applyLocked(ev models.Event, now time.Time, fx *effects) Outcome {
	e := ev.Entity
	if e.ID == "" {
		return OutcomeIgnored
	}
	_, dead := c.tombstones[e.ID]

	switch ev.Type {
	case models.EventCreated:
		if dead || c.find(e.ID) != nil {
			return OutcomeDuplicate
		}
		if !c.filter.Match(e) {
			return OutcomeFiltered
		}
		if r := c.matchPendingLocked(e); r != nil {
			c.confirmLocked(r, e, fx)
			return OutcomeApplied
		}
		c.insertRemoteLocked(e)
		c.markLocked(fx)
		return OutcomeApplied

	case models.EventUpdated:
		if dead {
			return OutcomeDuplicate
		}
		r := c.find(e.ID)
		if r == nil {
			if !c.filter.Match(e) {
				return OutcomeFiltered
			}
			if b, ok := c.buffer[e.ID]; ok {
				e.Read = e.Read || b.ent.Read
			}
			c.buffer[e.ID] = buffered{ent: e, at: now}
			return OutcomeBuffered
		}
		r.ent = mergeRemote(r.ent, e)
		c.markLocked(fx)
		return OutcomeApplied

	case models.EventDeleted:
		if dead {
			if r := c.find(e.ID); r != nil {
				r.deletedRemotely = true
			}
			return OutcomeDuplicate
		}
		delete(c.buffer, e.ID)
		r := c.find(e.ID)
		if r == nil {
			// Remember it anyway: the create event may still be on its way.
			c.tombstones[e.ID] = now.Add(c.opts.TombstoneTTL)
			return OutcomeIgnored
		}
		r.deletedRemotely = true
		c.tombstoneLocked(r, now, fx)
		return OutcomeApplied
	}
	return OutcomeIgnored
}

// mergeLocked folds one authoritative entity from a listing into the view.
func (c *Collection) mergeLocked(e models.Entity, fx *effects) {
	if _, dead := c.tombstones[e.ID]; dead {
		return
	}
	if r := c.find(e.ID); r != nil {
		if r.ent.State == models.StateConfirmed {
			r.ent = mergeRemote(r.ent, e)
			c.markLocked(fx)
		}
		return
	}
	if r := c.matchPendingLocked(e); r != nil {
		c.confirmLocked(r, e, fx)
		return
	}
	c.insertRemoteLocked(e)
	c.markLocked(fx)
}

// matchPendingLocked finds the pending row that e most likely confirms:
// same author, scope and text, submitted within MatchWindow of e. Oldest
// submission wins.
func (c *Collection) matchPendingLocked(e models.Entity) *row {
	var best *row
	for _, r := range c.rows {
		if r.ent.State != models.StatePending || r.held {
			continue
		}
		p := r.ent
		if p.AuthorID != e.AuthorID || p.PostID != e.PostID || p.RecipientID != e.RecipientID || p.Text != e.Text {
			continue
		}
		if c.resolve(p.ParentID) != c.resolve(e.ParentID) {
			continue
		}
		d := e.CreatedAt.Sub(r.submitted)
		if d < 0 {
			d = -d
		}
		if d > c.opts.MatchWindow {
			continue
		}
		if best == nil || r.submitted.Before(best.submitted) ||
			(r.submitted.Equal(best.submitted) && r.seq < best.seq) {
			best = r
		}
	}
	return best
}

// mergeRemote folds an authoritative copy into cur. Text is last write
// wins; read only ever goes false to true.
func mergeRemote(cur, in models.Entity) models.Entity {
	if in.Text != "" {
		cur.Text = in.Text
	}
	cur.Read = cur.Read || in.Read
	if !in.UpdatedAt.IsZero() {
		cur.UpdatedAt = in.UpdatedAt
	}
	return cur
}

package timeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
)

// Timeline is the conversation between me and peer. Messages keep the
// position they were given when sent, whatever timestamp the store later
// assigns, and once read they stay read.
type Timeline struct {
	me, peer string
	coll     *reconcile.Collection
	sub      reconcile.Subscriber
	log      *zap.Logger
}

func New(me, peer string, store repository.EntityStore, sub reconcile.Subscriber, opts reconcile.Options) *Timeline {
	log := observ.OrNop(opts.Logger).With(zap.String("me", me), zap.String("peer", peer))
	opts.Logger = log
	opts.SortBySubmission = true
	return &Timeline{
		me:   me,
		peer: peer,
		coll: reconcile.New(models.KindMessage, store, repository.Pair(me, peer), opts),
		sub:  sub,
		log:  log,
	}
}

func (t *Timeline) Me() string   { return t.me }
func (t *Timeline) Peer() string { return t.peer }

// Load fetches the conversation and starts following the feed.
func (t *Timeline) Load(ctx context.Context) error {
	if t.sub != nil {
		if err := t.coll.Attach(ctx, t.sub); err != nil {
			return err
		}
	}
	if err := t.coll.Load(ctx); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	return nil
}

func (t *Timeline) Send(ctx context.Context, text string) (*reconcile.Op, error) {
	if t.me == t.peer {
		return nil, fmt.Errorf("%w: cannot message yourself", reconcile.ErrInvalidInput)
	}
	return t.coll.Submit(ctx, models.Draft{AuthorID: t.me, RecipientID: t.peer, Text: text})
}

// Edit changes the text of a message I sent.
func (t *Timeline) Edit(ctx context.Context, id, text string) (*reconcile.Op, error) {
	e, err := t.mine(id, "edit")
	if err != nil {
		return nil, err
	}
	return t.coll.Update(ctx, e.ID, models.Patch{Text: &text})
}

// Delete removes a message I sent.
func (t *Timeline) Delete(ctx context.Context, id string) (*reconcile.Op, error) {
	e, err := t.mine(id, "delete")
	if err != nil {
		return nil, err
	}
	return t.coll.Remove(ctx, e.ID)
}

// MarkRead flags every visible unread message from otherUserID as read,
// locally at once and then in the store. Messages already read are
// skipped, so calling it again is harmless.
func (t *Timeline) MarkRead(ctx context.Context, otherUserID string) ([]*reconcile.Op, error) {
	read := true
	var ops []*reconcile.Op
	for _, m := range t.coll.List() {
		if m.AuthorID != otherUserID || m.Read || m.State != models.StateConfirmed {
			continue
		}
		op, err := t.coll.Update(ctx, m.ID, models.Patch{Read: &read})
		if err != nil {
			return ops, fmt.Errorf("mark %s read: %w", m.ID, err)
		}
		ops = append(ops, op)
	}
	if len(ops) > 0 {
		t.log.Debug("marked messages read", zap.Int("count", len(ops)))
	}
	return ops, nil
}

// Unread counts visible messages from the peer I haven't read.
func (t *Timeline) Unread() int {
	n := 0
	for _, m := range t.coll.List() {
		if m.AuthorID == t.peer && !m.Read {
			n++
		}
	}
	return n
}

func (t *Timeline) List() []models.Entity { return t.coll.List() }

func (t *Timeline) Failed() []models.Entity { return t.coll.Failed() }

func (t *Timeline) Retry(ctx context.Context, localID string) (*reconcile.Op, error) {
	return t.coll.Retry(ctx, localID)
}

func (t *Timeline) Discard(localID string) error { return t.coll.Discard(localID) }

func (t *Timeline) OnChange(fn func([]models.Entity)) func() { return t.coll.OnChange(fn) }

// Resync lists the conversation again to catch events the feed dropped.
func (t *Timeline) Resync(ctx context.Context) error { return t.coll.Resync(ctx) }

func (t *Timeline) Close() { t.coll.Close() }

func (t *Timeline) mine(id, verb string) (models.Entity, error) {
	e, ok := t.coll.Get(id)
	if !ok || !e.State.Visible() {
		return models.Entity{}, fmt.Errorf("%s %s: %w", verb, id, repository.ErrNotFound)
	}
	if e.AuthorID != t.me {
		return models.Entity{}, fmt.Errorf("%s %s: %w", verb, id, reconcile.ErrUnauthorizedMutation)
	}
	return e, nil
}

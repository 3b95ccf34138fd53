package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/lalith-99/viewify/internal/feed"
	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/repository/memory"
)

// gatedRepo blocks creates whose text has a gate until it is opened.
type gatedRepo struct {
	repository.EntityStore

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func (r *gatedRepo) hold(text string) func() {
	ch := make(chan struct{})
	r.mu.Lock()
	if r.gates == nil {
		r.gates = map[string]chan struct{}{}
	}
	r.gates[text] = ch
	r.mu.Unlock()
	return func() { close(ch) }
}

func (r *gatedRepo) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	r.mu.Lock()
	ch := r.gates[e.Text]
	r.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return r.EntityStore.Create(ctx, e)
}

func wait(t *testing.T, op *reconcile.Op) (models.Entity, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return op.Wait(ctx)
}

func texts(list []models.Entity) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Text
	}
	return out
}

func message(t *testing.T, s repository.EntityStore, from, to, text string, read bool) models.Entity {
	t.Helper()
	ctx := context.Background()
	m, err := s.Create(ctx, models.Entity{Kind: models.KindMessage, AuthorID: from, RecipientID: to, Text: text})
	assert.Equal(t, nil, err)
	if read {
		r := true
		m, err = s.Update(ctx, models.KindMessage, m.ID, models.Patch{Read: &r})
		assert.Equal(t, nil, err)
	}
	return m
}

func TestMessagesKeepSendOrder(t *testing.T) {
	ctx := context.Background()
	repo := &gatedRepo{EntityStore: memory.New()}
	tl := New("u1", "u2", repo, nil, reconcile.Options{})
	defer tl.Close()

	release := repo.hold("a")
	opA, err := tl.Send(ctx, "a")
	assert.Equal(t, nil, err)
	opB, err := tl.Send(ctx, "b")
	assert.Equal(t, nil, err)

	// b lands first and gets the earlier store timestamp.
	_, err = wait(t, opB)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"a", "b"}, texts(tl.List()))

	release()
	_, err = wait(t, opA)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"a", "b"}, texts(tl.List()))
	for _, m := range tl.List() {
		assert.Equal(t, models.StateConfirmed, m.State)
	}
}

func TestSendRejectsSelfAndEmpty(t *testing.T) {
	ctx := context.Background()
	self := New("u1", "u1", memory.New(), nil, reconcile.Options{})
	defer self.Close()
	_, err := self.Send(ctx, "hi me")
	assert.Equal(t, true, errors.Is(err, reconcile.ErrInvalidInput))

	tl := New("u1", "u2", memory.New(), nil, reconcile.Options{})
	defer tl.Close()
	_, err = tl.Send(ctx, "   ")
	assert.Equal(t, true, errors.Is(err, reconcile.ErrInvalidInput))
	assert.Equal(t, 0, len(tl.List()))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	message(t, store, "u2", "u1", "one", false)
	message(t, store, "u2", "u1", "two", true)
	message(t, store, "u1", "u2", "reply", false)
	message(t, store, "u2", "u1", "three", false)
	message(t, store, "u3", "u1", "elsewhere", false)

	tl := New("u1", "u2", store, nil, reconcile.Options{})
	defer tl.Close()
	assert.Equal(t, nil, tl.Load(ctx))
	assert.Equal(t, 4, len(tl.List()))
	assert.Equal(t, 2, tl.Unread())

	ops, err := tl.MarkRead(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(ops))
	// Optimistic: visible before the store answers.
	assert.Equal(t, 0, tl.Unread())

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.Equal(t, nil, reconcile.WaitAll(waitCtx, ops...))

	unread, err := store.List(ctx, models.KindMessage, repository.Filter{RecipientID: "u1", UnreadOnly: true}, repository.ListOptions{})
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"elsewhere"}, texts(unread))

	ops, err = tl.MarkRead(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(ops))

	// My own message isn't mine to mark read.
	for _, m := range tl.List() {
		if m.AuthorID == "u1" {
			assert.Equal(t, false, m.Read)
		}
	}
}

func TestOnlySenderCanEditOrDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	theirs := message(t, store, "u2", "u1", "theirs", false)
	mine := message(t, store, "u1", "u2", "mine", false)

	tl := New("u1", "u2", store, nil, reconcile.Options{})
	defer tl.Close()
	assert.Equal(t, nil, tl.Load(ctx))

	_, err := tl.Edit(ctx, theirs.ID, "changed")
	assert.Equal(t, true, errors.Is(err, reconcile.ErrUnauthorizedMutation))
	_, err = tl.Delete(ctx, theirs.ID)
	assert.Equal(t, true, errors.Is(err, reconcile.ErrUnauthorizedMutation))
	_, err = tl.Delete(ctx, "m-404")
	assert.Equal(t, true, errors.Is(err, repository.ErrNotFound))

	op, err := tl.Edit(ctx, mine.ID, "mine, edited")
	assert.Equal(t, nil, err)
	_, err = wait(t, op)
	assert.Equal(t, nil, err)

	op, err = tl.Delete(ctx, mine.ID)
	assert.Equal(t, nil, err)
	_, err = wait(t, op)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"theirs"}, texts(tl.List()))
}

func TestTimelineFollowsFeed(t *testing.T) {
	ctx := context.Background()
	hub := feed.NewHub(feed.NewMemoryTransport(), "viewify", nil, nil)
	defer hub.Close()
	store := feed.NewPublishingStore(memory.New(), hub, nil)

	tl := New("u1", "u2", store, hub, reconcile.Options{})
	assert.Equal(t, nil, tl.Load(ctx))

	message(t, store, "u2", "u1", "hello", false)
	message(t, store, "u3", "u1", "not this chat", false)
	assert.Equal(t, []string{"hello"}, texts(tl.List()))
	assert.Equal(t, 1, tl.Unread())

	op, err := tl.Send(ctx, "hey back")
	assert.Equal(t, nil, err)
	_, err = wait(t, op)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"hello", "hey back"}, texts(tl.List()))

	tl.Close()
	assert.Equal(t, 0, hub.Handlers(models.KindMessage))
}

func TestSummaries(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	store := memory.New(memory.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(time.Minute)
		return at
	}))
	users := memory.NewUsers(models.User{ID: "u2", Name: "Bea"})

	message(t, store, "u2", "u1", "hi", false)
	message(t, store, "u1", "u3", "anyone there?", false)
	message(t, store, "u2", "u1", "you there?", false)
	message(t, store, "u1", "u2", "yes", false)
	message(t, store, "u3", "u4", "not mine", false)

	got, err := Summaries(ctx, store, users, "u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(got))

	assert.Equal(t, "u2", got[0].PeerID)
	assert.Equal(t, "Bea", got[0].PeerName)
	assert.Equal(t, 2, got[0].UnreadCount)
	assert.Equal(t, "yes", got[0].LastMessage)

	assert.Equal(t, "u3", got[1].PeerID)
	assert.Equal(t, "Unknown User", got[1].PeerName)
	assert.Equal(t, 0, got[1].UnreadCount)
	assert.Equal(t, "anyone there?", got[1].LastMessage)
}

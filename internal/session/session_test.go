package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/lalith-99/viewify/internal/feed"
	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/notify"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/repository/memory"
)

type gauge struct {
	mu   sync.Mutex
	open int
}

func (g *gauge) SessionOpened() { g.mu.Lock(); g.open++; g.mu.Unlock() }
func (g *gauge) SessionClosed() { g.mu.Lock(); g.open--; g.mu.Unlock() }

func (g *gauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

type env struct {
	hub   *feed.Hub
	store *feed.PublishingStore
	rec   *gauge
	deps  Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := feed.NewHub(feed.NewMemoryTransport(), "viewify", nil, nil)
	t.Cleanup(hub.Close)
	store := feed.NewPublishingStore(memory.New(), hub, nil)
	rec := &gauge{}
	return &env{
		hub:   hub,
		store: store,
		rec:   rec,
		deps: Deps{
			Store:    store,
			Users:    memory.NewUsers(models.User{ID: "u2", Name: "Bea"}),
			Feed:     hub,
			Recorder: rec,
		},
	}
}

func (e *env) send(t *testing.T, from, to, text string) models.Entity {
	t.Helper()
	m, err := e.store.Create(context.Background(), models.Entity{Kind: models.KindMessage, AuthorID: from, RecipientID: to, Text: text})
	assert.Equal(t, nil, err)
	return m
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func unreadInStore(t *testing.T, s repository.EntityStore, me string) int {
	t.Helper()
	list, err := s.List(context.Background(), models.KindMessage, repository.Filter{RecipientID: me, UnreadOnly: true}, repository.ListOptions{})
	assert.Equal(t, nil, err)
	return len(list)
}

func TestOverlayMarksConversationRead(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.send(t, "u2", "u1", "one")
	e.send(t, "u2", "u1", "two")

	s, err := New(ctx, "u1", e.deps)
	assert.Equal(t, nil, err)
	defer s.Close()

	tl, err := s.OpenOverlay(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, Overlay{Open: true, PeerID: "u2"}, s.Overlay())
	assert.Equal(t, 0, tl.Unread())
	eventually(t, func() bool { return unreadInStore(t, e.store, "u1") == 0 })

	// While the overlay is open, new messages are read on arrival.
	e.send(t, "u2", "u1", "three")
	eventually(t, func() bool { return tl.Unread() == 0 && unreadInStore(t, e.store, "u1") == 0 })

	// Once it is closed they stay unread.
	s.CloseOverlay()
	e.send(t, "u2", "u1", "four")
	assert.Equal(t, 1, tl.Unread())
	assert.Equal(t, 1, unreadInStore(t, e.store, "u1"))
}

func TestNotificationsReachUpdates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s, err := New(ctx, "u1", e.deps)
	assert.Equal(t, nil, err)
	defer s.Close()

	e.send(t, "u2", "u1", "ping")

	var got []notify.Notification
	for len(got) == 0 {
		select {
		case u := <-s.Updates():
			if u.Type == UpdateNotification {
				got = append(got, u.Payload.(notify.Notification))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no notification")
		}
	}
	assert.Equal(t, "Bea", got[0].SenderName)
	assert.Equal(t, "ping", got[0].Text)
}

func TestPostTreeThroughSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s, err := New(ctx, "u1", e.deps)
	assert.Equal(t, nil, err)
	defer s.Close()

	tree, err := s.Post(ctx, "p1")
	assert.Equal(t, nil, err)
	again, err := s.Post(ctx, "p1")
	assert.Equal(t, nil, err)
	assert.Equal(t, tree, again)

	op, err := tree.AddTopLevel(ctx, "u1", "first!")
	assert.Equal(t, nil, err)
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = op.Wait(waitCtx)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(tree.Snapshot()))

	s.ClosePost("p1")
	assert.Equal(t, 0, e.hub.Handlers(models.KindComment))
}

func TestCloseReleasesEverything(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s, err := New(ctx, "u1", e.deps)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, e.rec.value())

	_, err = s.Chat(ctx, "u2")
	assert.Equal(t, nil, err)
	_, err = s.Post(ctx, "p1")
	assert.Equal(t, nil, err)
	f, err := s.Following(ctx)
	assert.Equal(t, nil, err)
	op, err := f.Follow(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, reconcile.WaitAll(ctx, op))

	assert.Equal(t, 2, e.hub.Handlers(models.KindMessage))
	assert.Equal(t, 1, e.hub.Handlers(models.KindFollow))

	s.Close()
	s.Close()
	assert.Equal(t, 0, e.rec.value())
	assert.Equal(t, 0, e.hub.Handlers(models.KindMessage))
	assert.Equal(t, 0, e.hub.Handlers(models.KindComment))
	assert.Equal(t, 0, e.hub.Handlers(models.KindFollow))

	for range s.Updates() {
	}
	_, err = s.Chat(ctx, "u2")
	assert.Equal(t, true, errors.Is(err, ErrClosed))
	_, err = s.Conversations(ctx)
	assert.Equal(t, true, errors.Is(err, ErrClosed))
}

func TestChatRejectsSelf(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	s, err := New(ctx, "u1", e.deps)
	assert.Equal(t, nil, err)
	defer s.Close()

	_, err = s.Chat(ctx, "u1")
	assert.Equal(t, true, errors.Is(err, reconcile.ErrInvalidInput))
	_, err = New(ctx, "", e.deps)
	assert.Equal(t, true, errors.Is(err, reconcile.ErrInvalidInput))
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.deps)

	a, err := m.Get(ctx, "u1")
	assert.Equal(t, nil, err)
	b, err := m.Get(ctx, "u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, a.ID(), b.ID())
	_, err = m.Get(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2, e.rec.value())

	assert.Equal(t, true, m.End("u1"))
	assert.Equal(t, false, m.End("u1"))
	assert.Equal(t, 1, m.Len())

	m.Close()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, e.rec.value())
}

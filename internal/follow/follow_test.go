package follow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/lalith-99/viewify/internal/feed"
	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
	"github.com/lalith-99/viewify/internal/repository/memory"
)

type failingDeletes struct {
	repository.EntityStore
}

func (failingDeletes) Delete(context.Context, models.Kind, string) error {
	return errors.New("store unavailable")
}

func wait(t *testing.T, op *reconcile.Op) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := op.Wait(ctx)
	return err
}

func TestFollowUnfollow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	f := New("u1", store, nil, reconcile.Options{})
	defer f.Close()
	assert.Equal(t, nil, f.Load(ctx))

	op, err := f.Follow(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, f.IsFollowing("u2"))
	assert.Equal(t, nil, wait(t, op))

	_, err = f.Follow(ctx, "u2")
	assert.Equal(t, true, errors.Is(err, ErrAlreadyFollowing))
	_, err = f.Follow(ctx, "u1")
	assert.Equal(t, true, errors.Is(err, reconcile.ErrInvalidInput))

	op, err = f.Follow(ctx, "u3")
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, wait(t, op))
	assert.Equal(t, []string{"u2", "u3"}, f.IDs())

	op, err = f.Unfollow(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, f.IsFollowing("u2"))
	assert.Equal(t, nil, wait(t, op))

	_, err = f.Unfollow(ctx, "u2")
	assert.Equal(t, true, errors.Is(err, ErrNotFollowing))

	edges, err := store.List(ctx, models.KindFollow, repository.Filter{AuthorID: "u1"}, repository.ListOptions{})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(edges))
	assert.Equal(t, "u3", edges[0].RecipientID)
}

func TestUnfollowRollsBack(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	_, err := inner.Create(ctx, models.Entity{Kind: models.KindFollow, AuthorID: "u1", RecipientID: "u2"})
	assert.Equal(t, nil, err)

	f := New("u1", failingDeletes{inner}, nil, reconcile.Options{})
	defer f.Close()
	assert.Equal(t, nil, f.Load(ctx))

	op, err := f.Unfollow(ctx, "u2")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, errors.Is(wait(t, op), reconcile.ErrStoreCallFailed))
	assert.Equal(t, true, f.IsFollowing("u2"))
}

func TestFollowsFromOtherDevice(t *testing.T) {
	ctx := context.Background()
	hub := feed.NewHub(feed.NewMemoryTransport(), "viewify", nil, nil)
	defer hub.Close()
	store := feed.NewPublishingStore(memory.New(), hub, nil)

	f := New("u1", store, hub, reconcile.Options{})
	defer f.Close()
	assert.Equal(t, nil, f.Load(ctx))

	e, err := store.Create(ctx, models.Entity{Kind: models.KindFollow, AuthorID: "u1", RecipientID: "u7"})
	assert.Equal(t, nil, err)
	_, err = store.Create(ctx, models.Entity{Kind: models.KindFollow, AuthorID: "u2", RecipientID: "u7"})
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"u7"}, f.IDs())

	assert.Equal(t, nil, store.Delete(ctx, models.KindFollow, e.ID))
	assert.Equal(t, false, f.IsFollowing("u7"))
}

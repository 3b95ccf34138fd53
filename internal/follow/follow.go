package follow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
)

var (
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
)

// Following is the set of users one user follows, updated optimistically.
type Following struct {
	userID string
	coll   *reconcile.Collection
	sub    reconcile.Subscriber
	log    *zap.Logger
}

func New(userID string, store repository.EntityStore, sub reconcile.Subscriber, opts reconcile.Options) *Following {
	log := observ.OrNop(opts.Logger).With(zap.String("user_id", userID))
	opts.Logger = log
	return &Following{
		userID: userID,
		coll:   reconcile.New(models.KindFollow, store, repository.Filter{AuthorID: userID}, opts),
		sub:    sub,
		log:    log,
	}
}

func (f *Following) Load(ctx context.Context) error {
	if f.sub != nil {
		if err := f.coll.Attach(ctx, f.sub); err != nil {
			return err
		}
	}
	if err := f.coll.Load(ctx); err != nil {
		return fmt.Errorf("load follows: %w", err)
	}
	return nil
}

// IsFollowing counts a pending follow as following.
func (f *Following) IsFollowing(targetID string) bool {
	_, ok := f.edge(targetID)
	return ok
}

// Follow adds an edge to targetID.
func (f *Following) Follow(ctx context.Context, targetID string) (*reconcile.Op, error) {
	if f.IsFollowing(targetID) {
		return nil, fmt.Errorf("follow %s: %w", targetID, ErrAlreadyFollowing)
	}
	return f.coll.Submit(ctx, models.Draft{AuthorID: f.userID, RecipientID: targetID})
}

// Unfollow removes the edge to targetID. An edge still being created
// can't be removed yet and returns reconcile.ErrNotConfirmed.
func (f *Following) Unfollow(ctx context.Context, targetID string) (*reconcile.Op, error) {
	e, ok := f.edge(targetID)
	if !ok {
		return nil, fmt.Errorf("unfollow %s: %w", targetID, ErrNotFollowing)
	}
	return f.coll.Remove(ctx, e.ID)
}

// IDs returns who the user follows, in follow order.
func (f *Following) IDs() []string {
	list := f.coll.List()
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.RecipientID)
	}
	return out
}

func (f *Following) OnChange(fn func([]models.Entity)) func() { return f.coll.OnChange(fn) }

func (f *Following) Close() { f.coll.Close() }

func (f *Following) edge(targetID string) (models.Entity, bool) {
	for _, e := range f.coll.List() {
		if e.RecipientID == targetID {
			return e, true
		}
	}
	return models.Entity{}, false
}

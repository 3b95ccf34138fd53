package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/repository"
)

type Publisher interface {
	Publish(ctx context.Context, typ models.EventType, e models.Entity) error
}

// PublishingStore publishes a change event after every successful write to
// the wrapped store. It plays the part of the hosted platform's realtime
// service when this process owns the database.
//
// A failed publish is logged, never returned: the write already happened,
// and the feed makes no delivery promise anyway.
type PublishingStore struct {
	repository.EntityStore
	pub Publisher
	log *zap.Logger
}

func NewPublishingStore(inner repository.EntityStore, pub Publisher, log *zap.Logger) *PublishingStore {
	return &PublishingStore{EntityStore: inner, pub: pub, log: observ.OrNop(log)}
}

func (s *PublishingStore) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	out, err := s.EntityStore.Create(ctx, e)
	if err != nil {
		return out, err
	}
	s.publish(ctx, models.EventCreated, out)
	return out, nil
}

func (s *PublishingStore) Update(ctx context.Context, kind models.Kind, id string, patch models.Patch) (models.Entity, error) {
	out, err := s.EntityStore.Update(ctx, kind, id, patch)
	if err != nil {
		return out, err
	}
	s.publish(ctx, models.EventUpdated, out)
	return out, nil
}

func (s *PublishingStore) Delete(ctx context.Context, kind models.Kind, id string) error {
	// The delete event carries the deleted document, like the hosted feed.
	prev, err := s.EntityStore.Get(ctx, kind, id)
	if err != nil {
		prev = models.Entity{ID: id, Kind: kind}
	}
	if err := s.EntityStore.Delete(ctx, kind, id); err != nil {
		return err
	}
	s.publish(ctx, models.EventDeleted, prev)
	return nil
}

func (s *PublishingStore) publish(ctx context.Context, typ models.EventType, e models.Entity) {
	if err := s.pub.Publish(ctx, typ, e); err != nil {
		s.log.Warn("publish change event",
			zap.String("kind", string(e.Kind)),
			zap.String("id", e.ID),
			zap.Stringer("event", typ),
			zap.Error(err))
	}
}

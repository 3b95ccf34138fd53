package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/repository"
)

func steppedClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestCreateAssignsIDs(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(steppedClock()), WithFirstID(100))

	c, err := s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p1", AuthorID: "u1", Text: "hi", LocalID: "tmp-x"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "c-100", c.ID)
	assert.Equal(t, "", c.LocalID)
	assert.Equal(t, models.StateConfirmed, c.State)

	m, err := s.Create(ctx, models.Entity{Kind: models.KindMessage, AuthorID: "u1", RecipientID: "u2", Text: "a"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "m-101", m.ID)
}

func TestListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(steppedClock()))

	root1, _ := s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p1", AuthorID: "u1", Text: "one"})
	root2, _ := s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p1", AuthorID: "u2", Text: "two"})
	_, _ = s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p1", ParentID: root1.ID, AuthorID: "u2", Text: "reply"})
	_, _ = s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p2", AuthorID: "u1", Text: "other post"})

	roots, err := s.List(ctx, models.KindComment, repository.Filter{PostID: "p1", RootOnly: true}, repository.ListOptions{Order: repository.OrderAsc})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(roots))
	assert.Equal(t, root1.ID, roots[0].ID)
	assert.Equal(t, root2.ID, roots[1].ID)

	desc, _ := s.List(ctx, models.KindComment, repository.Filter{PostID: "p1", RootOnly: true}, repository.ListOptions{Order: repository.OrderDesc, Limit: 1})
	assert.Equal(t, 1, len(desc))
	assert.Equal(t, root2.ID, desc[0].ID)

	replies, _ := s.List(ctx, models.KindComment, repository.Filter{ParentID: root1.ID}, repository.ListOptions{})
	assert.Equal(t, 1, len(replies))
	assert.Equal(t, "reply", replies[0].Text)

	page2, _ := s.List(ctx, models.KindComment, repository.Filter{PostID: "p1", RootOnly: true}, repository.ListOptions{Cursor: root1.ID})
	assert.Equal(t, 1, len(page2))
	assert.Equal(t, root2.ID, page2[0].ID)
}

func TestListParticipantsBothDirections(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(steppedClock()))

	_, _ = s.Create(ctx, models.Entity{Kind: models.KindMessage, AuthorID: "a", RecipientID: "b", Text: "1"})
	_, _ = s.Create(ctx, models.Entity{Kind: models.KindMessage, AuthorID: "b", RecipientID: "a", Text: "2"})
	_, _ = s.Create(ctx, models.Entity{Kind: models.KindMessage, AuthorID: "a", RecipientID: "c", Text: "3"})

	msgs, err := s.List(ctx, models.KindMessage, repository.Pair("b", "a"), repository.ListOptions{})
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(msgs))
	assert.Equal(t, "1", msgs[0].Text)
	assert.Equal(t, "2", msgs[1].Text)
}

func TestDeleteDoesNotCascade(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(steppedClock()))

	parent, _ := s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p1", AuthorID: "u1", Text: "parent"})
	reply, _ := s.Create(ctx, models.Entity{Kind: models.KindComment, PostID: "p1", ParentID: parent.ID, AuthorID: "u2", Text: "child"})

	assert.Equal(t, nil, s.Delete(ctx, models.KindComment, parent.ID))

	_, err := s.Get(ctx, models.KindComment, parent.ID)
	assert.Equal(t, true, errors.Is(err, repository.ErrNotFound))

	got, err := s.Get(ctx, models.KindComment, reply.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, "child", got.Text)

	assert.Equal(t, true, errors.Is(s.Delete(ctx, models.KindComment, parent.ID), repository.ErrNotFound))
}

func TestUpdateAppliesPatch(t *testing.T) {
	ctx := context.Background()
	s := New(WithClock(steppedClock()))

	m, _ := s.Create(ctx, models.Entity{Kind: models.KindMessage, AuthorID: "a", RecipientID: "b", Text: "hey"})
	read := true
	got, err := s.Update(ctx, models.KindMessage, m.ID, models.Patch{Read: &read})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, got.Read)
	assert.Equal(t, "hey", got.Text)
	assert.Equal(t, true, got.UpdatedAt.After(m.UpdatedAt))

	_, err = s.Update(ctx, models.KindMessage, "m-999", models.Patch{Read: &read})
	assert.Equal(t, true, errors.Is(err, repository.ErrNotFound))
}

func TestUsers(t *testing.T) {
	u := NewUsers(models.User{ID: "u1", Name: "Ada"})

	got, err := u.GetByID(context.Background(), "u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, "Ada", got.Name)

	missing, err := u.GetByID(context.Background(), "nope")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, missing == nil)
}

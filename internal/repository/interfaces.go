package repository

import (
	"context"
	"errors"

	"github.com/lalith-99/viewify/internal/models"
)

// ErrNotFound is returned by Get/Update/Delete when the target id does not
// exist, typically a stale id after a concurrent delete.
var ErrNotFound = errors.New("not found")

// Order is the sort direction for List.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ListOptions pages through a List call.
//
// Cursor is the id of the last entity of the previous page. Empty means
// start from the beginning.
type ListOptions struct {
	Order  Order
	Limit  int
	Cursor string
}

// EntityStore is the hosted document database, seen as plain CRUD.
//
// Calls are request/response and strongly consistent per call, but two
// calls issued back to back may resolve in either order. Nothing here
// knows about optimistic state; that lives in package reconcile.
type EntityStore interface {
	// Create persists a new entity. The store assigns ID, CreatedAt and
	// UpdatedAt; the returned entity carries them.
	Create(ctx context.Context, e models.Entity) (models.Entity, error)

	// Get returns a single entity or ErrNotFound.
	Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error)

	// List returns entities of one kind matching the filter, ordered by
	// CreatedAt. Returns an empty slice (not nil) when nothing matches.
	List(ctx context.Context, kind models.Kind, filter Filter, opts ListOptions) ([]models.Entity, error)

	// Update applies a patch and returns the stored result.
	Update(ctx context.Context, kind models.Kind, id string, patch models.Patch) (models.Entity, error)

	// Delete removes one entity. It never cascades: deleting a comment
	// leaves its replies in place.
	Delete(ctx context.Context, kind models.Kind, id string) error
}

// UserRepository resolves profile data for display.
type UserRepository interface {
	// GetByID returns nil, nil if the user doesn't exist.
	GetByID(ctx context.Context, id string) (*models.User, error)
}

package repository

import "github.com/lalith-99/viewify/internal/models"

// Filter selects entities of one kind. Zero-valued fields don't constrain.
//
// The same Filter is both the store query and the scope predicate a
// reconciling collection applies to the shared change feed, so an entity a
// List would return is exactly an entity whose events the collection keeps.
type Filter struct {
	PostID      string
	ParentID    string
	RootOnly    bool // parent_id IS NULL
	AuthorID    string
	RecipientID string
	// Participants matches messages between the two users in either
	// direction.
	Participants [2]string
	UnreadOnly   bool
}

// Match reports whether e satisfies every set field of f.
func (f Filter) Match(e models.Entity) bool {
	if f.PostID != "" && e.PostID != f.PostID {
		return false
	}
	if f.ParentID != "" && e.ParentID != f.ParentID {
		return false
	}
	if f.RootOnly && e.ParentID != "" {
		return false
	}
	if f.AuthorID != "" && e.AuthorID != f.AuthorID {
		return false
	}
	if f.RecipientID != "" && e.RecipientID != f.RecipientID {
		return false
	}
	if f.Participants[0] != "" || f.Participants[1] != "" {
		a, b := f.Participants[0], f.Participants[1]
		forward := e.AuthorID == a && e.RecipientID == b
		backward := e.AuthorID == b && e.RecipientID == a
		if !forward && !backward {
			return false
		}
	}
	if f.UnreadOnly && e.Read {
		return false
	}
	return true
}

// Pair builds a Participants filter for a two-party conversation.
func Pair(a, b string) Filter {
	return Filter{Participants: [2]string{a, b}}
}

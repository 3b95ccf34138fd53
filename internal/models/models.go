package models

import (
	"fmt"
	"time"
)

// Kind names the entity type a record belongs to. Each kind maps to one
// collection in the hosted document store and one channel on the change feed.
type Kind string

const (
	KindComment Kind = "comment"
	KindMessage Kind = "message"
	KindFollow  Kind = "follow"
)

// State is where an entity sits in the optimistic lifecycle.
//
//	Pending -> Confirmed -> Tombstoned
//	Pending -> Failed
type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
	StateTombstoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateTombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as a word in JSON instead of an int.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatePending
	case "confirmed":
		*s = StateConfirmed
	case "failed":
		*s = StateFailed
	case "tombstoned":
		*s = StateTombstoned
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// Visible reports whether rows in this state are rendered.
func (s State) Visible() bool {
	return s == StatePending || s == StateConfirmed
}

// Entity is one comment, reply, chat message, or follow edge.
//
// Why one struct for every kind instead of Comment/Message/Follow types?
//   - The reconciliation engine treats all of them the same way: an id,
//     an author, timestamps and a small payload.
//   - Kind-specific fields stay zero for the kinds that don't use them.
//
// Field use per kind:
//
//	comment: PostID, ParentID (empty for top-level), Text
//	message: RecipientID, Text, Read
//	follow:  AuthorID follows RecipientID
type Entity struct {
	ID          string    `json:"id"`
	LocalID     string    `json:"local_id,omitempty"`
	Kind        Kind      `json:"kind"`
	PostID      string    `json:"post_id,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	AuthorID    string    `json:"author_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Text        string    `json:"text"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	State       State     `json:"state"`
}

// Draft is what a user submits before the store has seen it.
type Draft struct {
	Kind        Kind
	PostID      string
	ParentID    string
	AuthorID    string
	RecipientID string
	Text        string
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Text *string `json:"text,omitempty"`
	Read *bool   `json:"read,omitempty"`
}

// Apply returns e with the patch fields written over it.
func (p Patch) Apply(e Entity) Entity {
	if p.Text != nil {
		e.Text = *p.Text
	}
	if p.Read != nil {
		e.Read = *p.Read
	}
	return e
}

// EventType is the CRUD kind of a change event.
type EventType int

const (
	EventCreated EventType = iota + 1
	EventUpdated
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "create"
	case EventUpdated:
		return "update"
	case EventDeleted:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a change observed on the feed, already decoded into a typed entity.
type Event struct {
	Type   EventType
	Entity Entity
}

// User is the slice of a profile the core needs: a display name for
// notifications and conversation lists.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// ConversationSummary is one row of the chat list: who, how many unread,
// and the latest message.
type ConversationSummary struct {
	PeerID        string    `json:"peer_id"`
	PeerName      string    `json:"peer_name"`
	PeerImageURL  string    `json:"peer_image_url"`
	UnreadCount   int       `json:"unread_count"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
}

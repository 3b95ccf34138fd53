package feed

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/lalith-99/viewify/internal/models"
)

// ErrMalformed is returned by Decode for events that can't be turned into
// a typed entity.
var ErrMalformed = errors.New("malformed feed event")

// RawEvent is one message as it travels on the feed.
type RawEvent struct {
	Events  []string       `json:"events"`
	Payload map[string]any `json:"payload"`
}

var collections = map[models.Kind]string{
	models.KindComment: "comments",
	models.KindMessage: "messages",
	models.KindFollow:  "follows",
}

// Channel is the feed channel carrying every change to one kind.
func Channel(db string, kind models.Kind) string {
	return fmt.Sprintf("databases.%s.collections.%s.documents", db, collections[kind])
}

// document is the payload shape of the hosted document store. Field names
// differ per collection; toEntity folds them onto models.Entity.
type document struct {
	ID        string    `mapstructure:"$id"`
	CreatedAt time.Time `mapstructure:"$createdAt"`
	UpdatedAt time.Time `mapstructure:"$updatedAt"`

	PostID   string `mapstructure:"postId"`
	ParentID string `mapstructure:"parentId"`
	UserID   string `mapstructure:"userId"`
	Content  string `mapstructure:"content"`

	SenderID   string `mapstructure:"senderId"`
	ReceiverID string `mapstructure:"receiverId"`
	Message    string `mapstructure:"message"`
	Read       bool   `mapstructure:"read"`

	FollowerID string `mapstructure:"followerId"`
	FollowedID string `mapstructure:"followedId"`
}

// Decode turns a raw event into a typed one. The CRUD kind is read off the
// event strings by substring, the payload through mapstructure.
func Decode(kind models.Kind, raw RawEvent) (models.Event, error) {
	typ := eventType(raw.Events)
	if typ == 0 {
		return models.Event{}, fmt.Errorf("%w: no crud kind in %v", ErrMalformed, raw.Events)
	}

	var doc document
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return models.Event{}, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(raw.Payload); err != nil {
		return models.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.ID == "" {
		return models.Event{}, fmt.Errorf("%w: payload has no $id", ErrMalformed)
	}

	return models.Event{Type: typ, Entity: doc.toEntity(kind)}, nil
}

func eventType(events []string) models.EventType {
	for _, ev := range events {
		switch {
		case strings.Contains(ev, "delete"):
			return models.EventDeleted
		case strings.Contains(ev, "update"):
			return models.EventUpdated
		case strings.Contains(ev, "create"):
			return models.EventCreated
		}
	}
	return 0
}

func (d document) toEntity(kind models.Kind) models.Entity {
	e := models.Entity{
		ID:        d.ID,
		Kind:      kind,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		State:     models.StateConfirmed,
	}
	switch kind {
	case models.KindComment:
		e.PostID, e.ParentID = d.PostID, d.ParentID
		e.AuthorID, e.Text = d.UserID, d.Content
	case models.KindMessage:
		e.AuthorID, e.RecipientID = d.SenderID, d.ReceiverID
		e.Text, e.Read = d.Message, d.Read
	case models.KindFollow:
		e.AuthorID, e.RecipientID = d.FollowerID, d.FollowedID
	}
	return e
}

// Encode is the inverse of Decode.
func Encode(db string, typ models.EventType, e models.Entity) RawEvent {
	p := map[string]any{
		"$id":        e.ID,
		"$createdAt": e.CreatedAt.Format(time.RFC3339Nano),
		"$updatedAt": e.UpdatedAt.Format(time.RFC3339Nano),
	}
	switch e.Kind {
	case models.KindComment:
		p["postId"] = e.PostID
		p["userId"] = e.AuthorID
		p["content"] = e.Text
		if e.ParentID != "" {
			p["parentId"] = e.ParentID
		} else {
			p["parentId"] = nil
		}
	case models.KindMessage:
		p["senderId"] = e.AuthorID
		p["receiverId"] = e.RecipientID
		p["message"] = e.Text
		p["read"] = e.Read
	case models.KindFollow:
		p["followerId"] = e.AuthorID
		p["followedId"] = e.RecipientID
	}

	base := Channel(db, e.Kind)
	return RawEvent{
		Events: []string{
			fmt.Sprintf("%s.%s.%s", base, e.ID, typ),
			fmt.Sprintf("%s.*.%s", base, typ),
		},
		Payload: p,
	}
}

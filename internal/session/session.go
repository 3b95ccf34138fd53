package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/commenttree"
	"github.com/lalith-99/viewify/internal/follow"
	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/notify"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
)

// ErrClosed is returned by every call on a session after Close.
var ErrClosed = errors.New("session closed")

const updateBuffer = 64

// UpdateType says which view an Update refreshes.
type UpdateType string

const (
	UpdateComments     UpdateType = "comments"
	UpdateMessages     UpdateType = "messages"
	UpdateFollows      UpdateType = "follows"
	UpdateNotification UpdateType = "notification"
	UpdateOverlay      UpdateType = "overlay"
)

// Update is one push to the client. Key is the post id for comments and
// the peer id for messages.
type Update struct {
	Type    UpdateType `json:"type"`
	Key     string     `json:"key,omitempty"`
	Payload any        `json:"payload"`
}

// Overlay is the state of the chat overlay.
type Overlay struct {
	Open   bool   `json:"open"`
	PeerID string `json:"peer_id,omitempty"`
}

// Recorder tracks how many sessions are open.
type Recorder interface {
	SessionOpened()
	SessionClosed()
}

type nopRecorder struct{}

func (nopRecorder) SessionOpened() {}
func (nopRecorder) SessionClosed() {}

// Deps is what every session of a process shares.
type Deps struct {
	Store    repository.EntityStore
	Users    repository.UserRepository
	Feed     reconcile.Subscriber
	Options  reconcile.Options
	Logger   *zap.Logger
	Recorder Recorder
}

// Session is everything one signed-in user has open: comment trees,
// conversations, the follow set, the chat overlay and incoming-message
// notifications. It exists from first authenticated request until sign-out.
type Session struct {
	id     string
	userID string
	deps   Deps
	log    *zap.Logger

	notifier *notify.Notifier
	updates  chan Update

	mu        sync.Mutex
	overlay   Overlay
	trees     map[string]*commenttree.Tree
	timelines map[string]*timelineEntry
	following *follow.Following
	closed    bool
}

// New starts a session for userID and subscribes its notifier.
func New(ctx context.Context, userID string, deps Deps) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", reconcile.ErrInvalidInput)
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	id := uuid.NewString()
	log := observ.OrNop(deps.Logger).With(zap.String("session_id", id), zap.String("user_id", userID))
	deps.Options.Logger = log

	s := &Session{
		id:        id,
		userID:    userID,
		deps:      deps,
		log:       log,
		updates:   make(chan Update, updateBuffer),
		trees:     make(map[string]*commenttree.Tree),
		timelines: make(map[string]*timelineEntry),
	}
	s.notifier = notify.New(userID, deps.Users, log, func(n notify.Notification) {
		s.push(Update{Type: UpdateNotification, Key: n.SenderID, Payload: n})
	})
	if deps.Feed != nil {
		if err := s.notifier.Start(ctx, deps.Feed); err != nil {
			return nil, fmt.Errorf("start notifier: %w", err)
		}
	}

	deps.Recorder.SessionOpened()
	log.Info("session opened")
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Updates streams view changes. It is closed by Close. Updates are
// dropped, not queued, when the reader falls behind.
func (s *Session) Updates() <-chan Update { return s.updates }

// Close tears down every open view and feed subscription.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	trees := s.trees
	timelines := s.timelines
	following := s.following
	s.trees = nil
	s.timelines = nil
	s.following = nil
	close(s.updates)
	s.mu.Unlock()

	s.notifier.Stop()
	for _, t := range trees {
		t.Close()
	}
	for _, e := range timelines {
		e.stop()
		e.tl.Close()
	}
	if following != nil {
		following.Close()
	}
	s.deps.Recorder.SessionClosed()
	s.log.Info("session closed")
}

// push must never block: it runs on feed and store goroutines.
func (s *Session) push(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- u:
	default:
		s.log.Debug("update dropped", zap.String("type", string(u.Type)), zap.String("key", u.Key))
	}
}

// Post returns the comment tree of postID, loading it on first use.
func (s *Session) Post(ctx context.Context, postID string) (*commenttree.Tree, error) {
	if postID == "" {
		return nil, fmt.Errorf("%w: post is required", reconcile.ErrInvalidInput)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if t, ok := s.trees[postID]; ok {
		s.mu.Unlock()
		return t, nil
	}
	t := commenttree.New(postID, s.deps.Store, s.deps.Feed, s.deps.Options)
	s.trees[postID] = t
	s.mu.Unlock()

	t.OnChange(func(nodes []*commenttree.Node) {
		s.push(Update{Type: UpdateComments, Key: postID, Payload: nodes})
	})
	if err := t.Load(ctx); err != nil {
		s.ClosePost(postID)
		return nil, err
	}
	return t, nil
}

// ClosePost drops the tree of postID and its subscriptions.
func (s *Session) ClosePost(postID string) {
	s.mu.Lock()
	t, ok := s.trees[postID]
	if ok {
		delete(s.trees, postID)
	}
	s.mu.Unlock()
	if ok {
		t.Close()
	}
}

// Following returns the user's follow set, loading it on first use.
func (s *Session) Following(ctx context.Context) (*follow.Following, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.following != nil {
		f := s.following
		s.mu.Unlock()
		return f, nil
	}
	f := follow.New(s.userID, s.deps.Store, s.deps.Feed, s.deps.Options)
	s.following = f
	s.mu.Unlock()

	f.OnChange(func(list []models.Entity) {
		ids := make([]string, 0, len(list))
		for _, e := range list {
			ids = append(ids, e.RecipientID)
		}
		s.push(Update{Type: UpdateFollows, Payload: ids})
	})
	if err := f.Load(ctx); err != nil {
		s.mu.Lock()
		if s.following == f {
			s.following = nil
		}
		s.mu.Unlock()
		f.Close()
		return nil, err
	}
	return f, nil
}

package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/observ"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/repository"
)

const unknownSender = "Someone"

// seenTTL is how long a message id is remembered for dropping redeliveries.
const seenTTL = 10 * time.Minute

// Notification tells the user a message arrived.
type Notification struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

// Notifier watches the message feed for messages addressed to one user.
type Notifier struct {
	userID string
	users  repository.UserRepository
	log    *zap.Logger
	emit   func(Notification)

	mu    sync.Mutex
	seen  map[string]time.Time // id -> expiry
	unsub func()
	now   func() time.Time
}

// New builds a notifier for userID. emit is called once per message, from
// the feed goroutine, so it must not block for long.
func New(userID string, users repository.UserRepository, log *zap.Logger, emit func(Notification)) *Notifier {
	return &Notifier{
		userID: userID,
		users:  users,
		log:    observ.OrNop(log).With(zap.String("user_id", userID)),
		emit:   emit,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Start subscribes to the feed. Calling it twice is a no-op.
func (n *Notifier) Start(ctx context.Context, sub reconcile.Subscriber) error {
	n.mu.Lock()
	if n.unsub != nil {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	unsub, err := sub.Subscribe(ctx, models.KindMessage, n.addressed, n.Handle)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unsub != nil {
		unsub()
		return nil
	}
	n.unsub = unsub
	return nil
}

// Handle turns a message event into a notification when it is a new
// message to this user from someone else. Redelivered events are dropped.
func (n *Notifier) Handle(ev models.Event) {
	m := ev.Entity
	if ev.Type != models.EventCreated || !n.addressed(m) || m.AuthorID == n.userID {
		return
	}

	if n.seenOnce(m.ID) {
		return
	}

	n.emit(Notification{
		MessageID:  m.ID,
		SenderID:   m.AuthorID,
		SenderName: n.senderName(m.AuthorID),
		Text:       m.Text,
		At:         m.CreatedAt,
	})
}

// seenOnce reports whether id was handled within seenTTL, and remembers it
// otherwise. Expired ids are swept on the way.
func (n *Notifier) seenOnce(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if exp, ok := n.seen[id]; ok && now.Before(exp) {
		return true
	}
	for k, exp := range n.seen {
		if !now.Before(exp) {
			delete(n.seen, k)
		}
	}
	n.seen[id] = now.Add(seenTTL)
	return false
}

func (n *Notifier) Stop() {
	n.mu.Lock()
	unsub := n.unsub
	n.unsub = nil
	n.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (n *Notifier) addressed(m models.Entity) bool {
	return m.RecipientID == n.userID
}

func (n *Notifier) senderName(id string) string {
	if n.users == nil {
		return unknownSender
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := n.users.GetByID(ctx, id)
	if err != nil {
		n.log.Warn("resolve sender", zap.String("sender_id", id), zap.Error(err))
		return unknownSender
	}
	if u == nil || u.Name == "" {
		return unknownSender
	}
	return u.Name
}

package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/reconcile"
	"github.com/lalith-99/viewify/internal/timeline"
)

type timelineEntry struct {
	tl   *timeline.Timeline
	stop func()
}

// Chat returns the conversation with peerID, loading it on first use.
func (s *Session) Chat(ctx context.Context, peerID string) (*timeline.Timeline, error) {
	if peerID == "" || peerID == s.userID {
		return nil, fmt.Errorf("%w: cannot chat with %q", reconcile.ErrInvalidInput, peerID)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := s.timelines[peerID]; ok {
		s.mu.Unlock()
		return e.tl, nil
	}
	tl := timeline.New(s.userID, peerID, s.deps.Store, s.deps.Feed, s.deps.Options)
	stop := tl.OnChange(func(list []models.Entity) {
		s.push(Update{Type: UpdateMessages, Key: peerID, Payload: list})
		if s.viewing(peerID) && unreadFrom(list, peerID) {
			// Listeners can't write to the collection they observe.
			go s.markRead(peerID)
		}
	})
	s.timelines[peerID] = &timelineEntry{tl: tl, stop: stop}
	s.mu.Unlock()

	if err := tl.Load(ctx); err != nil {
		s.CloseChat(peerID)
		return nil, err
	}
	return tl, nil
}

// CloseChat drops the conversation with peerID. Closing the chat the
// overlay shows also hides the overlay.
func (s *Session) CloseChat(peerID string) {
	s.mu.Lock()
	e, ok := s.timelines[peerID]
	if ok {
		delete(s.timelines, peerID)
	}
	if s.overlay.PeerID == peerID {
		s.overlay = Overlay{}
	}
	s.mu.Unlock()
	if ok {
		if e.stop != nil {
			e.stop()
		}
		e.tl.Close()
	}
}

// OpenOverlay shows the chat overlay on peerID's conversation and marks
// what they sent as read. Messages arriving while it stays open are marked
// read too.
func (s *Session) OpenOverlay(ctx context.Context, peerID string) (*timeline.Timeline, error) {
	tl, err := s.Chat(ctx, peerID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.overlay = Overlay{Open: true, PeerID: peerID}
	ov := s.overlay
	s.mu.Unlock()
	s.push(Update{Type: UpdateOverlay, Payload: ov})

	if _, err := tl.MarkRead(ctx, peerID); err != nil {
		return tl, err
	}
	return tl, nil
}

// CloseOverlay hides the overlay. The conversation stays loaded.
func (s *Session) CloseOverlay() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.overlay = Overlay{}
	s.mu.Unlock()
	s.push(Update{Type: UpdateOverlay, Payload: Overlay{}})
}

func (s *Session) Overlay() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

// Conversations lists the user's chats, newest first.
func (s *Session) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	return timeline.Summaries(ctx, s.deps.Store, s.deps.Users, s.userID)
}

func (s *Session) viewing(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.overlay.Open && s.overlay.PeerID == peerID
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markRead(peerID string) {
	s.mu.Lock()
	e, ok := s.timelines[peerID]
	viewing := ok && !s.closed && s.overlay.Open && s.overlay.PeerID == peerID
	s.mu.Unlock()
	if !viewing {
		return
	}
	if _, err := e.tl.MarkRead(context.Background(), peerID); err != nil && !errors.Is(err, reconcile.ErrUnmounted) {
		s.log.Warn("mark read", zap.String("peer_id", peerID), zap.Error(err))
	}
}

func unreadFrom(list []models.Entity, peerID string) bool {
	for _, m := range list {
		if m.AuthorID == peerID && !m.Read && m.State == models.StateConfirmed {
			return true
		}
	}
	return false
}

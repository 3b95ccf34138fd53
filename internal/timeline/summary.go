package timeline

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/repository"
)

const unknownUser = "Unknown User"

// Summaries builds the chat list for me: one row per peer with the unread
// count and the latest message, newest conversation first.
func Summaries(ctx context.Context, store repository.EntityStore, users repository.UserRepository, me string) ([]models.ConversationSummary, error) {
	var sent, received []models.Entity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sent, err = store.List(gctx, models.KindMessage, repository.Filter{AuthorID: me}, repository.ListOptions{Order: repository.OrderAsc})
		return err
	})
	g.Go(func() (err error) {
		received, err = store.List(gctx, models.KindMessage, repository.Filter{RecipientID: me}, repository.ListOptions{Order: repository.OrderAsc})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	byPeer := make(map[string]*models.ConversationSummary)
	add := func(m models.Entity, peer string) {
		s := byPeer[peer]
		if s == nil {
			s = &models.ConversationSummary{PeerID: peer}
			byPeer[peer] = s
		}
		if m.RecipientID == me && m.AuthorID != me && !m.Read {
			s.UnreadCount++
		}
		if !m.CreatedAt.Before(s.LastMessageAt) {
			s.LastMessage = m.Text
			s.LastMessageAt = m.CreatedAt
		}
	}
	for _, m := range sent {
		add(m, m.RecipientID)
	}
	for _, m := range received {
		if m.AuthorID == me {
			continue // already counted as sent
		}
		add(m, m.AuthorID)
	}

	out := make([]models.ConversationSummary, 0, len(byPeer))
	for _, s := range byPeer {
		out = append(out, *s)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range out {
		g.Go(func() error {
			u, err := users.GetByID(gctx, out[i].PeerID)
			if err != nil {
				return fmt.Errorf("get user %s: %w", out[i].PeerID, err)
			}
			if u == nil {
				out[i].PeerName = unknownUser
				return nil
			}
			out[i].PeerName = u.Name
			out[i].PeerImageURL = u.ImageURL
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b models.ConversationSummary) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
	return out, nil
}

// Package consumer applies post events to the search engine.
package consumer

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/events"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/index"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/eventbus"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// Indexer is the part of the engine the consumer drives.
type Indexer interface {
	Index(ctx context.Context, doc index.Document) error
	Remove(ctx context.Context, postID string) error
}

var _ Indexer = (*search.Engine)(nil)

// Subscribe binds the search group to post.created and post.deleted.
func Subscribe(ctx context.Context, bus eventbus.Bus, idx Indexer) error {
	subs := []eventbus.Subscription{
		{Pattern: events.PostCreated, Group: events.GroupSearch, Handler: HandlePostCreated(idx)},
		{Pattern: events.PostDeleted, Group: events.GroupSearch, Handler: HandlePostDeleted(idx)},
	}
	for _, s := range subs {
		if err := bus.Subscribe(ctx, s); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.Pattern, err)
		}
	}
	return nil
}

// HandlePostCreated upserts the post's document.
func HandlePostCreated(idx Indexer) eventbus.Handler {
	log := logger.WithComponent("search-consumer")
	return func(ctx context.Context, ev eventbus.Event) error {
		p, err := eventbus.Decode[events.PostCreatedPayload](ev)
		if err != nil {
			return err
		}
		if p.PostID == "" {
			return eventbus.Permanent(fmt.Errorf("event %s: missing post id", ev.ID))
		}
		if err := idx.Index(ctx, index.Document{
			PostID:    p.PostID,
			UserID:    p.UserID,
			Content:   p.Content,
			CreatedAt: p.CreatedAt,
		}); err != nil {
			return fmt.Errorf("indexing post %s: %w", p.PostID, err)
		}
		log.Debug("post indexed", "post_id", p.PostID, "event_id", ev.ID)
		return nil
	}
}

// HandlePostDeleted removes the post's document; an absent one is fine.
func HandlePostDeleted(idx Indexer) eventbus.Handler {
	log := logger.WithComponent("search-consumer")
	return func(ctx context.Context, ev eventbus.Event) error {
		p, err := eventbus.Decode[events.PostDeletedPayload](ev)
		if err != nil {
			return err
		}
		if p.PostID == "" {
			return eventbus.Permanent(fmt.Errorf("event %s: missing post id", ev.ID))
		}
		if err := idx.Remove(ctx, p.PostID); err != nil {
			return fmt.Errorf("removing post %s: %w", p.PostID, err)
		}
		log.Debug("post removed from index", "post_id", p.PostID, "event_id", ev.ID)
		return nil
	}
}

package media

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/events"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/eventbus"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// Subscribe binds the media group to post deletions.
func Subscribe(ctx context.Context, bus eventbus.Bus, svc *Service) error {
	return bus.Subscribe(ctx, eventbus.Subscription{
		Pattern: events.PostDeleted,
		Group:   events.GroupMedia,
		Handler: PostDeletedHandler(svc),
	})
}

// PostDeletedHandler removes the media attached to a deleted post. Only
// media owned by the post's author is touched, and media already removed
// counts as done, so redelivery is harmless.
func PostDeletedHandler(svc *Service) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.Event) error {
		p, err := eventbus.Decode[events.PostDeletedPayload](ev)
		if err != nil {
			return err
		}
		n, err := svc.DeleteOwned(ctx, p.UserID, p.MediaIDs)
		if err != nil {
			return err
		}
		logger.WithComponent("media-events").Info("media removed for deleted post",
			"post_id", p.PostID, "event_id", ev.ID, "removed", n)
		return nil
	}
}

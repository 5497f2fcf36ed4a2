package post

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/events"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/validate"
)

const (
	maxContentLength = 5000
	maxMediaPerPost  = 10
	defaultPageSize  = 10
	maxPageSize      = 50

	afterCommitTimeout = 10 * time.Second
)

// PublishWarning is reported to the caller when the change was committed
// but its event could not be handed to the broker.
const PublishWarning = "Post saved, but downstream services may update late"

// Publisher is the part of the event bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// CreateInput is the create-post request body.
type CreateInput struct {
	Content  string   `json:"content"`
	MediaIDs []string `json:"mediaIds"`
}

// Page is one page of the post listing.
type Page struct {
	Posts       []Post `json:"posts"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	TotalPosts  int    `json:"totalPosts"`
}

// Service implements the post operations.
type Service struct {
	store  Store
	events Publisher
	pages  *cache.Cache[Page]
	posts  *cache.Cache[Post]
	logger *slog.Logger
}

// NewService wires the service. pages and posts may be built over a nil
// Redis client to disable caching.
func NewService(store Store, events Publisher, pages *cache.Cache[Page], posts *cache.Cache[Post]) *Service {
	return &Service{
		store:  store,
		events: events,
		pages:  pages,
		posts:  posts,
		logger: slog.Default().With("component", "post-service"),
	}
}

// Create stores a post and publishes post.created. A publish failure is
// returned as a warning; the post stays committed.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Post, string, error) {
	var c validate.Collector
	c.Length("content", in.Content, 1, maxContentLength)
	if len(in.MediaIDs) > maxMediaPerPost {
		c.Fail("mediaIds", "at most "+strconv.Itoa(maxMediaPerPost)+" media items per post")
	}
	for _, id := range in.MediaIDs {
		if _, err := uuid.Parse(id); err != nil {
			c.Fail("mediaIds", "media ids must be UUIDs")
			break
		}
	}
	if err := c.Err(); err != nil {
		return nil, "", err
	}

	p := &Post{
		ID:       uuid.NewString(),
		UserID:   userID,
		Content:  strings.TrimSpace(in.Content),
		MediaIDs: in.MediaIDs,
	}
	if p.MediaIDs == nil {
		p.MediaIDs = []string{}
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, "", err
	}
	ctx, cancel := afterCommit(ctx)
	defer cancel()
	s.invalidate(ctx, "")
	s.logger.Info("post created", "post_id", p.ID, "user_id", userID)

	warning := s.publish(ctx, events.PostCreated, events.PostCreatedPayload{
		PostID:    p.ID,
		UserID:    p.UserID,
		Content:   p.Content,
		MediaIDs:  p.MediaIDs,
		CreatedAt: p.CreatedAt,
	})
	return p, warning, nil
}

// List returns page (1-based) of size limit.
func (s *Service) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	key := s.pages.Key(strconv.Itoa(page), strconv.Itoa(limit))
	res, _, err := s.pages.GetOrCompute(ctx, key, func(ctx context.Context) (Page, error) {
		posts, total, err := s.store.List(ctx, (page-1)*limit, limit)
		if err != nil {
			return Page{}, err
		}
		return Page{
			Posts:       posts,
			CurrentPage: page,
			TotalPages:  (total + limit - 1) / limit,
			TotalPosts:  total,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns one post.
func (s *Service) Get(ctx context.Context, id string) (*Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "Post not found")
	}
	p, _, err := s.posts.GetOrCompute(ctx, s.posts.Key(id), func(ctx context.Context) (Post, error) {
		p, err := s.store.Get(ctx, id)
		if err != nil {
			return Post{}, err
		}
		return *p, nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "Post not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes a post owned by userID and publishes post.deleted with
// its media ids so the media service can clean up.
func (s *Service) Delete(ctx context.Context, userID, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "Post not found")
	}
	p, err := s.store.Delete(ctx, id, userID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "", apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "Post not found")
	case errors.Is(err, apperrors.ErrForbidden):
		s.logger.Warn("delete by non-owner", "post_id", id, "user_id", userID)
		return "", apperrors.New(apperrors.ErrForbidden, http.StatusForbidden, "You can only delete your own posts")
	case err != nil:
		return "", err
	}
	ctx, cancel := afterCommit(ctx)
	defer cancel()
	s.invalidate(ctx, id)
	s.logger.Info("post deleted", "post_id", id, "user_id", userID)

	return s.publish(ctx, events.PostDeleted, events.PostDeletedPayload{
		PostID:   p.ID,
		UserID:   p.UserID,
		MediaIDs: p.MediaIDs,
	}), nil
}

// afterCommit detaches ctx from the caller's cancellation. Once a row is
// committed its cache invalidation and event go out even if the client
// has disconnected.
func afterCommit(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
}

func (s *Service) publish(ctx context.Context, topic string, payload any) string {
	if err := s.events.Publish(ctx, topic, payload); err != nil {
		s.logger.Error("event publish failed after commit", "topic", topic, "error", err)
		return PublishWarning
	}
	return ""
}

func (s *Service) invalidate(ctx context.Context, postID string) {
	if err := s.pages.Invalidate(ctx); err != nil {
		s.logger.Warn("post list cache invalidation failed", "error", err)
	}
	if postID != "" {
		if err := s.posts.Delete(ctx, s.posts.Key(postID)); err != nil {
			s.logger.Warn("post cache invalidation failed", "post_id", postID, "error", err)
		}
	}
}

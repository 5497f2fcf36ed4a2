package post

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/events"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/cache"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/redis"
)

type memStore struct {
	mu    sync.Mutex
	posts map[string]Post
}

func newMemStore() *memStore { return &memStore{posts: make(map[string]Post)} }

func (m *memStore) Create(_ context.Context, p *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now().UTC()
	m.posts[p.ID] = *p
	return nil
}

func (m *memStore) List(_ context.Context, offset, limit int) ([]Post, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Post, 0, len(m.posts))
	for _, p := range m.posts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *memStore) Get(_ context.Context, id string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) Delete(_ context.Context, id, userID string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if p.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	delete(m.posts, id)
	return &p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	last   any
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	r.last = payload
	return nil
}

func newService(pub Publisher, client *pkgredis.Client) (*Service, *memStore) {
	st := newMemStore()
	return NewService(st, pub,
		cache.New[Page](client, "posts", time.Minute, nil),
		cache.New[Post](client, "post", time.Minute, nil),
	), st
}

func TestCreatePublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(pub, nil)
	media := "0b5e5a43-0f35-4c57-8b5e-6f0e0b6d5a11"

	p, warning, err := svc.Create(context.Background(), "u1", CreateInput{Content: " hello world ", MediaIDs: []string{media}})
	if err != nil || warning != "" {
		t.Fatalf("create: %v %q", err, warning)
	}
	if p.Content != "hello world" {
		t.Errorf("content not trimmed: %q", p.Content)
	}
	if len(pub.topics) != 1 || pub.topics[0] != events.PostCreated {
		t.Fatalf("unexpected topics %v", pub.topics)
	}
	payload := pub.last.(events.PostCreatedPayload)
	if payload.PostID != p.ID || payload.UserID != "u1" || payload.MediaIDs[0] != media {
		t.Errorf("payload must be self-sufficient: %+v", payload)
	}
}

func TestPublishFailureIsWarningNotRollback(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, st := newService(pub, nil)

	p, warning, err := svc.Create(context.Background(), "u1", CreateInput{Content: "still saved"})
	if err != nil {
		t.Fatalf("publish failure must not fail the request: %v", err)
	}
	if warning != PublishWarning {
		t.Errorf("expected warning, got %q", warning)
	}
	if _, err := st.Get(context.Background(), p.ID); err != nil {
		t.Error("post must stay committed")
	}
}

func TestCommittedChangesPublishAfterClientCancel(t *testing.T) {
	pub := &recordingPublisher{}
	svc, st := newService(pub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, warning, err := svc.Create(ctx, "u1", CreateInput{Content: "hello"})
	if err != nil || warning != "" {
		t.Fatalf("create with cancelled context: %v %q", err, warning)
	}
	warning, err = svc.Delete(ctx, "u1", p.ID)
	if err != nil || warning != "" {
		t.Fatalf("delete with cancelled context: %v %q", err, warning)
	}
	if len(pub.topics) != 2 || pub.topics[0] != events.PostCreated || pub.topics[1] != events.PostDeleted {
		t.Errorf("both events must be published, got %v", pub.topics)
	}
	if _, err := st.Get(context.Background(), p.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("post should be gone, got %v", err)
	}
}

func TestDeleteOwnership(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(pub, nil)
	ctx := context.Background()
	p, _, _ := svc.Create(ctx, "owner", CreateInput{Content: "mine"})

	_, err := svc.Delete(ctx, "intruder", p.ID)
	if apperrors.HTTPStatusCode(err) != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
	if _, err := svc.Delete(ctx, "owner", p.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if pub.topics[len(pub.topics)-1] != events.PostDeleted {
		t.Errorf("expected post.deleted, got %v", pub.topics)
	}
	_, err = svc.Delete(ctx, "owner", p.ID)
	if apperrors.HTTPStatusCode(err) != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %v", err)
	}
	if _, err := svc.Get(ctx, "not-a-uuid"); apperrors.HTTPStatusCode(err) != http.StatusNotFound {
		t.Errorf("malformed id: expected 404, got %v", err)
	}
}

func TestListCacheInvalidatedOnCreate(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	svc, _ := newService(&recordingPublisher{}, client)
	ctx := context.Background()

	svc.Create(ctx, "u1", CreateInput{Content: "first"})
	page, err := svc.List(ctx, 1, 10)
	if err != nil || page.TotalPosts != 1 {
		t.Fatalf("list: %v %+v", err, page)
	}
	svc.Create(ctx, "u1", CreateInput{Content: "second"})
	page, _ = svc.List(ctx, 1, 10)
	if page.TotalPosts != 2 || len(page.Posts) != 2 {
		t.Errorf("stale list after create: %+v", page)
	}
}

func TestHandlerRequiresUser(t *testing.T) {
	svc, _ := newService(&recordingPublisher{}, nil)
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	srv := pkgmw.TrustedUser(nil)(mux)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/posts/all-posts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/posts/create-post", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set(pkgmw.UserIDHeader, "u9")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var body struct {
		Success bool `json:"success"`
		Post    Post `json:"post"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if !body.Success || body.Post.UserID != "u9" {
		t.Errorf("unexpected body %+v", body)
	}

	req = httptest.NewRequest("GET", "/api/posts/"+body.Post.ID, nil)
	req.Header.Set(pkgmw.UserIDHeader, "u9")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("get: %d", rec.Code)
	}
}

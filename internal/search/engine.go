// Package search keeps a BM25 full-text index of posts in sync with post
// events and answers text queries against it.
package search

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/index"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/query"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/cache"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
)

// Result is the answer to one query.
type Result struct {
	Query     string      `json:"query"`
	TotalHits int         `json:"totalHits"`
	Results   []query.Hit `json:"results"`
	TookMs    int64       `json:"tookMs"`
}

// Engine owns the in-memory index, its durable store and the query cache.
type Engine struct {
	index   *index.Index
	store   Store
	cache   *cache.Cache[Result]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEngine wires an engine. store and results may be nil.
func NewEngine(store Store, results *cache.Cache[Result], m *metrics.Metrics) *Engine {
	if results == nil {
		results = cache.New[Result](nil, "search", 0, m)
	}
	return &Engine{
		index:   index.New(),
		store:   store,
		cache:   results,
		metrics: m,
		logger:  logger.WithComponent("search-engine"),
	}
}

// Load rebuilds the index from the store.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	docs, err := e.store.All(ctx)
	if err != nil {
		return err
	}
	e.index.Reset()
	for _, d := range docs {
		e.index.Upsert(d)
	}
	e.logger.Info("search index loaded", "documents", len(docs))
	return nil
}

// Index adds or replaces doc. Applying the same document twice leaves one
// copy.
func (e *Engine) Index(ctx context.Context, doc index.Document) error {
	if e.store != nil {
		if err := e.store.Upsert(ctx, doc); err != nil {
			return err
		}
	}
	e.index.Upsert(doc)
	e.invalidate(ctx)
	return nil
}

// Remove deletes postID. A missing document is not an error.
func (e *Engine) Remove(ctx context.Context, postID string) error {
	if e.store != nil {
		if err := e.store.Delete(ctx, postID); err != nil {
			return err
		}
	}
	if e.index.Delete(postID) {
		e.invalidate(ctx)
	}
	return nil
}

// Search runs raw against the index, serving repeated queries from cache.
func (e *Engine) Search(ctx context.Context, raw string, limit int) (*Result, bool, error) {
	start := time.Now()
	plan := query.Parse(raw)
	if plan.Empty() {
		e.count("zero_result")
		return &Result{Query: raw, Results: []query.Hit{}}, false, nil
	}

	res, hit, err := e.cache.GetOrCompute(ctx, e.cache.Key(raw, strconv.Itoa(limit)), func(context.Context) (Result, error) {
		hits, total := query.Execute(e.index, plan, limit)
		return Result{Query: raw, TotalHits: total, Results: hits}, nil
	})
	if err != nil {
		e.count("error")
		return nil, false, err
	}
	res.TookMs = time.Since(start).Milliseconds()
	switch {
	case res.TotalHits == 0:
		e.count("zero_result")
	case hit:
		e.count("hit")
	default:
		e.count("miss")
	}
	return &res, hit, nil
}

// Len returns the number of indexed documents.
func (e *Engine) Len() int { return e.index.Len() }

func (e *Engine) invalidate(ctx context.Context) {
	if err := e.cache.Invalidate(ctx); err != nil {
		e.logger.Warn("query cache invalidation failed", "error", err)
	}
}

func (e *Engine) count(resultType string) {
	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

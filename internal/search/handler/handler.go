// Package handler exposes the search engine over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/httpx"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
)

// Searcher answers text queries.
type Searcher interface {
	Search(ctx context.Context, raw string, limit int) (*search.Result, bool, error)
}

type Handler struct {
	searcher     Searcher
	defaultLimit int
	maxResults   int
}

func New(s Searcher, defaultLimit, maxResults int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if maxResults < defaultLimit {
		maxResults = defaultLimit
	}
	return &Handler{searcher: s, defaultLimit: defaultLimit, maxResults: maxResults}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/search/posts", pkgmw.RequireUser(http.HandlerFunc(h.search)))
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := strings.TrimSpace(r.URL.Query().Get("query"))
	if q == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Query parameter 'query' is required")
		return
	}

	limit := h.defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, h.maxResults)
	}

	res, cacheHit, err := h.searcher.Search(ctx, q, limit)
	if err != nil {
		logger.FromContext(ctx).Error("search failed", "query", q, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error while searching post")
		return
	}
	logger.FromContext(ctx).Info("search completed",
		"query", q,
		"total_hits", res.TotalHits,
		"returned", len(res.Results),
		"cache_hit", cacheHit,
		"latency_ms", res.TookMs,
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"query":     res.Query,
		"totalHits": res.TotalHits,
		"results":   res.Results,
	})
}

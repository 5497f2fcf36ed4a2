package post

import (
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/httpx"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the post routes. Every route requires a user id
// asserted by the gateway.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/posts/create-post", pkgmw.RequireUser(http.HandlerFunc(h.create)))
	mux.Handle("GET /api/posts/all-posts", pkgmw.RequireUser(http.HandlerFunc(h.list)))
	mux.Handle("GET /api/posts/{id}", pkgmw.RequireUser(http.HandlerFunc(h.get)))
	mux.Handle("DELETE /api/posts/{id}", pkgmw.RequireUser(http.HandlerFunc(h.delete)))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	p, warning, err := h.svc.Create(r.Context(), pkgmw.UserID(r.Context()), in)
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	resp := map[string]any{
		"success": true,
		"message": "Post created successfully",
		"post":    p,
	}
	if warning != "" {
		resp["warning"] = warning
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := h.svc.List(r.Context(), page, limit)
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	warning, err := h.svc.Delete(r.Context(), pkgmw.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	resp := map[string]any{
		"success": true,
		"message": "Post deleted successfully",
	}
	if warning != "" {
		resp["warning"] = warning
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

package identity

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/httpx"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// Handler exposes the service over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the auth routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.register)
	mux.HandleFunc("POST /api/auth/login", h.login)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context()).Info("registration endpoint hit")
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	sess, err := h.svc.Register(r.Context(), in)
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "User registered successfully!",
		"userId":      sess.UserID,
		"accessToken": sess.AccessToken,
		"expiresAt":   sess.ExpiresAt,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	sess, err := h.svc.Login(r.Context(), in)
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"userId":      sess.UserID,
		"accessToken": sess.AccessToken,
		"expiresAt":   sess.ExpiresAt,
	})
}

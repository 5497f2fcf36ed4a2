package media

import (
	"errors"
	"io"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/httpx"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
)

type Handler struct {
	svc   *Service
	field string
}

// NewHandler serves uploads read from the multipart field named field.
func NewHandler(svc *Service, field string) *Handler {
	if field == "" {
		field = "file"
	}
	return &Handler{svc: svc, field: field}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/media/upload", pkgmw.RequireUser(http.HandlerFunc(h.upload)))
	mux.Handle("GET /api/media/get", pkgmw.RequireUser(http.HandlerFunc(h.list)))
}

// upload streams the first part named h.field into the service. The
// request body is never parsed into memory as a whole.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		httpx.WriteErr(w, r, errNoFile)
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			httpx.WriteErr(w, r, errNoFile)
			return
		}
		if err != nil {
			httpx.WriteErr(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Malformed multipart body"))
			return
		}
		if part.FormName() != h.field || part.FileName() == "" {
			part.Close()
			continue
		}

		m, err := h.svc.Upload(r.Context(), pkgmw.UserID(r.Context()), part.FileName(), part.Header.Get("Content-Type"), part)
		part.Close()
		if err != nil {
			httpx.WriteErr(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"mediaId": m.ID,
			"url":     m.URL,
			"message": "Media upload successful",
		})
		return
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"results": items})
}

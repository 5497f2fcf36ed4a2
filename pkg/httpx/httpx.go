// Package httpx holds the JSON response helpers every service shares. All
// error bodies have the shape {"success":false,"message":...}.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/validate"
)

// WriteJSON encodes data with status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to write response", "error", err)
	}
}

type errorBody struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteError writes the uniform error body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorBody{Success: false, Message: message})
}

// WriteErr maps err to a status and client-safe message. Server-side
// failures are logged with the request's context.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	body := errorBody{Success: false, Message: apperrors.PublicMessage(err)}

	var ve *validate.ValidationError
	if errors.As(err, &ve) {
		body.Message = "Validation failed"
		body.Fields = ve.Fields
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON body into v.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Request body is required")
		}
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "Invalid JSON body")
	}
	return nil
}

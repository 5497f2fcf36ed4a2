// Package middleware provides the gateway's request stages (authentication
// and rate limiting) and its CORS wrapper.
package middleware

import (
	"errors"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/token"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
)

// Authenticate validates bearer tokens on routes for which requiresAuth
// reports true. Public routes pass through untouched. A missing token is
// rejected with 401; a malformed, tampered or expired one with
// invalidStatus.
func Authenticate(v *token.Validator, invalidStatus int, requiresAuth func(path string) bool) pipeline.Stage {
	if invalidStatus == 0 {
		invalidStatus = http.StatusTooManyRequests
	}
	return pipeline.StageFunc{StageName: "auth", Fn: func(r *http.Request) pipeline.Result {
		if requiresAuth != nil && !requiresAuth(r.URL.Path) {
			return pipeline.Continue(r)
		}

		claims, err := v.Validate(token.FromRequest(r))
		switch {
		case errors.Is(err, apperrors.ErrMissingToken):
			return pipeline.Reject(http.StatusUnauthorized, "Authentication required")
		case err != nil:
			logger.FromContext(r.Context()).Warn("token rejected", "path", r.URL.Path, "error", err)
			return pipeline.Reject(invalidStatus, "Invalid token!")
		}

		ctx := token.NewContext(r.Context(), claims)
		ctx = pkgmw.WithUserID(ctx, claims.Subject())
		return pipeline.Continue(r.WithContext(ctx))
	}}
}

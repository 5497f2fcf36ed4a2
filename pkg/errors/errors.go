package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Gateway and service error taxonomy.
var (
	ErrMissingToken        = errors.New("missing token")
	ErrInvalidToken        = errors.New("invalid token")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrLimiterUnavailable  = errors.New("rate limiter unavailable")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrBadGateway          = errors.New("bad gateway")
	ErrPublishFailed       = errors.New("event publish failed")
	ErrHandlerFailed       = errors.New("event handler failed")

	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status a service should answer with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrLimiterUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client. Internal
// failures collapse to a generic message.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if HTTPStatusCode(err) >= 500 {
		return "Internal server error"
	}
	return err.Error()
}

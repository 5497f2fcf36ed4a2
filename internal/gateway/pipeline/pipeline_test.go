package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
)

type ctxKey struct{}

func TestHandlerRunsStagesInOrder(t *testing.T) {
	var order []string
	stage := func(name string) Stage {
		return StageFunc{StageName: name, Fn: func(r *http.Request) Result {
			order = append(order, name)
			ctx := context.WithValue(r.Context(), ctxKey{}, name)
			return Continue(r.WithContext(ctx)).WithHeader("X-Stage-"+name, "1")
		}}
	}
	var last string
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last, _ = r.Context().Value(ctxKey{}).(string)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	Handler(final, stage("auth"), stage("limit")).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected final handler to run, got %d", rec.Code)
	}
	if len(order) != 2 || order[0] != "auth" || order[1] != "limit" {
		t.Errorf("unexpected order %v", order)
	}
	if last != "limit" {
		t.Errorf("context from last stage not propagated, got %q", last)
	}
	if rec.Header().Get("X-Stage-auth") != "1" {
		t.Error("stage headers should be merged")
	}
}

func TestHandlerReject(t *testing.T) {
	called := false
	reject := StageFunc{StageName: "limit", Fn: func(r *http.Request) Result {
		return Reject(http.StatusTooManyRequests, "Too many requests").WithHeader("Retry-After", "60")
	}}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	Handler(final, reject).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if called {
		t.Fatal("final handler must not run after reject")
	}
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected response %d %v", rec.Code, rec.Header())
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Success || body.Message != "Too many requests" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandlerFailMapsError(t *testing.T) {
	fail := StageFunc{StageName: "limit", Fn: func(r *http.Request) Result {
		return Fail(apperrors.New(apperrors.ErrLimiterUnavailable, http.StatusServiceUnavailable, "Service temporarily unavailable"))
	}}
	rec := httptest.NewRecorder()
	Handler(http.NotFoundHandler(), fail).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	fail = StageFunc{StageName: "x", Fn: func(r *http.Request) Result { return Fail(errors.New("redis: i/o timeout")) }}
	rec = httptest.NewRecorder()
	Handler(http.NotFoundHandler(), fail).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["message"] != "Internal server error" {
		t.Errorf("internal detail leaked: %v", body)
	}
}

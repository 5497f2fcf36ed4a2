// Package pipeline composes gateway request stages. A stage inspects the
// request and either lets it continue (optionally with an enriched
// context), rejects it with a client-facing status, or fails it because a
// dependency broke. Stages never write to the response themselves.
package pipeline

import (
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/httpx"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// Outcome of a stage.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeReject
	OutcomeFail
)

// Result is what a stage returns.
type Result struct {
	Outcome Outcome
	// Request replaces the in-flight request when set (Continue only).
	Request *http.Request
	// Header is merged into the response headers for every outcome.
	Header  http.Header
	Status  int
	Message string
	Err     error
}

// Continue passes r (possibly with a new context) to the next stage.
func Continue(r *http.Request) Result {
	return Result{Outcome: OutcomeContinue, Request: r}
}

// Reject stops the pipeline with a client error.
func Reject(status int, message string) Result {
	return Result{Outcome: OutcomeReject, Status: status, Message: message}
}

// Fail stops the pipeline because of an internal error. The status and
// client message are derived from err.
func Fail(err error) Result {
	return Result{Outcome: OutcomeFail, Err: err}
}

// WithHeader adds a response header to the result.
func (res Result) WithHeader(key, value string) Result {
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(key, value)
	return res
}

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Process(r *http.Request) Result
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	StageName string
	Fn        func(r *http.Request) Result
}

func (s StageFunc) Name() string                   { return s.StageName }
func (s StageFunc) Process(r *http.Request) Result { return s.Fn(r) }

// Handler runs stages in order and hands the request to final when every
// stage continues.
func Handler(final http.Handler, stages ...Stage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, st := range stages {
			res := st.Process(r)
			for k, vs := range res.Header {
				for _, v := range vs {
					w.Header().Set(k, v)
				}
			}
			switch res.Outcome {
			case OutcomeContinue:
				if res.Request != nil {
					r = res.Request
				}
			case OutcomeReject:
				WriteError(w, res.Status, res.Message)
				return
			case OutcomeFail:
				logger.FromContext(r.Context()).Error("request stage failed", "stage", st.Name(), "error", res.Err)
				WriteError(w, apperrors.HTTPStatusCode(res.Err), apperrors.PublicMessage(res.Err))
				return
			}
		}
		final.ServeHTTP(w, r)
	})
}

// WriteError writes the gateway's uniform error body.
func WriteError(w http.ResponseWriter, status int, message string) {
	httpx.WriteError(w, status, message)
}

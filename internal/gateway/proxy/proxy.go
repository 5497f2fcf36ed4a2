package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/gateway/pipeline"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/resilience"
)

const defaultMaxBufferedBody = 1 << 20

// Options tune the proxy. Zero values take defaults.
type Options struct {
	MaxBufferedBody int64
	UpstreamTimeout time.Duration
	Breaker         config.BreakerConfig
	Metrics         *metrics.Metrics
	// Transport replaces the default upstream transport (tests).
	Transport http.RoundTripper
}

type upstream struct {
	route   *Route
	rp      *httputil.ReverseProxy
	breaker *resilience.CircuitBreaker
}

// Proxy is the gateway's terminal handler.
type Proxy struct {
	table     *Table
	upstreams map[string]*upstream
	maxBody   int64
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds one reverse proxy and circuit breaker per route.
func New(table *Table, opts Options) *Proxy {
	if opts.MaxBufferedBody <= 0 {
		opts.MaxBufferedBody = defaultMaxBufferedBody
	}
	base := opts.Transport
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = opts.UpstreamTimeout
		tr.MaxIdleConnsPerHost = 32
		base = tr
	}

	p := &Proxy{
		table:     table,
		upstreams: make(map[string]*upstream, len(table.routes)),
		maxBody:   opts.MaxBufferedBody,
		metrics:   opts.Metrics,
		logger:    slog.Default().With("component", "gateway-proxy"),
	}
	for _, rt := range table.routes {
		cb := resilience.NewCircuitBreaker("upstream"+rt.Prefix, resilience.CircuitBreakerConfig{
			FailureThreshold:    opts.Breaker.MaxFailures,
			ResetTimeout:        opts.Breaker.ResetTimeout,
			HalfOpenMaxRequests: opts.Breaker.HalfOpenMax,
			OnStateChange: func(name string, to resilience.State) {
				if p.metrics != nil {
					p.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
				}
			},
		})
		up := &upstream{route: rt, breaker: cb}
		up.rp = &httputil.ReverseProxy{
			Rewrite:        p.rewriter(rt),
			Transport:      &breakerTransport{base: base, breaker: cb},
			ErrorHandler:   p.errorHandler(rt),
			ModifyResponse: p.observe(rt),
			ErrorLog:       slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn),
		}
		p.upstreams[rt.Prefix] = up
	}
	return p
}

// ServeHTTP routes r to its upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := p.table.Match(r.URL.Path)
	if !ok {
		pipeline.WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	up := p.upstreams[rt.Prefix]

	if rt.BodyMode == BodyBuffered {
		out, status, msg := p.buffer(w, r)
		if status != 0 {
			pipeline.WriteError(w, status, msg)
			return
		}
		r = out
	}

	start := time.Now()
	up.rp.ServeHTTP(w, r)
	if p.metrics != nil {
		p.metrics.UpstreamLatency.WithLabelValues(rt.Prefix).Observe(time.Since(start).Seconds())
	}
}

// buffer reads a bounded JSON body. It returns a non-zero status when the
// request must be refused.
func (p *Proxy) buffer(w http.ResponseWriter, r *http.Request) (*http.Request, int, string) {
	if r.Body == nil || r.Body == http.NoBody {
		return r, 0, ""
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, http.StatusRequestEntityTooLarge, "Request body too large"
		}
		return nil, http.StatusBadRequest, "Could not read request body"
	}
	if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
		return nil, http.StatusBadRequest, "Invalid JSON body"
	}

	out := r.WithContext(r.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return out, 0, ""
}

func (p *Proxy) rewriter(rt *Route) func(*httputil.ProxyRequest) {
	return func(pr *httputil.ProxyRequest) {
		pr.SetURL(rt.Target)
		pr.Out.URL.Path = rt.RewritePath(pr.In.URL.Path)
		pr.Out.URL.RawPath = ""
		pr.SetXForwarded()

		pr.Out.Header.Del(pkgmw.UserIDHeader)
		if rt.RequiresAuth {
			if uid := pkgmw.UserID(pr.In.Context()); uid != "" {
				pr.Out.Header.Set(pkgmw.UserIDHeader, uid)
			}
		}
		if rid := pkgmw.GetRequestID(pr.In.Context()); rid != "" {
			pr.Out.Header.Set("X-Request-Id", rid)
		}
		if !isMultipart(pr.In.Header.Get("Content-Type")) {
			pr.Out.Header.Set("Content-Type", "application/json")
		}
	}
}

func (p *Proxy) observe(rt *Route) func(*http.Response) error {
	return func(resp *http.Response) error {
		if p.metrics != nil {
			p.metrics.UpstreamRequests.WithLabelValues(rt.Prefix, strconv.Itoa(resp.StatusCode)).Inc()
		}
		logger.FromContext(resp.Request.Context()).Debug("upstream response",
			"route", rt.Prefix, "status", resp.StatusCode)
		return nil
	}
}

func (p *Proxy) errorHandler(rt *Route) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		log := logger.FromContext(r.Context())
		if errors.Is(r.Context().Err(), context.Canceled) {
			log.Debug("client went away before upstream answered", "route", rt.Prefix)
			p.recordOutcome(rt, "canceled")
			return
		}

		kind := classify(err)
		perr := fmt.Errorf("%w: %s: %v", kind, rt.Target.Host, err)
		log.Error("proxy error", "route", rt.Prefix, "target", rt.Target.String(), "error", perr)
		p.recordOutcome(rt, outcomeLabel(kind))
		pipeline.WriteError(w, http.StatusInternalServerError, apperrors.PublicMessage(apperrors.ErrInternal))
	}
}

func (p *Proxy) recordOutcome(rt *Route, outcome string) {
	if p.metrics != nil {
		p.metrics.UpstreamRequests.WithLabelValues(rt.Prefix, outcome).Inc()
	}
}

func classify(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, syscall.ECONNREFUSED) {
		return apperrors.ErrUpstreamUnreachable
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return apperrors.ErrUpstreamTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		return apperrors.ErrUpstreamUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperrors.ErrUpstreamUnreachable
	}
	return apperrors.ErrBadGateway
}

func outcomeLabel(kind error) string {
	switch kind {
	case apperrors.ErrUpstreamUnreachable:
		return "unreachable"
	case apperrors.ErrUpstreamTimeout:
		return "timeout"
	default:
		return "bad_gateway"
	}
}

func isMultipart(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "multipart/form-data"
}

// breakerTransport fails fast while the route's breaker is open. Requests
// the client abandoned are not counted against the upstream.
type breakerTransport struct {
	base    http.RoundTripper
	breaker *resilience.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var rtErr error
	err := t.breaker.Execute(func() error {
		resp, rtErr = t.base.RoundTrip(req)
		if rtErr != nil && errors.Is(req.Context().Err(), context.Canceled) {
			return nil
		}
		return rtErr
	})
	if err != nil {
		return nil, err
	}
	return resp, rtErr
}

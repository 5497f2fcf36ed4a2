package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/metrics"
)

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("expected generated id echoed, got ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("expected incoming id reused, got %q", seen)
	}
}

func TestTrustedUser(t *testing.T) {
	tn, err := ParseTrustedNetworks([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	var got string
	h := TrustedUser(tn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserID(r.Context())
	}))

	tests := []struct {
		remote string
		want   string
	}{
		{"10.1.2.3:5555", "u1"},
		{"192.168.1.1:5555", ""},
		{"[::ffff:10.0.0.9]:80", "u1"},
	}
	for _, tt := range tests {
		got = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		req.Header.Set(UserIDHeader, "u1")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tt.want {
			t.Errorf("remote %s: got user %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestEmptyTrustListTrustsAll(t *testing.T) {
	tn, _ := ParseTrustedNetworks(nil)
	if !tn.Allows("203.0.113.9:1234") {
		t.Error("empty list should trust every peer")
	}
}

func TestRequireUser(t *testing.T) {
	h := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUserID(req.Context(), "u1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestTimeoutWritesJSONError(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestTimeoutDiscardsLateHandlerWrites(t *testing.T) {
	finished := make(chan struct{})
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		<-r.Context().Done()
		for i := 0; i < 100; i++ {
			w.Header().Set("X-Late", "yes")
		}
		w.WriteHeader(http.StatusCreated)
		if _, err := w.Write([]byte("late")); err != http.ErrHandlerTimeout {
			t.Errorf("late write: expected ErrHandlerTimeout, got %v", err)
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	<-finished

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("X-Late") != "" {
		t.Error("headers set after the deadline leaked to the client")
	}
	if got := rec.Body.String(); got != timeoutBody {
		t.Errorf("unexpected body %q", got)
	}
}

func TestTimeoutPassesThroughFastHandler(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Header().Set("X-Ignored", "after-commit")
		w.Write([]byte(`{"success":true}`))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Code != http.StatusCreated || rec.Body.String() != `{"success":true}` {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("handler headers must be copied")
	}
	if rec.Header().Get("X-Ignored") != "" {
		t.Error("headers changed after WriteHeader must be dropped")
	}
}

func TestMetricsNormalizesIDs(t *testing.T) {
	if got := normalizePath("/api/posts/3f1c3a1e-8d2b-4b0e-9a57-0c5f1f0d9e11"); got != "/api/posts/:id" {
		t.Errorf("got %q", got)
	}
	m := metrics.NewUnregistered()
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status not passed through: %d", rec.Code)
	}
}

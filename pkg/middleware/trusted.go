package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/logger"
)

// UserIDHeader is set by the gateway after validating the caller's token.
const UserIDHeader = "X-User-Id"

type userIDKey struct{}

// TrustedNetworks decides whether a peer may assert X-User-Id.
type TrustedNetworks struct {
	prefixes []netip.Prefix
}

// ParseTrustedNetworks parses CIDRs. An empty list trusts every peer, which
// is only appropriate when the service port is not reachable from outside
// the gateway's network.
func ParseTrustedNetworks(cidrs []string) (*TrustedNetworks, error) {
	tn := &TrustedNetworks{}
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("parsing trusted network %q: %w", c, err)
		}
		tn.prefixes = append(tn.prefixes, p.Masked())
	}
	return tn, nil
}

// Allows reports whether remoteAddr (host:port or bare host) is trusted.
func (tn *TrustedNetworks) Allows(remoteAddr string) bool {
	if tn == nil || len(tn.prefixes) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tn.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// TrustedUser copies X-User-Id into the request context when the peer is a
// trusted network. The header from any other peer is dropped.
func TrustedUser(tn *TrustedNetworks) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := r.Header.Get(UserIDHeader)
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !tn.Allows(r.RemoteAddr) {
				logger.FromContext(r.Context()).Warn("ignoring user header from untrusted peer", "remote", r.RemoteAddr)
				r.Header.Del(UserIDHeader)
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithUserID(r.Context(), uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser answers 401 when no trusted user id is present.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			logger.FromContext(r.Context()).Warn("access attempted without user id")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"message":"Authentication required! Please login to continue"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID stores an authenticated user id in ctx.
func WithUserID(ctx context.Context, uid string) context.Context {
	ctx = context.WithValue(ctx, userIDKey{}, uid)
	return logger.WithUserID(ctx, uid)
}

// UserID returns the authenticated user id from ctx, or "".
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey{}).(string)
	return uid
}

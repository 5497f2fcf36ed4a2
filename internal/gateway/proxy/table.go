// Package proxy forwards gateway requests to the domain services over a
// static route table.
package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/config"
)

// BodyMode decides how a request body reaches the upstream.
type BodyMode string

const (
	// BodyBuffered reads and validates a JSON body before forwarding.
	BodyBuffered BodyMode = "buffered"
	// BodyStreamed forwards the raw body as it arrives.
	BodyStreamed BodyMode = "streamed"
)

// Route is one entry of the table.
type Route struct {
	Prefix       string
	Target       *url.URL
	Rewrite      string
	RequiresAuth bool
	BodyMode     BodyMode
}

// RewritePath swaps the route's external prefix for its internal one.
func (rt *Route) RewritePath(path string) string {
	rest := strings.TrimPrefix(path, rt.Prefix)
	if rt.Rewrite == "" {
		return path
	}
	out := rt.Rewrite + rest
	if out == "" {
		return "/"
	}
	return out
}

func (rt *Route) matches(path string) bool {
	if path == rt.Prefix {
		return true
	}
	return strings.HasPrefix(path, rt.Prefix+"/")
}

// Table holds routes ordered longest prefix first.
type Table struct {
	routes []*Route
}

// NewTable validates cfgs and builds the table.
func NewTable(cfgs []config.RouteConfig) (*Table, error) {
	t := &Table{}
	seen := make(map[string]bool)
	for _, c := range cfgs {
		prefix := strings.TrimSuffix(c.Prefix, "/")
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route prefix %q must start with /", c.Prefix)
		}
		if seen[prefix] {
			return nil, fmt.Errorf("duplicate route prefix %q", prefix)
		}
		seen[prefix] = true

		target, err := url.Parse(c.Target)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("route %s: invalid target %q", prefix, c.Target)
		}
		mode := BodyMode(c.BodyMode)
		switch mode {
		case "":
			mode = BodyBuffered
		case BodyBuffered, BodyStreamed:
		default:
			return nil, fmt.Errorf("route %s: unknown body mode %q", prefix, c.BodyMode)
		}
		t.routes = append(t.routes, &Route{
			Prefix:       prefix,
			Target:       target,
			Rewrite:      strings.TrimSuffix(c.Rewrite, "/"),
			RequiresAuth: c.RequiresAuth,
			BodyMode:     mode,
		})
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})
	return t, nil
}

// Match returns the longest route whose prefix covers path on a segment
// boundary.
func (t *Table) Match(path string) (*Route, bool) {
	for _, rt := range t.routes {
		if rt.matches(path) {
			return rt, true
		}
	}
	return nil, false
}

// RequiresAuth reports whether path needs a validated token. Unrouted paths
// do not; the proxy answers them with 404.
func (t *Table) RequiresAuth(path string) bool {
	rt, ok := t.Match(path)
	return ok && rt.RequiresAuth
}

// Routes returns the table in match order.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Package route maps inbound requests to upstream targets.
package route

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
)

// ErrNoTargets is returned when a route is built without upstream targets.
var ErrNoTargets = errors.New("route has no upstream targets")

// Route maps an inbound host/path match to a set of upstream targets.
// Host is an exact hostname or a ".suffix" wildcard; empty matches any
// host. PathPrefix is a leading path segment match; empty or "/" matches
// any path.
type Route struct {
	Host       string
	PathPrefix string

	targets []string
	picker  Picker
}

// Table is an ordered list of routes. Lookup is first match wins, so
// more specific routes must come before the catch-all.
type Table struct {
	routes []*Route
}

// Picker selects one target from a route's target list per request.
type Picker interface {
	Pick(targets []string) string
}

// New builds a Route. strategy selects the target picker: "round_robin"
// (default) or "random".
func New(host, pathPrefix string, targets []string, strategy string) (*Route, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	for _, t := range targets {
		if _, _, err := net.SplitHostPort(t); err != nil {
			return nil, fmt.Errorf("upstream target %q is not host:port: %w", t, err)
		}
	}

	var p Picker
	switch strategy {
	case "", "round_robin":
		p = &roundRobin{}
	case "random":
		p = randomPicker{}
	default:
		return nil, fmt.Errorf("unknown strategy %q (want round_robin or random)", strategy)
	}

	return &Route{
		Host:       strings.ToLower(host),
		PathPrefix: pathPrefix,
		targets:    targets,
		picker:     p,
	}, nil
}

// NewTable builds a Table from routes in match order.
func NewTable(routes ...*Route) *Table {
	return &Table{routes: routes}
}

// Lookup returns the first route matching host and path, or nil.
func (t *Table) Lookup(host, path string) *Route {
	host = normalizeHost(host)
	for _, r := range t.routes {
		if r.matches(host, path) {
			return r
		}
	}
	return nil
}

// Target selects one upstream target for this request.
func (r *Route) Target() string {
	return r.picker.Pick(r.targets)
}

// Targets returns the configured target list.
func (r *Route) Targets() []string {
	return r.targets
}

func (r *Route) matches(host, path string) bool {
	switch {
	case r.Host == "":
	case strings.HasPrefix(r.Host, "."):
		if host != strings.TrimPrefix(r.Host, ".") && !strings.HasSuffix(host, r.Host) {
			return false
		}
	case host != r.Host:
		return false
	}

	if r.PathPrefix == "" || r.PathPrefix == "/" {
		return true
	}
	return path == r.PathPrefix || strings.HasPrefix(path, r.PathPrefix+"/")
}

// normalizeHost lowercases the host and drops any port suffix.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// roundRobin cycles through targets with an atomic counter.
type roundRobin struct {
	next atomic.Uint64
}

func (p *roundRobin) Pick(targets []string) string {
	n := p.next.Add(1) - 1
	return targets[n%uint64(len(targets))]
}

// randomPicker selects a uniformly random target.
type randomPicker struct{}

func (randomPicker) Pick(targets []string) string {
	return targets[rand.Intn(len(targets))]
}

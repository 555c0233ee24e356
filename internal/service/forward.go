// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"edge-proxy-go/internal/client"
	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/model"
	"edge-proxy-go/internal/route"
)

// ErrNoRoute is returned when no configured route matches the request.
// Unreachable with the default configuration, which always carries a
// catch-all route to the upstream targets.
var ErrNoRoute = errors.New("no route matches request")

// hopByHopHeaders are connection-scoped headers that must not cross the
// proxy in either direction (RFC 9110 §7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwardService relays client requests to the upstream backend,
// injecting the client-identifying headers the backend expects from its
// TLS-terminating edge.
type ForwardService struct {
	client *client.UpstreamClient
	cfg    *config.Config
	logger *slog.Logger
	table  *route.Table
}

// NewForwardService creates a ForwardService. Explicit routes from the
// configuration are matched in order; a catch-all route to the default
// upstream targets is always appended last.
func NewForwardService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	var routes []*route.Route
	for i, rc := range cfg.Routes {
		r, err := route.New(rc.Host, rc.PathPrefix, rc.Targets, rc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("build route %d: %w", i, err)
		}
		routes = append(routes, r)
	}

	catchAll, err := route.New("", "", cfg.Upstream.Targets, cfg.Upstream.Strategy)
	if err != nil {
		return nil, fmt.Errorf("build catch-all route: %w", err)
	}
	routes = append(routes, catchAll)

	return &ForwardService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "forward_service"),
		table:  route.NewTable(routes...),
	}, nil
}

// Forward relays a ProxyRequest to the selected upstream target and
// returns the upstream response for the caller to stream back.
// The caller is responsible for closing the response body.
//
// The outbound request carries the original Host unmodified, the
// client's peer address as X-Real-IP, the peer address appended to any
// inbound X-Forwarded-For, and X-Forwarded-Proto: https. Everything
// else is passed through minus hop-by-hop headers.
func (s *ForwardService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	r := s.table.Lookup(pr.Host, pr.Path)
	if r == nil {
		return nil, ErrNoRoute
	}
	target := r.Target()

	upstreamURL := buildUpstreamURL(target, pr.Path, pr.Query)
	header := s.outboundHeaders(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"target", target,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, pr.Host, header, pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL rebuilds the request URL against the target address.
// The upstream always speaks plain HTTP behind the TLS-terminating edge.
func buildUpstreamURL(target, path string, query url.Values) string {
	u := url.URL{
		Scheme:   "http",
		Host:     target,
		Path:     path,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// outboundHeaders clones the inbound headers, drops hop-by-hop headers
// and sets the forwarding contract headers.
func (s *ForwardService) outboundHeaders(pr *model.ProxyRequest) http.Header {
	dst := make(http.Header, len(pr.Header))
	for k, vals := range pr.Header {
		dst[http.CanonicalHeaderKey(k)] = vals
	}
	stripHopByHop(dst)

	peer := peerIP(pr.RemoteAddr)
	dst.Set("X-Real-IP", peer)
	if prior := pr.Header.Values("X-Forwarded-For"); len(prior) > 0 {
		dst.Set("X-Forwarded-For", strings.Join(prior, ", ")+", "+peer)
	} else {
		dst.Set("X-Forwarded-For", peer)
	}
	// Only reachable after TLS termination.
	dst.Set("X-Forwarded-Proto", "https")

	return dst
}

// filterResponseHeaders strips hop-by-hop headers from the upstream
// response; all other headers are relayed verbatim.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, vals := range src {
		dst[k] = vals
	}
	stripHopByHop(dst)
	return dst
}

// stripHopByHop removes the standard hop-by-hop headers plus any header
// named in the Connection header itself.
func stripHopByHop(h http.Header) {
	for _, name := range h.Values("Connection") {
		for _, part := range strings.Split(name, ",") {
			if part = strings.TrimSpace(part); part != "" {
				h.Del(part)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// peerIP extracts the IP from a host:port peer address. The raw value is
// returned as-is if it carries no port.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

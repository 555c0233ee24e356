// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded upstream.
// It is created at request entry and discarded once the upstream
// response has been relayed back; nothing here is persisted.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Host   string // original client-supplied Host header
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.ReadCloser

	// RemoteAddr is the immediate peer address (host:port) of the client
	// connection, taken from the transport rather than any inbound header.
	RemoteAddr string
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	// Target is the upstream address the request was relayed to.
	Target string
}

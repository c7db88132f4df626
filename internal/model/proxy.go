// Package model defines shared types for the proxy.
package model

import (
	"net/http"
	"net/url"
)

// InboundRequest represents a client request entering the admission pipeline.
// It is immutable once built from the echo context.
type InboundRequest struct {
	Method   string
	Path     string
	Header   http.Header
	Body     []byte
	RemoteIP string // transport-layer peer address, without port
}

// TargetURL is the validated destination extracted from the request path.
type TargetURL struct {
	URL *url.URL
}

// Hostname returns the target host without any port.
func (t *TargetURL) Hostname() string {
	return t.URL.Hostname()
}

func (t *TargetURL) String() string {
	return t.URL.String()
}

// ForwardResult is the final upstream response after any redirect chain.
type ForwardResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Redirects  int // hops followed before this response
}

package httpx

import (
	"context"
	"crypto/tls"
	"io"
	"net/url"
)

// Request represents an HTTP request received by the Server.
//
// Fields are a subset tailored for HTTP/1.1. Body is an io.ReadCloser.
// ContentLength is -1 when unknown. Context can be set via WithContext.
type Request struct {
	Method     string
	URL        *url.URL
	RequestURI string
	Proto      string
	ProtoMinor int
	Header     Header
	Body       io.ReadCloser
	Host       string
	// ContentLength is the declared body length; -1 for chunked bodies.
	ContentLength    int64
	Chunked          bool
	TransferEncoding []string
	// RemoteAddr is the peer address in "host:port" form.
	RemoteAddr string
	// TLS is set for requests received over TLS.
	TLS *tls.ConnectionState
	ctx context.Context
	// RequestID is the server generated identifier for this request.
	RequestID string
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// HasBody reports whether the request announced a body.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}

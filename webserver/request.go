package webserver

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"dqx0.com/go/webd/httprange"
	"dqx0.com/go/webd/httpx"
)

// Method is the request method as far as the dispatcher distinguishes it.
type Method int

const (
	MethodUnknown Method = iota
	MethodGet
	MethodHead
	MethodPost
)

func ParseMethod(s string) Method {
	switch s {
	case "GET":
		return MethodGet
	case "HEAD":
		return MethodHead
	case "POST":
		return MethodPost
	default:
		return MethodUnknown
	}
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodHead:
		return "HEAD"
	case MethodPost:
		return "POST"
	default:
		return "UNKNOWN"
	}
}

// Request describes one incoming request to the handlers. It is valid for the
// duration of the request only.
type Request struct {
	Conn     *httpx.Request
	Server   *Server
	Method   Method
	FullPath string
	// Version is the protocol, e.g. "HTTP/1.1".
	Version string
}

func newRequest(s *Server, r *httpx.Request) *Request {
	p := "/"
	if r.URL != nil && r.URL.Path != "" {
		p = r.URL.Path
	}
	return &Request{
		Conn:     r,
		Server:   s,
		Method:   ParseMethod(r.Method),
		FullPath: p,
		Version:  r.Proto,
	}
}

// Header returns the first value of the request header key.
func (r *Request) Header(key string) string {
	return r.Conn.Header.Get(key)
}

func (r *Request) HeaderValues(key string) []string {
	return r.Conn.Header.Values(key)
}

// Arguments returns the decoded query string.
func (r *Request) Arguments() url.Values {
	if r.Conn.URL == nil {
		return url.Values{}
	}
	return r.Conn.URL.Query()
}

// Argument returns the first value of the query argument key.
func (r *Request) Argument(key string) string {
	return r.Arguments().Get(key)
}

// HostnameAndPort splits the Host header. The port is 0 when the header has
// none.
func (r *Request) HostnameAndPort() (string, int) {
	host := r.Conn.Host
	if host == "" {
		return "", 0
	}
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return strings.Trim(host, "[]"), 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, n
}

// HasRangeHeader reports whether the client sent a Range header.
func (r *Request) HasRangeHeader() bool {
	return r.Conn.Header.Has("Range")
}

// RequestedRanges resolves the Range header against an entity of total
// bytes. A missing or malformed header yields an empty set.
func (r *Request) RequestedRanges(total uint64) *httprange.Ranges {
	rs := &httprange.Ranges{}
	if v := r.Header("Range"); v != "" {
		rs.Parse(v, total)
	}
	return rs
}

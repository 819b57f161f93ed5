package httpx

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"dqx0.com/go/webd/httpx/internal/http1"
	"dqx0.com/go/webd/internal/obs"
)

type Handler interface {
	ServeHTTP(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

func (f HandlerFunc) ServeHTTP(w ResponseWriter, r *Request) {
	f(w, r)
}

type ResponseWriter interface {
	Header() Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// Server is an HTTP/1.1 daemon. Every accepted connection is served on its
// own goroutine; requests on one connection are handled strictly in order.
type Server struct {
	Addr              string
	Handler           Handler
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	// ConnTimeout is an inactivity timeout re-armed on every read and write.
	ConnTimeout         time.Duration
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
	// MaxConns caps concurrently served connections per listener; 0 is unlimited.
	MaxConns  int
	TLSConfig *tls.Config

	Logger obs.Logger
	Meter  obs.Meter

	inShutdown atomic.Bool
	mu         sync.Mutex
	listeners  map[*net.Listener]struct{}
	conns      map[*conn]struct{}
	wg         sync.WaitGroup
}

func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := Listen(context.Background(), "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// ServeTLS serves TLS connections on l using the certificate pair in
// certFile and keyFile, or TLSConfig.Certificates when both are empty.
func (s *Server) ServeTLS(l net.Listener, certFile, keyFile string) error {
	cfg := &tls.Config{}
	if s.TLSConfig != nil {
		cfg = s.TLSConfig.Clone()
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"http/1.1"}
	}
	if certFile != "" || keyFile != "" || len(cfg.Certificates) == 0 {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			l.Close()
			return fmt.Errorf("httpx: load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return s.Serve(tls.NewListener(l, cfg))
}

func (s *Server) Serve(l net.Listener) error {
	if s.MaxConns > 0 {
		l = netutil.LimitListener(l, s.MaxConns)
	}
	if !s.trackListener(&l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(&l, false)
	defer l.Close()

	var backoff time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.logger().Logf(obs.Warn, "httpx: accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		cc := s.newConn(c)
		if cc == nil {
			c.Close()
			continue
		}
		go s.serveConn(cc)
	}
}

// Shutdown stops accepting connections, closes idle ones and waits for the
// in-flight requests to finish. When ctx ends first, remaining connections
// are closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.closeListeners()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.closeConns(true)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			s.closeConns(false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close immediately closes all listeners and connections.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.closeListeners()
	s.closeConns(false)
	return nil
}

func (s *Server) trackListener(l *net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[*net.Listener]struct{})
	}
	if add {
		if s.inShutdown.Load() {
			return false
		}
		s.listeners[l] = struct{}{}
	} else {
		delete(s.listeners, l)
	}
	return true
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for l := range s.listeners {
		(*l).Close()
	}
}

func (s *Server) closeConns(idleOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if idleOnly && !c.idle.Load() {
			continue
		}
		c.rwc.Close()
	}
}

func (s *Server) newConn(c net.Conn) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inShutdown.Load() {
		return nil
	}
	if s.conns == nil {
		s.conns = make(map[*conn]struct{})
	}
	cc := &conn{srv: s, rwc: c}
	cc.tlsConn, _ = c.(*tls.Conn)
	if s.ConnTimeout > 0 {
		cc.rwc = &timeoutConn{Conn: c, d: s.ConnTimeout}
	}
	s.conns[cc] = struct{}{}
	s.wg.Add(1)
	return cc
}

func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) headerLimit() int {
	if s.MaxHeaderBytes <= 0 {
		return 8 << 10
	}
	return s.MaxHeaderBytes
}

func (s *Server) totalHeaderLimit() int {
	if s.MaxTotalHeaderBytes <= 0 {
		return 64 << 10
	}
	return s.MaxTotalHeaderBytes
}

func (s *Server) logger() obs.Logger { return obs.OrNop(s.Logger) }

func (s *Server) meter() obs.Meter { return obs.MeterOrNop(s.Meter) }

// conn is the per-connection state of the daemon.
type conn struct {
	srv     *Server
	rwc     net.Conn
	tlsConn *tls.Conn
	idle    atomic.Bool
}

// timeoutConn re-arms the deadline before every read and write so that only
// an inactive peer times out, independent of the transfer size. It owns the
// deadlines: the per-phase timeouts of Server are ignored on such conns.
type timeoutConn struct {
	net.Conn
	d time.Duration
}

func (c *timeoutConn) SetReadDeadline(time.Time) error  { return nil }
func (c *timeoutConn) SetWriteDeadline(time.Time) error { return nil }

func (c *timeoutConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.d))
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.d))
	return c.Conn.Write(p)
}

// maxDrainBytes bounds how much of an unread request body is discarded to
// keep a connection alive; larger leftovers close the connection instead.
const maxDrainBytes = 256 << 10

func (s *Server) serveConn(c *conn) {
	defer s.dropConn(c)
	defer c.rwc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tlsState *tls.ConnectionState
	if tc := c.tlsConn; tc != nil {
		if s.ReadHeaderTimeout > 0 {
			_ = tc.SetDeadline(time.Now().Add(s.ReadHeaderTimeout))
		}
		if err := tc.HandshakeContext(ctx); err != nil {
			s.logger().Logf(obs.Debug, "httpx: TLS handshake from %s: %v", c.rwc.RemoteAddr(), err)
			return
		}
		_ = tc.SetDeadline(time.Time{})
		st := tc.ConnectionState()
		tlsState = &st
	}

	br := bufio.NewReader(c.rwc)
	bw := bufio.NewWriterSize(c.rwc, 16<<10)
	for {
		c.idle.Store(true)
		if s.inShutdown.Load() {
			return
		}
		if s.ReadHeaderTimeout > 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(s.ReadHeaderTimeout))
		}
		rr := &http1.Reader{BR: br, MaxHeaderBytes: s.headerLimit(), MaxTotalHeaderBytes: s.totalHeaderLimit()}
		pr, err := rr.ReadRequest()
		c.idle.Store(false)
		if err != nil {
			if errors.Is(err, io.EOF) || isNetClosing(err) {
				return
			}
			status := 400
			if errors.Is(err, http1.ErrHeaderTooLarge) {
				status = 431
			} else if errors.Is(err, http1.ErrUnsupportedProto) {
				status = 505
			}
			s.logger().Logf(obs.Debug, "httpx: bad request from %s: %v", c.rwc.RemoteAddr(), err)
			s.meter().Counter("httpx.bad_requests", 1)
			_ = http1.WriteResponse(bw, status, nil, nil, false)
			_ = bw.Flush()
			return
		}
		if s.ReadTimeout > 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		} else {
			_ = c.rwc.SetReadDeadline(time.Time{})
		}
		if s.WriteTimeout > 0 {
			_ = c.rwc.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		}

		if !s.serveRequest(ctx, c, pr, tlsState, br, bw) {
			return
		}

		if s.IdleTimeout > 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		} else {
			_ = c.rwc.SetReadDeadline(time.Time{})
		}
		_ = c.rwc.SetWriteDeadline(time.Time{})
	}
}

// serveRequest runs the handler for one parsed request and reports whether
// the connection may carry another request.
func (s *Server) serveRequest(ctx context.Context, c *conn, pr *http1.ParsedRequest, tlsState *tls.ConnectionState, br *bufio.Reader, bw *bufio.Writer) (keepAlive bool) {
	start := time.Now()
	hdr := Header(pr.Header)

	ka := pr.ProtoMinor >= 1
	switch connVal := strings.ToLower(hdr.Get("Connection")); {
	case strings.Contains(connVal, "close"):
		ka = false
	case pr.ProtoMinor == 0 && strings.Contains(connVal, "keep-alive"):
		ka = true
	}
	if s.inShutdown.Load() {
		ka = false
	}

	var u *url.URL
	var err error
	if strings.HasPrefix(pr.RequestURI, "http://") || strings.HasPrefix(pr.RequestURI, "https://") {
		u, err = url.Parse(pr.RequestURI)
	} else {
		u, err = url.ParseRequestURI(pr.RequestURI)
	}
	if err != nil {
		_ = http1.WriteResponse(bw, 400, nil, nil, false)
		_ = bw.Flush()
		return false
	}
	host := hdr.Get("Host")
	if host == "" && u.Host != "" {
		host = u.Host
	}

	body := &requestBody{rc: pr.Body}
	if strings.EqualFold(hdr.Get("Expect"), "100-continue") && pr.ProtoMinor >= 1 {
		body.continueW = bw
	}
	id := genID()
	rctx := WithRequestID(ctx, id)
	if cid := hdr.Get("X-Request-Id"); cid != "" {
		rctx = WithCorrelationID(rctx, cid)
	}
	r := &Request{
		Method:        pr.Method,
		URL:           u,
		RequestURI:    pr.RequestURI,
		Proto:         pr.Proto,
		ProtoMinor:    pr.ProtoMinor,
		Header:        hdr,
		Body:          body,
		Host:          host,
		ContentLength: pr.ContentLength,
		Chunked:       pr.Chunked,
		RemoteAddr:    c.rwc.RemoteAddr().String(),
		TLS:           tlsState,
		RequestID:     id,
		ctx:           rctx,
	}
	if pr.Chunked {
		r.TransferEncoding = []string{"chunked"}
	}

	srw := &connResponseWriter{bw: bw, proto: pr.Proto, method: pr.Method, keepAlive: ka, hdr: Header{}}
	h := s.Handler
	if h == nil {
		h = HandlerFunc(func(w ResponseWriter, r *Request) {
			w.WriteHeader(404)
			w.Write([]byte("not found"))
		})
	}

	if !s.runHandler(h, srw, r) {
		return false
	}
	if srw.err != nil {
		return false
	}
	if err := srw.finish(); err != nil {
		return false
	}

	// Keep the connection only if the unread request body is cheap to skip.
	if body.sawEOF {
		_ = body.Close()
	} else if body.continueW != nil || pr.ContentLength > maxDrainBytes || pr.ContentLength < 0 && !body.used {
		srw.keepAlive = false
	} else if err := body.Close(); err != nil {
		srw.keepAlive = false
	}

	if err := bw.Flush(); err != nil {
		return false
	}

	dur := time.Since(start)
	labels := []obs.Label{{Key: "method", Value: pr.Method}, {Key: "status", Value: strconv.Itoa(srw.status)}}
	s.meter().Counter("httpx.requests", 1, labels...)
	s.meter().Histogram("httpx.request_seconds", dur.Seconds(), labels...)
	s.logger().Logf(obs.Debug, "httpx: %s %s %s -> %d (%d bytes, %v) id=%s", r.RemoteAddr, pr.Method, pr.RequestURI, srw.status, srw.written, dur, id)

	return srw.keepAlive && (srw.chunked || srw.hasLength || srw.bodyless())
}

// runHandler invokes h and recovers a panic into a 500 when nothing was
// written yet. A panic always ends the connection.
func (s *Server) runHandler(h Handler, w *connResponseWriter, r *Request) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger().Logf(obs.Error, "httpx: panic serving %s %s: %v\n%s", r.Method, r.RequestURI, p, debug.Stack())
			s.meter().Counter("httpx.panics", 1)
			if !w.wroteHdr {
				_ = http1.WriteResponse(w.bw, 500, nil, nil, false)
			} else if w.chunked {
				_ = http1.EndChunked(w.bw)
			}
			_ = w.bw.Flush()
			ok = false
		}
	}()
	h.ServeHTTP(w, r)
	return true
}

// requestBody wraps the parsed body to send "100 Continue" on first read and
// to remember whether the body was consumed.
type requestBody struct {
	rc        io.ReadCloser
	continueW *bufio.Writer
	used      bool
	sawEOF    bool
}

func (b *requestBody) Read(p []byte) (int, error) {
	if b.continueW != nil {
		if err := http1.WriteContinue(b.continueW); err == nil {
			_ = b.continueW.Flush()
		}
		b.continueW = nil
	}
	b.used = true
	n, err := b.rc.Read(p)
	if err == io.EOF {
		b.sawEOF = true
	}
	return n, err
}

func (b *requestBody) Close() error { return b.rc.Close() }

// connResponseWriter streams the response to the client. If keepAlive is true
// and Content-Length is not set for HTTP/1.1, it enables chunked encoding.
type connResponseWriter struct {
	bw        *bufio.Writer
	proto     string
	method    string
	keepAlive bool
	status    int
	wroteHdr  bool
	chunked   bool
	hasLength bool
	remain    int64
	written   int64
	err       error
	hdr       Header
}

func (w *connResponseWriter) Header() Header {
	if w.hdr == nil {
		w.hdr = Header{}
	}
	return w.hdr
}

// bodyless reports whether the response must not carry a body.
func (w *connResponseWriter) bodyless() bool {
	return noResponseBody(w.status, w.method)
}

func (w *connResponseWriter) startIfNeeded() error {
	if w.wroteHdr {
		return w.err
	}
	w.wroteHdr = true
	if w.status == 0 {
		w.status = 200
	}
	if strings.EqualFold(w.hdr.Get("Connection"), "close") {
		w.keepAlive = false
	}
	if v := w.hdr.Get("Content-Length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			w.hdr.Del("Content-Length")
		} else {
			w.hasLength = true
			w.remain = n
		}
	}
	switch {
	case w.status == 204 || w.status == 304 || (w.status >= 100 && w.status < 200):
		w.hdr.Del("Content-Length")
		w.hasLength = false
	case w.hasLength || w.method == "HEAD":
	case w.proto == "HTTP/1.1":
		w.chunked = true
	default:
		// HTTP/1.0 without a length: the body ends when the connection closes.
		w.keepAlive = false
	}
	w.err = http1.StartResponse(w.bw, w.status, "", w.hdr, w.chunked, w.keepAlive)
	return w.err
}

func (w *connResponseWriter) WriteHeader(status int) {
	if w.wroteHdr {
		return
	}
	if status == 0 {
		status = 200
	}
	w.status = status
	_ = w.startIfNeeded() // best-effort; error will surface on Write/Flush
}

func (w *connResponseWriter) Write(p []byte) (int, error) {
	if err := w.startIfNeeded(); err != nil {
		return 0, err
	}
	if w.bodyless() {
		return len(p), nil
	}
	if w.hasLength {
		if int64(len(p)) > w.remain {
			return 0, ErrBodyTooLarge
		}
		w.remain -= int64(len(p))
	}
	var n int
	var err error
	if w.chunked {
		n, err = http1.WriteChunked(w.bw, p)
	} else {
		n, err = w.bw.Write(p)
	}
	w.written += int64(n)
	if err != nil {
		w.err = err
	}
	return n, err
}

func (w *connResponseWriter) Flush() error {
	if err := w.startIfNeeded(); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		w.err = err
		return err
	}
	return nil
}

// finish writes the chunked terminator and checks that a declared
// Content-Length was honored.
func (w *connResponseWriter) finish() error {
	if err := w.startIfNeeded(); err != nil {
		return err
	}
	if w.chunked {
		return http1.EndChunked(w.bw)
	}
	if w.hasLength && w.remain > 0 && !w.bodyless() {
		return ErrShortBody
	}
	return nil
}

func noResponseBody(status int, method string) bool {
	if method == "HEAD" {
		return true
	}
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

func isNetClosing(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

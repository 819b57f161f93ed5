package webserver

import (
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"dqx0.com/go/webd/httpx"
	"dqx0.com/go/webd/internal/obs"
)

// ServeHTTP dispatches one request to the best matching handler. It is the
// callback of the daemons started by Start and can be mounted on any
// httpx.Server.
func (s *Server) ServeHTTP(w httpx.ResponseWriter, r *httpx.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}
	req := newRequest(s, r)

	s.dispatch(sw, req)

	status := sw.status
	if status == 0 {
		status = 200
	}
	s.meter().Counter("webserver.requests", 1, obs.Label{Key: "status", Value: strconv.Itoa(status)})
	s.meter().Histogram("webserver.bytes", float64(sw.written))
	cid, _ := httpx.CorrelationIDFrom(r.Context())
	s.logger().Logf(obs.Debug, "webserver: id=%s cid=%s %s %s %s -> %d (%d bytes, %v)",
		r.RequestID, cid, r.Method, r.RequestURI, r.Proto, status, sw.written, time.Since(start))
}

func (s *Server) dispatch(w httpx.ResponseWriter, req *Request) {
	if !s.authorized(req.Header("Authorization")) {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+s.realm()+`"`)
		s.writeError(w, req, 401, nil)
		return
	}

	tmpl := s.handlers.find(req)
	if tmpl == nil {
		if req.Method == MethodUnknown {
			s.writeError(w, req, 501, nil)
		} else {
			s.writeError(w, req, 404, nil)
		}
		return
	}
	h := tmpl.Create(req)
	if h == nil {
		s.logger().Logf(obs.Error, "webserver: %T created no instance for %s", tmpl, req.FullPath)
		s.writeError(w, req, 500, nil)
		return
	}

	if req.Method == MethodPost {
		s.handlePost(w, req, h)
		return
	}

	switch s.checkPreconditions(req, h) {
	case 304:
		s.writeNotModified(w, h)
		return
	case 412:
		s.writeError(w, req, 412, nil)
		return
	}

	h.SetRequestRanged(isRanged(req, h))
	if !s.invoke(req, h) {
		s.writeError(w, req, 500, nil)
		return
	}
	s.finalize(w, req, h)
}

// checkPreconditions evaluates If-Modified-Since and If-Unmodified-Since for
// cacheable handlers. It returns 304, 412 or 0 to continue.
func (s *Server) checkPreconditions(req *Request, h RequestHandler) int {
	if req.Method != MethodGet && req.Method != MethodHead {
		return 0
	}
	if !h.CanBeCached() || noCache(req) {
		return 0
	}
	lm, ok := h.LastModified()
	if !ok {
		return 0
	}
	lm = lm.UTC().Truncate(time.Second)

	if ims, ok := ParseHTTPDate(req.Header("If-Modified-Since")); ok {
		if !lm.After(ims) {
			return 304
		}
		return 0
	}
	if ius, ok := ParseHTTPDate(req.Header("If-Unmodified-Since")); ok && lm.After(ius) {
		return 412
	}
	return 0
}

func noCache(req *Request) bool {
	for _, key := range []string{"Cache-Control", "Pragma"} {
		for _, v := range req.HeaderValues(key) {
			for _, tok := range strings.Split(v, ",") {
				if strings.EqualFold(strings.TrimSpace(tok), "no-cache") {
					return true
				}
			}
		}
	}
	return false
}

// isRanged reports whether the Range header applies. An If-Range entity tag,
// or an If-Range date older than the last modification, voids it.
func isRanged(req *Request, h RequestHandler) bool {
	if !req.HasRangeHeader() || !h.CanHandleRanges() {
		return false
	}
	ifRange := req.Header("If-Range")
	if ifRange == "" {
		return true
	}
	d, ok := ParseHTTPDate(ifRange)
	if !ok {
		return false
	}
	lm, ok := h.LastModified()
	if !ok {
		return false
	}
	return !lm.UTC().Truncate(time.Second).After(d)
}

// invoke runs HandleRequest and reports whether it completed. Panics are
// recovered so a faulty handler only fails its own request.
func (s *Server) invoke(req *Request, h RequestHandler) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger().Logf(obs.Error, "webserver: panic in %T for %s: %v\n%s", h, req.FullPath, p, debug.Stack())
			ok = false
		}
	}()
	if err := h.HandleRequest(); err != nil {
		s.logger().Logf(obs.Error, "webserver: %T failed for %s: %v", h, req.FullPath, err)
		return false
	}
	return true
}

// statusWriter records the status and body size written for a request.
type statusWriter struct {
	httpx.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = 200
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *statusWriter) Flush() error {
	if f, ok := w.ResponseWriter.(httpx.Flusher); ok {
		return f.Flush()
	}
	return nil
}

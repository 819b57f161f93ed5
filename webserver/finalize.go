package webserver

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dqx0.com/go/webd/httprange"
	"dqx0.com/go/webd/httpx"
	"dqx0.com/go/webd/internal/obs"
)

const (
	noCacheControl  = "private, max-age=0, no-cache"
	defaultFileType = "application/octet-stream"
	streamChunk     = 32 << 10
)

// finalize turns the response declared by h into status, headers and body.
func (s *Server) finalize(w httpx.ResponseWriter, req *Request, h RequestHandler) {
	resp := h.Response()
	switch resp.Kind {
	case ResponseError:
		s.writeError(w, req, resp.Status, h)
	case ResponseRedirect:
		s.writeRedirect(w, req, h)
	case ResponseMemoryDownload:
		s.writeMemory(w, req, h)
	case ResponseFileDownload:
		s.writeFile(w, req, h)
	default:
		s.logger().Logf(obs.Error, "webserver: %T declared no response for %s", h, req.FullPath)
		s.writeError(w, req, 500, nil)
	}
}

// setHeaders applies the handler declared headers and fills Content-Type,
// Last-Modified, caching and Accept-Ranges where the handler left them out.
func (s *Server) setHeaders(hdr httpx.Header, h RequestHandler, contentType string) {
	for k, vs := range h.Response().Headers {
		for _, v := range vs {
			hdr.Add(k, v)
		}
	}
	if contentType != "" && !hdr.Has("Content-Type") {
		hdr.Set("Content-Type", contentType)
	}
	if lm, ok := h.LastModified(); ok && !hdr.Has("Last-Modified") {
		hdr.Set("Last-Modified", FormatHTTPDate(lm))
	}
	s.setCacheHeaders(hdr, h)
	setAcceptRanges(hdr, h)
}

func setAcceptRanges(hdr httpx.Header, h RequestHandler) {
	if hdr.Has("Accept-Ranges") {
		return
	}
	if h.CanHandleRanges() {
		hdr.Set("Accept-Ranges", "bytes")
	} else {
		hdr.Set("Accept-Ranges", "none")
	}
}

func (s *Server) setCacheHeaders(hdr httpx.Header, h RequestHandler) {
	if hdr.Has("Cache-Control") {
		return
	}
	maxAge := h.MaxAge()
	if !h.CanBeCached() || maxAge <= 0 {
		hdr.Set("Cache-Control", noCacheControl)
		return
	}
	cc := "public, max-age=" + strconv.Itoa(maxAge)
	if hdr.Has("Set-Cookie") {
		cc += `, no-cache="set-cookie"`
	}
	hdr.Set("Cache-Control", cc)
	hdr.Set("Expires", FormatHTTPDate(s.now().Add(time.Duration(maxAge)*time.Second)))
}

func (s *Server) writeNotModified(w httpx.ResponseWriter, h RequestHandler) {
	hdr := w.Header()
	if lm, ok := h.LastModified(); ok {
		hdr.Set("Last-Modified", FormatHTTPDate(lm))
	}
	s.setCacheHeaders(hdr, h)
	w.WriteHeader(304)
}

// writeError sends the fixed page of status. When h is given its declared
// headers and Accept-Ranges are sent too; content type and caching are
// always those of the error page.
func (s *Server) writeError(w httpx.ResponseWriter, req *Request, status int, h RequestHandler) {
	if status < 400 {
		status = 500
	}
	hdr := w.Header()
	if h != nil {
		for k, vs := range h.Response().Headers {
			for _, v := range vs {
				hdr.Add(k, v)
			}
		}
		setAcceptRanges(hdr, h)
	}
	body := ErrorPage(status)
	hdr.Set("Content-Type", "text/html")
	hdr.Set("Cache-Control", noCacheControl)
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if req.Method != MethodHead && body != "" {
		_, _ = io.WriteString(w, body)
	}
}

func (s *Server) writeRedirect(w httpx.ResponseWriter, req *Request, h RequestHandler) {
	location := h.RedirectURL()
	if location == "" {
		s.logger().Logf(obs.Error, "webserver: %T redirected %s without a location", h, req.FullPath)
		s.writeError(w, req, 500, nil)
		return
	}
	status := h.Response().Status
	if status == 0 {
		status = 301
	}
	hdr := w.Header()
	s.setHeaders(hdr, h, "")
	hdr.Set("Location", location)
	hdr.Set("Content-Length", "0")
	w.WriteHeader(status)
}

func (s *Server) writeMemory(w httpx.ResponseWriter, req *Request, h RequestHandler) {
	resp := h.Response()
	parts := h.ResponseData()
	if resp.CopyData {
		parts = copyParts(parts)
	}
	total := resp.TotalLength
	if total == 0 {
		total = entityLength(parts)
	}
	requested, sliced := 0, false
	if h.IsRequestRanged() && h.CanHandleRanges() {
		rs := req.RequestedRanges(total)
		requested = rs.Size()
		if len(parts) == 1 && isWhole(parts[0], total) && requested > 0 {
			parts, sliced = sliceParts(parts[0].Data, rs), true
		}
	}
	if len(parts) > 1 && len(parts) > requested {
		s.logger().Logf(obs.Error, "webserver: %T answered %s with %d ranges, %d requested", h, req.FullPath, len(parts), requested)
		s.writeError(w, req, 500, nil)
		return
	}

	hdr := w.Header()
	status := resp.Status
	if status == 0 {
		status = 200
	}
	var body []byte
	switch {
	case len(parts) > 1:
		boundary := httprange.GenerateBoundary()
		body = multipartBody(parts, boundary, resp.ContentType, total)
		s.setHeaders(hdr, h, "")
		hdr.Set("Content-Type", httprange.MultipartContentType(boundary))
		status = 206
	case len(parts) == 1 && (sliced || !isWhole(parts[0], total)):
		body = parts[0].Data
		s.setHeaders(hdr, h, resp.ContentType)
		hdr.Set("Content-Range", httprange.GenerateContentRangeHeader(parts[0].First, parts[0].Last, total))
		status = 206
	default:
		if len(parts) == 1 {
			body = parts[0].Data
		}
		s.setHeaders(hdr, h, resp.ContentType)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if req.Method != MethodHead && len(body) > 0 {
		_, _ = w.Write(body)
	}
}

func (s *Server) writeFile(w httpx.ResponseWriter, req *Request, h RequestHandler) {
	path := h.ResponseFile()
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeError(w, req, 404, nil)
			return
		}
		s.logger().Logf(obs.Error, "webserver: open %s: %v", path, err)
		s.writeError(w, req, 500, nil)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		s.logger().Logf(obs.Error, "webserver: stat %s: %v", path, err)
		s.writeError(w, req, 500, nil)
		return
	}
	if fi.IsDir() {
		s.writeError(w, req, 404, nil)
		return
	}

	resp := h.Response()
	total := uint64(fi.Size())
	contentType := resp.ContentType
	if contentType == "" {
		if contentType = mime.TypeByExtension(filepath.Ext(path)); contentType == "" {
			contentType = defaultFileType
		}
	}

	var ranges []httprange.Range
	if h.IsRequestRanged() && h.CanHandleRanges() && total > 0 {
		ranges = req.RequestedRanges(total).Slice()
	}
	status := resp.Status
	if status == 0 || status == 206 {
		status = 200
	}

	hdr := w.Header()
	var boundary string
	var length uint64
	switch len(ranges) {
	case 0:
		if total > 0 {
			ranges = []httprange.Range{httprange.NewRange(0, total-1)}
		}
		length = total
		s.setHeaders(hdr, h, contentType)
	case 1:
		length = ranges[0].Length()
		s.setHeaders(hdr, h, contentType)
		hdr.Set("Content-Range", httprange.GenerateContentRangeHeader(ranges[0].First, ranges[0].Last, total))
		status = 206
	default:
		boundary = httprange.GenerateBoundary()
		length = multipartLength(ranges, boundary, contentType, total)
		s.setHeaders(hdr, h, "")
		hdr.Set("Content-Type", httprange.MultipartContentType(boundary))
		status = 206
	}
	hdr.Set("Content-Length", strconv.FormatUint(length, 10))
	w.WriteHeader(status)
	if req.Method == MethodHead || length == 0 {
		return
	}

	rs := newRangeStreamer(f, ranges, boundary, contentType, total)
	if _, err := io.CopyBuffer(w, rs, make([]byte, streamChunk)); err != nil {
		s.logger().Logf(obs.Warn, "webserver: streaming %s aborted: %v", path, err)
	}
}

func copyParts(parts []httprange.ResponseRange) []httprange.ResponseRange {
	out := make([]httprange.ResponseRange, len(parts))
	for i, p := range parts {
		out[i] = httprange.NewResponseRange(p.First, p.Last, bytes.Clone(p.Data))
	}
	return out
}

func entityLength(parts []httprange.ResponseRange) uint64 {
	var n uint64
	for _, p := range parts {
		if p.Last+1 > n {
			n = p.Last + 1
		}
	}
	return n
}

// isWhole reports whether p carries the complete entity of total bytes.
func isWhole(p httprange.ResponseRange, total uint64) bool {
	return p.First == 0 && p.Last+1 == total && uint64(len(p.Data)) == total
}

func sliceParts(data []byte, rs *httprange.Ranges) []httprange.ResponseRange {
	out := make([]httprange.ResponseRange, 0, rs.Size())
	for _, r := range rs.All() {
		out = append(out, httprange.NewResponseRange(r.First, r.Last, data[r.First:r.Last+1]))
	}
	return out
}

func multipartBody(parts []httprange.ResponseRange, boundary, contentType string, total uint64) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString(httprange.GenerateBoundaryHeaderWithRange(boundary, contentType, p.Range, total))
		buf.Write(p.Data)
		buf.WriteString(httprange.CRLF)
	}
	buf.WriteString(httprange.GenerateBoundaryEnd(boundary))
	return buf.Bytes()
}

// multipartLength is the exact size of the multipart/byteranges body the
// rangeStreamer produces for ranges.
func multipartLength(ranges []httprange.Range, boundary, contentType string, total uint64) uint64 {
	var n uint64
	for _, r := range ranges {
		n += uint64(len(httprange.GenerateBoundaryHeaderWithRange(boundary, contentType, r, total)))
		n += r.Length()
		n += uint64(len(httprange.CRLF))
	}
	return n + uint64(len(httprange.GenerateBoundaryEnd(boundary)))
}

package webserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dqx0.com/go/webd/httprange"
	"dqx0.com/go/webd/internal/obs"
)

const payload = "0123456789abcdefghij"

var modTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// stubHandler serves whatever its serve func declares for paths below prefix.
type stubHandler struct {
	BaseHandler
	prefix    string
	prio      int
	cacheable bool
	ranges    bool
	maxAge    int
	rejectRaw bool
	serve     func(h *stubHandler) error
	calls     *atomic.Int32
	raw       *bytes.Buffer
}

func (h *stubHandler) CanHandleRequest(r *Request) bool {
	return strings.HasPrefix(r.FullPath, h.prefix)
}

func (h *stubHandler) Create(r *Request) RequestHandler {
	c := *h
	c.BaseHandler = NewBaseHandler(r)
	c.raw = &bytes.Buffer{}
	return &c
}

func (h *stubHandler) Priority() int         { return h.prio }
func (h *stubHandler) CanHandleRanges() bool { return h.ranges }
func (h *stubHandler) CanBeCached() bool     { return h.cacheable }
func (h *stubHandler) MaxAge() int           { return h.maxAge }

func (h *stubHandler) LastModified() (time.Time, bool) {
	if !h.cacheable {
		return time.Time{}, false
	}
	return modTime, true
}

func (h *stubHandler) AddPostData(p []byte) bool {
	if h.rejectRaw {
		return false
	}
	h.raw.Write(p)
	return true
}

func (h *stubHandler) HandleRequest() error {
	if h.calls != nil {
		h.calls.Add(1)
	}
	return h.serve(h)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Chtimes(p, modTime, modTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return p
}

func fileStub(path string) *stubHandler {
	return &stubHandler{
		prefix:    "/file",
		cacheable: true,
		ranges:    true,
		maxAge:    3600,
		calls:     &atomic.Int32{},
		serve: func(h *stubHandler) error {
			h.SetFileResponse(path, 0)
			return nil
		},
	}
}

func memoryStub() *stubHandler {
	return &stubHandler{
		prefix: "/mem",
		ranges: true,
		serve: func(h *stubHandler) error {
			h.SetMemoryResponse("text/plain", []byte(payload))
			return nil
		},
	}
}

func startWeb(t *testing.T, cfg Config, user, pass string, hs ...RequestHandler) (*Server, string) {
	t.Helper()
	s := New(cfg)
	for _, h := range hs {
		if err := s.RegisterRequestHandler(h); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := s.Start(0, user, pass); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	for _, a := range s.Addrs() {
		if ta, ok := a.(*net.TCPAddr); ok && ta.IP.To4() != nil {
			return s, "http://127.0.0.1:" + strconv.Itoa(ta.Port)
		}
	}
	t.Fatalf("no tcp4 listener in %v", s.Addrs())
	return nil, ""
}

var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func do(t *testing.T, method, url string, hdr map[string]string, body io.Reader) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(b)
}

// rawExchange writes a request verbatim and reads one response.
func rawExchange(t *testing.T, base, request string) (*http.Response, string) {
	t.Helper()
	c, err := net.Dial("tcp", strings.TrimPrefix(base, "http://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.WriteString(c, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(c), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestHEAD_HeadersOnly(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	resp, body := do(t, "HEAD", base+"/file", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body != "" {
		t.Fatalf("HEAD body=%q", body)
	}
	if got := resp.Header.Get("Content-Length"); got != "20" {
		t.Fatalf("Content-Length=%q", got)
	}
	if got := resp.Header.Get("Last-Modified"); got != FormatHTTPDate(modTime) {
		t.Fatalf("Last-Modified=%q", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges=%q", got)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("Content-Type=%q", got)
	}
}

func TestFile_WholeEntityRange(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	resp, body := do(t, "GET", base+"/file", map[string]string{"Range": "bytes=0-"}, nil)
	if resp.StatusCode != 206 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-19/20" {
		t.Fatalf("Content-Range=%q", got)
	}
	if body != payload {
		t.Fatalf("body=%q", body)
	}
}

func TestFile_NoRangeIsWholeFile(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	resp, body := do(t, "GET", base+"/file", nil, nil)
	if resp.StatusCode != 200 || body != payload {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Range") != "" {
		t.Fatalf("unexpected Content-Range %q", resp.Header.Get("Content-Range"))
	}
}

func TestFile_MalformedRangeServesWhole(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	resp, body := do(t, "GET", base+"/file", map[string]string{"Range": "bytes=30-40"}, nil)
	if resp.StatusCode != 200 || body != payload {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func checkMultipart(t *testing.T, resp *http.Response, body string, want [][2]string) {
	t.Helper()
	if resp.StatusCode != 206 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	mt, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "multipart/byteranges" {
		t.Fatalf("Content-Type=%q err=%v", resp.Header.Get("Content-Type"), err)
	}
	if resp.ContentLength != int64(len(body)) {
		t.Fatalf("Content-Length=%d, body has %d bytes", resp.ContentLength, len(body))
	}
	if !strings.HasSuffix(body, "--"+params["boundary"]+"--\r\n") {
		t.Fatalf("body does not end with the boundary terminator: %q", body)
	}
	mr := multipart.NewReader(strings.NewReader(body), params["boundary"])
	for i, w := range want {
		p, err := mr.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if got := p.Header.Get("Content-Range"); got != w[0] {
			t.Fatalf("part %d Content-Range=%q, want %q", i, got, w[0])
		}
		b, _ := io.ReadAll(p)
		if string(b) != w[1] {
			t.Fatalf("part %d data=%q, want %q", i, b, w[1])
		}
	}
	if _, err := mr.NextPart(); err != io.EOF {
		t.Fatalf("expected EOF after parts, got %v", err)
	}
}

func TestFile_MultipleRanges(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	resp, body := do(t, "GET", base+"/file", map[string]string{"Range": "bytes=10-12,0-3"}, nil)
	checkMultipart(t, resp, body, [][2]string{
		{"bytes 0-3/20", "0123"},
		{"bytes 10-12/20", "abc"},
	})
}

func TestMemory_Ranges(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "", memoryStub())

	resp, body := do(t, "GET", base+"/mem", map[string]string{"Range": "bytes=-2"}, nil)
	if resp.StatusCode != 206 || body != "ij" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 18-19/20" {
		t.Fatalf("Content-Range=%q", got)
	}

	resp, body = do(t, "GET", base+"/mem", map[string]string{"Range": "bytes=0-0,5-6"}, nil)
	checkMultipart(t, resp, body, [][2]string{
		{"bytes 0-0/20", "0"},
		{"bytes 5-6/20", "56"},
	})

	for _, rng := range []string{"bytes=0-", "bytes=0-19"} {
		resp, body = do(t, "GET", base+"/mem", map[string]string{"Range": rng}, nil)
		if resp.StatusCode != 206 || body != payload {
			t.Fatalf("%s: status=%d body=%q", rng, resp.StatusCode, body)
		}
		if got := resp.Header.Get("Content-Range"); got != "bytes 0-19/20" {
			t.Fatalf("%s: Content-Range=%q", rng, got)
		}
	}

	resp, body = do(t, "GET", base+"/mem", nil, nil)
	if resp.StatusCode != 200 || body != payload {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Range") != "" {
		t.Fatalf("unranged Content-Range=%q", resp.Header.Get("Content-Range"))
	}
}

// slicedStub answers with ranges it slices itself.
func slicedStub(prefix string, ranges ...[2]uint64) *stubHandler {
	return &stubHandler{
		prefix: prefix,
		ranges: true,
		serve: func(h *stubHandler) error {
			var parts []httprange.ResponseRange
			for _, r := range ranges {
				parts = append(parts, httprange.NewResponseRange(r[0], r[1], []byte(payload[r[0]:r[1]+1])))
			}
			h.SetResponseRanges("text/plain", parts, uint64(len(payload)))
			return nil
		},
	}
}

func TestMemory_PreslicedRanges(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "",
		slicedStub("/one", [2]uint64{2, 5}),
		slicedStub("/two", [2]uint64{0, 1}, [2]uint64{10, 11}),
	)

	resp, body := do(t, "GET", base+"/one", map[string]string{"Range": "bytes=2-5"}, nil)
	if resp.StatusCode != 206 || body != "2345" {
		t.Fatalf("single: status=%d body=%q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 2-5/20" {
		t.Fatalf("single: Content-Range=%q", got)
	}

	resp, body = do(t, "GET", base+"/two", map[string]string{"Range": "bytes=0-1,10-11"}, nil)
	checkMultipart(t, resp, body, [][2]string{
		{"bytes 0-1/20", "01"},
		{"bytes 10-11/20", "ab"},
	})

	// more parts than the request asked for
	for _, hdr := range []map[string]string{nil, {"Range": "bytes=0-1"}} {
		if resp, _ := do(t, "GET", base+"/two", hdr, nil); resp.StatusCode != 500 {
			t.Fatalf("Range=%q: status=%d, want 500", hdr["Range"], resp.StatusCode)
		}
	}
}

func TestMemory_CopyData(t *testing.T) {
	buf := []byte(payload)
	h := &stubHandler{prefix: "/copy", serve: func(h *stubHandler) error {
		h.SetMemoryResponse("text/plain", buf)
		h.SetStatus(ResponseMemoryDownload, 203)
		h.Response().CopyData = true
		return nil
	}}
	_, base := startWeb(t, Config{}, "", "", h)

	resp, body := do(t, "GET", base+"/copy", nil, nil)
	if resp.StatusCode != 203 || body != payload {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}

	parts := []httprange.ResponseRange{httprange.NewResponseRange(0, 19, buf)}
	cp := copyParts(parts)
	buf[0] = 'X'
	if string(cp[0].Data) != payload || cp[0].Range != parts[0].Range {
		t.Fatalf("copy changed with its source: %q %v", cp[0].Data, cp[0].Range)
	}
}

func TestErrorKeepsHandlerHeaders(t *testing.T) {
	h := &stubHandler{prefix: "/busy", ranges: true, serve: func(h *stubHandler) error {
		h.AddHeader("Retry-After", "30")
		h.SetError(403)
		return nil
	}}
	_, base := startWeb(t, Config{}, "", "", h)

	resp, _ := do(t, "GET", base+"/busy", nil, nil)
	if resp.StatusCode != 403 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "30" {
		t.Fatalf("Retry-After=%q", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges=%q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != noCacheControl {
		t.Fatalf("Cache-Control=%q", got)
	}
}

func TestIfModifiedSince_NotModified(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	h := fileStub(path)
	_, base := startWeb(t, Config{}, "", "", h)

	ims := FormatHTTPDate(modTime.Add(time.Hour))
	resp, body := do(t, "GET", base+"/file", map[string]string{"If-Modified-Since": ims, "Range": "bytes=0-1"}, nil)
	if resp.StatusCode != 304 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body != "" {
		t.Fatalf("304 body=%q", body)
	}
	if resp.Header.Get("Content-Range") != "" {
		t.Fatalf("304 carries Content-Range %q", resp.Header.Get("Content-Range"))
	}
	if got := resp.Header.Get("Last-Modified"); got != FormatHTTPDate(modTime) {
		t.Fatalf("Last-Modified=%q", got)
	}
	if n := h.calls.Load(); n != 0 {
		t.Fatalf("HandleRequest ran %d times", n)
	}
}

func TestIfModifiedSince_OlderDateServes(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	ims := FormatHTTPDate(modTime.Add(-time.Hour))
	resp, body := do(t, "GET", base+"/file", map[string]string{"If-Modified-Since": ims}, nil)
	if resp.StatusCode != 200 || body != payload {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestNoCacheBypassesConditional(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	ims := FormatHTTPDate(modTime.Add(time.Hour))
	for _, hdr := range []map[string]string{
		{"If-Modified-Since": ims, "Cache-Control": "max-age=0, no-cache"},
		{"If-Modified-Since": ims, "Pragma": "no-cache"},
	} {
		resp, _ := do(t, "GET", base+"/file", hdr, nil)
		if resp.StatusCode != 200 {
			t.Fatalf("%v: status=%d", hdr, resp.StatusCode)
		}
	}
}

func TestIfUnmodifiedSince_PreconditionFailed(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	ius := modTime.Add(-time.Hour).Format(time.RFC850)
	resp, body := do(t, "GET", base+"/file", map[string]string{"If-Unmodified-Since": ius}, nil)
	if resp.StatusCode != 412 || body != ErrorPage(412) {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestIfRange(t *testing.T) {
	path := writeTempFile(t, "a.txt", payload)
	_, base := startWeb(t, Config{}, "", "", fileStub(path))

	cases := []struct {
		ifRange string
		status  int
	}{
		{FormatHTTPDate(modTime), 206},
		{FormatHTTPDate(modTime.Add(-time.Hour)), 200},
		{`"some-etag"`, 200},
	}
	for _, tc := range cases {
		resp, _ := do(t, "GET", base+"/file", map[string]string{"Range": "bytes=0-1", "If-Range": tc.ifRange}, nil)
		if resp.StatusCode != tc.status {
			t.Fatalf("If-Range %q: status=%d, want %d", tc.ifRange, resp.StatusCode, tc.status)
		}
	}
}

func TestNotFound(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "", memoryStub())

	resp, body := do(t, "GET", base+"/nothing/here", nil, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body != ErrorPage(404) {
		t.Fatalf("body=%q", body)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/html" {
		t.Fatalf("Content-Type=%q", got)
	}
}

func TestUnknownMethod_NotImplemented(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "")

	resp, body := do(t, "DELETE", base+"/x", nil, nil)
	if resp.StatusCode != 501 || body != ErrorPage(501) {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestMissingFileIs404(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "", fileStub(filepath.Join(t.TempDir(), "gone.txt")))

	resp, _ := do(t, "GET", base+"/file", nil, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	s, base := startWeb(t, Config{Realm: "media"}, "kodi", "secret", memoryStub())

	resp, body := do(t, "GET", base+"/mem", nil, nil)
	if resp.StatusCode != 401 || body != ErrorPage(401) {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="media"` {
		t.Fatalf("WWW-Authenticate=%q", got)
	}

	req, _ := http.NewRequest("GET", base+"/mem", nil)
	req.SetBasicAuth("kodi", "wrong")
	if r, err := http.DefaultClient.Do(req); err != nil || r.StatusCode != 401 {
		t.Fatalf("wrong password: %v %v", r, err)
	} else {
		r.Body.Close()
	}

	req.SetBasicAuth("kodi", "secret")
	r, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != 200 {
		t.Fatalf("authorized status=%d", r.StatusCode)
	}

	s.SetCredentials("", "")
	if resp, _ := do(t, "GET", base+"/mem", nil, nil); resp.StatusCode != 200 {
		t.Fatalf("status without password=%d", resp.StatusCode)
	}
}

func TestPriorityAndTies(t *testing.T) {
	mk := func(name string, prio int) *stubHandler {
		return &stubHandler{
			prefix: "/p",
			prio:   prio,
			serve: func(h *stubHandler) error {
				h.SetMemoryResponse("text/plain", []byte(name))
				return nil
			},
		}
	}
	low, first, second := mk("low", 1), mk("first", 5), mk("second", 5)
	s, base := startWeb(t, Config{}, "", "", low, first, second)

	if _, body := do(t, "GET", base+"/p", nil, nil); body != "first" {
		t.Fatalf("served by %q", body)
	}
	hs := s.Handlers()
	if len(hs) != 3 || hs[0] != first || hs[1] != second || hs[2] != low {
		t.Fatalf("order=%v", hs)
	}
	if err := s.RegisterRequestHandler(first); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate register: %v", err)
	}
	if !s.UnregisterRequestHandler(first) {
		t.Fatal("unregister failed")
	}
	if _, body := do(t, "GET", base+"/p", nil, nil); body != "second" {
		t.Fatalf("served by %q after unregister", body)
	}
}

func echoFields(h *stubHandler) error {
	var b strings.Builder
	for _, k := range []string{"a", "b", "c"} {
		fmt.Fprintf(&b, "%s=%s;", k, h.PostFields().Get(k))
	}
	b.WriteString(h.raw.String())
	h.SetMemoryResponse("text/plain", []byte(b.String()))
	return nil
}

func postStub() *stubHandler {
	return &stubHandler{prefix: "/post", serve: echoFields, calls: &atomic.Int32{}}
}

func TestPost_FormUrlencoded(t *testing.T) {
	h := postStub()
	_, base := startWeb(t, Config{}, "", "", h)

	resp, body := do(t, "POST", base+"/post", map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		strings.NewReader("a=1&b=hello+world&c=%26"))
	if resp.StatusCode != 200 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if body != "a=1;b=hello world;c=&;" {
		t.Fatalf("body=%q", body)
	}
	if n := h.calls.Load(); n != 1 {
		t.Fatalf("HandleRequest ran %d times", n)
	}
}

func TestPost_Multipart(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "", postStub())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("a", "x")
	_ = mw.WriteField("c", "z")
	_ = mw.Close()

	resp, body := do(t, "POST", base+"/post", map[string]string{"Content-Type": mw.FormDataContentType()}, &buf)
	if resp.StatusCode != 200 || body != "a=x;b=;c=z;" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}

	resp, _ = do(t, "POST", base+"/post", map[string]string{"Content-Type": "multipart/form-data"}, strings.NewReader("x"))
	if resp.StatusCode != 400 {
		t.Fatalf("missing boundary status=%d", resp.StatusCode)
	}
}

func TestPost_Raw(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "", postStub())

	resp, body := do(t, "POST", base+"/post", map[string]string{"Content-Type": "application/json"}, strings.NewReader(`{"k":1}`))
	if resp.StatusCode != 200 || body != `a=;b=;c=;{"k":1}` {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestPost_RejectedRawData(t *testing.T) {
	h := postStub()
	h.rejectRaw = true
	_, base := startWeb(t, Config{}, "", "", h)

	resp, _ := do(t, "POST", base+"/post", map[string]string{"Content-Type": "application/octet-stream"}, strings.NewReader("data"))
	if resp.StatusCode != 413 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if h.calls.Load() != 0 {
		t.Fatal("HandleRequest ran for a rejected body")
	}
}

func TestPost_TooLarge(t *testing.T) {
	_, base := startWeb(t, Config{MaxPostSize: 8}, "", "", postStub())

	resp, body := do(t, "POST", base+"/post", nil, strings.NewReader(payload))
	if resp.StatusCode != 413 || body != ErrorPage(413) {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}

	chunked := "POST /post HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n" +
		"6\r\nabcdef\r\n6\r\nghijkl\r\n0\r\n\r\n"
	resp, _ = rawExchange(t, base, chunked)
	if resp.StatusCode != 413 {
		t.Fatalf("chunked status=%d", resp.StatusCode)
	}
}

func TestPost_LengthRequiredForHTTP10(t *testing.T) {
	_, base := startWeb(t, Config{}, "", "", postStub())

	resp, body := rawExchange(t, base, "POST /post HTTP/1.0\r\n\r\n")
	if resp.StatusCode != 411 || body != ErrorPage(411) {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestHandlerPanicIs500(t *testing.T) {
	bad := &stubHandler{prefix: "/bad", serve: func(*stubHandler) error { panic("boom") }}
	failing := &stubHandler{prefix: "/fail", serve: func(*stubHandler) error { return errors.New("broken") }}
	none := &stubHandler{prefix: "/none", serve: func(*stubHandler) error { return nil }}
	_, base := startWeb(t, Config{}, "", "", bad, failing, none, memoryStub())

	for _, p := range []string{"/bad", "/fail", "/none"} {
		if resp, _ := do(t, "GET", base+p, nil, nil); resp.StatusCode != 500 {
			t.Fatalf("%s status=%d", p, resp.StatusCode)
		}
	}
	if resp, _ := do(t, "GET", base+"/mem", nil, nil); resp.StatusCode != 200 {
		t.Fatalf("server unusable after panic: %d", resp.StatusCode)
	}
}

func TestRedirect(t *testing.T) {
	h := &stubHandler{prefix: "/dir", serve: func(h *stubHandler) error {
		h.SetRedirect("/dir/", 0)
		return nil
	}}
	_, base := startWeb(t, Config{}, "", "", h)

	resp, body := do(t, "GET", base+"/dir", nil, nil)
	if resp.StatusCode != 301 || body != "" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Location"); got != "/dir/" {
		t.Fatalf("Location=%q", got)
	}
}

func TestCacheHeaders(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cached := &stubHandler{prefix: "/cached", cacheable: true, maxAge: 60, serve: func(h *stubHandler) error {
		h.SetMemoryResponse("text/plain", []byte("x"))
		return nil
	}}
	cookie := &stubHandler{prefix: "/cookie", cacheable: true, maxAge: 60, serve: func(h *stubHandler) error {
		h.SetMemoryResponse("text/plain", []byte("x"))
		h.AddHeader("Set-Cookie", "id=1")
		return nil
	}}
	_, base := startWeb(t, Config{Now: func() time.Time { return now }}, "", "", cached, cookie, memoryStub())

	resp, _ := do(t, "GET", base+"/cached", nil, nil)
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("Cache-Control=%q", got)
	}
	if got := resp.Header.Get("Expires"); got != FormatHTTPDate(now.Add(time.Minute)) {
		t.Fatalf("Expires=%q", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "none" {
		t.Fatalf("Accept-Ranges=%q", got)
	}

	resp, _ = do(t, "GET", base+"/cookie", nil, nil)
	if got := resp.Header.Get("Cache-Control"); got != `public, max-age=60, no-cache="set-cookie"` {
		t.Fatalf("Cache-Control=%q", got)
	}

	resp, _ = do(t, "GET", base+"/mem", nil, nil)
	if got := resp.Header.Get("Cache-Control"); got != "private, max-age=0, no-cache" {
		t.Fatalf("Cache-Control=%q", got)
	}
	if resp.Header.Get("Expires") != "" {
		t.Fatal("uncacheable response has Expires")
	}
}

func TestStartStop(t *testing.T) {
	s, _ := startWeb(t, Config{}, "", "")
	if !s.IsStarted() {
		t.Fatal("not started")
	}
	if err := s.Start(0, "", ""); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsStarted() {
		t.Fatal("still started")
	}
	if err := s.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	m := &obs.MemMeter{}
	_, base := startWeb(t, Config{Meter: m}, "", "", memoryStub())

	do(t, "GET", base+"/mem", nil, nil)
	do(t, "GET", base+"/missing", nil, nil)

	if got := m.CounterValue("webserver.requests", obs.Label{Key: "status", Value: "200"}); got != 1 {
		t.Fatalf("200 count=%v", got)
	}
	if got := m.CounterValue("webserver.requests", obs.Label{Key: "status", Value: "404"}); got != 1 {
		t.Fatalf("404 count=%v", got)
	}
	if n, sum := m.HistogramStats("webserver.bytes"); n != 2 || sum != float64(len(payload)+len(ErrorPage(404))) {
		t.Fatalf("bytes histogram n=%d sum=%v", n, sum)
	}
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Logf(_ obs.Level, format string, args ...interface{}) {
	c.mu.Lock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

func (c *captureLogger) find(substr string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			return l, true
		}
	}
	return "", false
}

func TestRequestLogCarriesIDs(t *testing.T) {
	logs := &captureLogger{}
	_, base := startWeb(t, Config{Logger: logs}, "", "", memoryStub())

	do(t, "GET", base+"/mem", map[string]string{"X-Request-Id": "trace-7"}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if line, ok := logs.find("cid=trace-7"); ok {
			if strings.Contains(line, "id= ") || !strings.Contains(line, "/mem") {
				t.Fatalf("log line %q", line)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no request log line with the correlation ID")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package http1

import (
	"bufio"
	"errors"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	ErrRequestLine      = errors.New("http1: malformed request line")
	ErrHeaderLine       = errors.New("http1: malformed header line")
	ErrHeaderTooLarge   = errors.New("http1: header too large")
	ErrContentLength    = errors.New("http1: invalid Content-Length")
	ErrLengthConflict   = errors.New("http1: both Transfer-Encoding and Content-Length present")
	ErrTransferEncoding = errors.New("http1: unsupported Transfer-Encoding")
	ErrUnsupportedProto = errors.New("http1: unsupported protocol version")
)

// ParsedRequest is a minimal representation parsed from the wire.
type ParsedRequest struct {
	Method        string
	RequestURI    string
	Proto         string
	ProtoMinor    int
	Header        map[string][]string
	ContentLength int64 // -1 for chunked bodies
	Chunked       bool
	Body          io.ReadCloser
}

// Reader parses requests from BR. MaxHeaderBytes bounds a single line,
// MaxTotalHeaderBytes bounds the sum of all header field lines.
type Reader struct {
	BR                  *bufio.Reader
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
}

func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	// Tolerate empty lines before the request line (RFC 7230 section 3.5).
	for line == "" {
		if line, err = r.readLine(); err != nil {
			return nil, err
		}
	}
	method, rest, ok1 := strings.Cut(line, " ")
	uri, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || uri == "" || !httpguts.ValidHeaderFieldName(method) {
		return nil, ErrRequestLine
	}
	var minor int
	switch proto {
	case "HTTP/1.1":
		minor = 1
	case "HTTP/1.0":
		minor = 0
	default:
		return nil, ErrUnsupportedProto
	}
	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}

	pr := &ParsedRequest{
		Method:     method,
		RequestURI: uri,
		Proto:      proto,
		ProtoMinor: minor,
		Header:     hdr,
	}
	te, hasTE := hdr["Transfer-Encoding"]
	cls, hasCL := hdr["Content-Length"]
	switch {
	case hasTE && hasCL:
		return nil, ErrLengthConflict
	case hasTE:
		if !isChunked(te) {
			return nil, ErrTransferEncoding
		}
		pr.Chunked = true
		pr.ContentLength = -1
		pr.Body = newChunkedBody(r.BR, r.lineLimit())
	case hasCL:
		n, err := parseContentLength(cls)
		if err != nil {
			return nil, err
		}
		pr.ContentLength = n
		if n > 0 {
			pr.Body = &limitedBody{lr: &io.LimitedReader{R: r.BR, N: n}}
		} else {
			pr.Body = noBody{}
		}
	default:
		pr.Body = noBody{}
	}
	return pr, nil
}

func (r *Reader) readHeaders() (map[string][]string, error) {
	h := make(map[string][]string)
	total := 0
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		total += len(line)
		if r.MaxTotalHeaderBytes > 0 && total > r.MaxTotalHeaderBytes {
			return nil, ErrHeaderTooLarge
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, ErrHeaderLine
		}
		k := line[:i]
		v := strings.TrimSpace(line[i+1:])
		if !httpguts.ValidHeaderFieldName(k) || !httpguts.ValidHeaderFieldValue(v) {
			return nil, ErrHeaderLine
		}
		hk := textproto.CanonicalMIMEHeaderKey(k)
		h[hk] = append(h[hk], v)
	}
	return h, nil
}

func (r *Reader) lineLimit() int {
	if r.MaxHeaderBytes <= 0 {
		return 8 << 10
	}
	return r.MaxHeaderBytes
}

func (r *Reader) readLine() (string, error) {
	line, err := readLineLimit(r.BR, r.lineLimit())
	if errors.Is(err, errLineTooLong) {
		return "", ErrHeaderTooLarge
	}
	return line, err
}

// parseContentLength accepts repeated or comma-joined values as long as they
// all agree.
func parseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				return 0, ErrContentLength
			}
			m, err := strconv.ParseInt(f, 10, 64)
			if err != nil || m < 0 || (f[0] < '0' || f[0] > '9') {
				return 0, ErrContentLength
			}
			if n >= 0 && m != n {
				return 0, ErrContentLength
			}
			n = m
		}
	}
	if n < 0 {
		return 0, ErrContentLength
	}
	return n, nil
}

func isChunked(te []string) bool {
	var last string
	for _, v := range te {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				last = f
			}
		}
	}
	return strings.EqualFold(last, "chunked")
}

type noBody struct{}

func (noBody) Read([]byte) (int, error) { return 0, io.EOF }
func (noBody) Close() error             { return nil }

type limitedBody struct {
	lr *io.LimitedReader
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.lr.Read(p)
	if err == io.EOF && b.lr.N > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (b *limitedBody) Close() error {
	// Drain remaining bytes to allow next request on the same connection.
	_, err := io.Copy(io.Discard, b.lr)
	return err
}

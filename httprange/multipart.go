package httprange

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
)

const (
	boundaryChars     = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	boundaryMinLength = 30
	boundaryMaxLength = 40

	// CRLF terminates every part payload of a multipart/byteranges body.
	CRLF = "\r\n"
)

var ErrInvalidContentRange = errors.New("httprange: invalid Content-Range")

// GenerateBoundary returns a random multipart boundary token between 30 and
// 40 characters long. It only needs to be unlikely to occur in the payload.
func GenerateBoundary() string {
	n := boundaryMinLength + rand.IntN(boundaryMaxLength-boundaryMinLength+1)
	b := make([]byte, n)
	for i := range b {
		b[i] = boundaryChars[rand.IntN(len(boundaryChars))]
	}
	return string(b)
}

// MultipartContentType returns the Content-Type value announcing a
// multipart/byteranges body delimited by boundary.
func MultipartContentType(boundary string) string {
	return "multipart/byteranges; boundary=" + boundary
}

// GenerateContentRangeHeader renders "bytes first-last/total".
func GenerateContentRangeHeader(first, last, total uint64) string {
	return "bytes " + strconv.FormatUint(first, 10) + "-" + strconv.FormatUint(last, 10) +
		"/" + strconv.FormatUint(total, 10)
}

// GenerateContentRangeHeaderUnknown renders "bytes first-last/*" for an
// entity whose complete length is not known.
func GenerateContentRangeHeaderUnknown(first, last uint64) string {
	return "bytes " + strconv.FormatUint(first, 10) + "-" + strconv.FormatUint(last, 10) + "/*"
}

// GenerateBoundaryHeader renders the opening delimiter of a part and, when
// contentType is set, its Content-Type line. The header block is left open.
func GenerateBoundaryHeader(boundary, contentType string) string {
	var b strings.Builder
	b.WriteString("--")
	b.WriteString(boundary)
	b.WriteString(CRLF)
	if contentType != "" {
		b.WriteString("Content-Type: ")
		b.WriteString(contentType)
		b.WriteString(CRLF)
	}
	return b.String()
}

// GenerateBoundaryHeaderWithRange renders a complete part preamble: the
// delimiter, Content-Type, Content-Range for r within total and the blank
// line that precedes the payload.
func GenerateBoundaryHeaderWithRange(boundary, contentType string, r Range, total uint64) string {
	return GenerateBoundaryHeader(boundary, contentType) +
		"Content-Range: " + GenerateContentRangeHeader(r.First, r.Last, total) + CRLF + CRLF
}

// GenerateBoundaryEnd renders the closing delimiter "--boundary--".
func GenerateBoundaryEnd(boundary string) string {
	return "--" + boundary + "--" + CRLF
}

// ParseContentRange parses "bytes first-last/total". Total is -1 when the
// complete length is given as "*".
func ParseContentRange(v string) (first, last uint64, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(v, prefix) {
		return 0, 0, 0, ErrInvalidContentRange
	}
	span, size, ok := strings.Cut(v[len(prefix):], "/")
	if !ok {
		return 0, 0, 0, ErrInvalidContentRange
	}
	a, b, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, ErrInvalidContentRange
	}
	if first, ok = parseNumber(a); !ok {
		return 0, 0, 0, ErrInvalidContentRange
	}
	if last, ok = parseNumber(b); !ok || last < first {
		return 0, 0, 0, ErrInvalidContentRange
	}
	if size == "*" {
		return first, last, -1, nil
	}
	n, ok := parseNumber(size)
	if !ok || n <= last || n > 1<<63-1 {
		return 0, 0, 0, ErrInvalidContentRange
	}
	return first, last, int64(n), nil
}

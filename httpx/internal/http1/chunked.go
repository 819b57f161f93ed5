package http1

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	errChunkFormat = errors.New("http1: invalid chunk format")
	errLineTooLong = errors.New("http1: line too long")
)

// maxTrailerLines bounds the trailer section of a chunked body.
const maxTrailerLines = 64

// chunkedBody implements io.ReadCloser for Transfer-Encoding: chunked.
type chunkedBody struct {
	br       *bufio.Reader
	remain   int64 // bytes left in the current chunk; -1 before the first size line
	finished bool
	err      error
	maxLine  int // line limit for chunk header and trailer lines
}

func newChunkedBody(br *bufio.Reader, maxLine int) io.ReadCloser {
	return &chunkedBody{br: br, remain: -1, maxLine: maxLine}
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.finished {
		return 0, io.EOF
	}
	if c.remain <= 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, c.fail(err)
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, c.fail(err)
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := io.ReadFull(c.br, p)
	c.remain -= int64(n)
	if err != nil {
		return n, c.fail(io.ErrUnexpectedEOF)
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, c.fail(err)
		}
	}
	return n, nil
}

func (c *chunkedBody) fail(err error) error {
	c.err = err
	return err
}

func (c *chunkedBody) Close() error {
	// Drain to end so connection can be reused.
	_, err := io.Copy(io.Discard, c)
	return err
}

func (c *chunkedBody) readChunkSize() (int64, error) {
	line, err := readLineLimit(c.br, c.maxLine)
	if err != nil {
		return 0, err
	}
	// Strip chunk extensions if any: "<hex>;<ext>".
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 16 {
		return 0, errChunkFormat
	}
	n, err := strconv.ParseUint(line, 16, 63)
	if err != nil {
		return 0, errChunkFormat
	}
	return int64(n), nil
}

func (c *chunkedBody) expectCRLF() error {
	line, err := readLineLimit(c.br, 2)
	if err != nil {
		return err
	}
	if line != "" {
		return errChunkFormat
	}
	return nil
}

// readTrailers discards trailer fields up to the terminating empty line.
func (c *chunkedBody) readTrailers() error {
	for i := 0; i < maxTrailerLines; i++ {
		line, err := readLineLimit(c.br, c.maxLine)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
	return errChunkFormat
}

// readLineLimit reads one line terminated by LF, dropping CR bytes.
func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", errLineTooLong
		}
	}
	return sb.String(), nil
}

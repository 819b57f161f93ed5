package webserver

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
)

var (
	errMalformedBody = errors.New("webserver: malformed request body")
	errBodyRejected  = errors.New("webserver: request body rejected by handler")
)

// bodyParser consumes a POST body chunk by chunk and feeds the handler.
type bodyParser interface {
	Write(p []byte) error
	Close() error
}

// newBodyParser picks the parser for the request Content-Type. Bodies that
// are neither form encoded nor multipart go to AddPostData unchanged.
func newBodyParser(contentType string, h RequestHandler) (bodyParser, error) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return rawParser{h: h}, nil
	}
	switch mt {
	case "application/x-www-form-urlencoded":
		return &formParser{h: h}, nil
	case "multipart/form-data":
		b := params["boundary"]
		if b == "" {
			return nil, errMalformedBody
		}
		return &multipartParser{h: h, boundary: b}, nil
	default:
		return rawParser{h: h}, nil
	}
}

type rawParser struct{ h RequestHandler }

func (p rawParser) Write(b []byte) error {
	if !p.h.AddPostData(b) {
		return errBodyRejected
	}
	return nil
}

func (rawParser) Close() error { return nil }

// formParser decodes "k=v&k2=v2" incrementally. Only the trailing, possibly
// incomplete pair of a chunk is buffered.
type formParser struct {
	h    RequestHandler
	tail []byte
}

func (p *formParser) Write(b []byte) error {
	p.tail = append(p.tail, b...)
	i := bytes.LastIndexByte(p.tail, '&')
	if i < 0 {
		return nil
	}
	if err := p.emit(string(p.tail[:i])); err != nil {
		return err
	}
	p.tail = append(p.tail[:0], p.tail[i+1:]...)
	return nil
}

func (p *formParser) Close() error {
	err := p.emit(string(p.tail))
	p.tail = nil
	return err
}

func (p *formParser) emit(s string) error {
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return errMalformedBody
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return errMalformedBody
		}
		p.h.AddPostField(key, val)
	}
	return nil
}

// multipartParser collects the body and splits it into parts on Close. The
// body size is already bounded by the dispatcher.
type multipartParser struct {
	h        RequestHandler
	boundary string
	buf      bytes.Buffer
}

func (p *multipartParser) Write(b []byte) error {
	p.buf.Write(b)
	return nil
}

func (p *multipartParser) Close() error {
	mr := multipart.NewReader(&p.buf, p.boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errMalformedBody
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return errMalformedBody
		}
		if name := part.FormName(); name != "" {
			p.h.AddPostField(name, string(data))
		}
	}
}

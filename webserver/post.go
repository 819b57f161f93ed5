package webserver

import (
	"errors"
	"io"

	"dqx0.com/go/webd/httpx"
	"dqx0.com/go/webd/internal/obs"
)

const postChunk = 32 << 10

// postUpload tracks the body of one POST request while it is delivered.
type postUpload struct {
	handler     RequestHandler
	contentType string
	limit       int64
	size        int64
	parser      bodyParser
}

// write feeds one chunk of body data. The parser is chosen on the first
// chunk. A non-zero return is the error status to answer with.
func (u *postUpload) write(p []byte) int {
	u.size += int64(len(p))
	if u.size > u.limit {
		return 413
	}
	if u.parser == nil {
		parser, err := newBodyParser(u.contentType, u.handler)
		if err != nil {
			return 400
		}
		u.parser = parser
	}
	return statusFor(u.parser.Write(p))
}

func (u *postUpload) close() int {
	if u.parser == nil {
		return 0
	}
	return statusFor(u.parser.Close())
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errBodyRejected):
		return 413
	default:
		return 400
	}
}

// handlePost accumulates the request body into h and then runs it once.
func (s *Server) handlePost(w httpx.ResponseWriter, req *Request, h RequestHandler) {
	r := req.Conn
	limit := s.maxPostSize()
	if r.ContentLength > limit {
		s.writeError(w, req, 413, nil)
		return
	}
	if r.ProtoMinor == 0 && !r.Chunked && !r.Header.Has("Content-Length") {
		s.writeError(w, req, 411, nil)
		return
	}

	u := &postUpload{handler: h, contentType: req.Header("Content-Type"), limit: limit}
	if status := s.readPost(r.Body, u); status != 0 {
		s.writeError(w, req, status, nil)
		return
	}
	if !s.invoke(req, h) {
		s.writeError(w, req, 500, nil)
		return
	}
	s.finalize(w, req, h)
}

func (s *Server) readPost(body io.Reader, u *postUpload) int {
	if body == nil {
		return u.close()
	}
	buf := make([]byte, postChunk)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if status := u.write(buf[:n]); status != 0 {
				return status
			}
		}
		if err == io.EOF {
			return u.close()
		}
		if err != nil {
			s.logger().Logf(obs.Warn, "webserver: reading POST body: %v", err)
			return 400
		}
	}
}

package webserver

import (
	"io"

	"dqx0.com/go/webd/httprange"
)

// rangeStreamer reads the selected ranges of an entity. With a boundary it
// produces a multipart/byteranges body; each part header is emitted lazily
// just before its payload. The underlying reader is only seeked when it is
// not already positioned at the next byte to send.
type rangeStreamer struct {
	r        io.ReadSeeker
	ranges   []httprange.Range
	boundary string
	ctype    string
	total    uint64

	idx     int
	pos     int64
	remain  uint64
	inRange bool
	pending []byte
	done    bool
}

// newRangeStreamer expects r to be positioned at offset 0.
func newRangeStreamer(r io.ReadSeeker, ranges []httprange.Range, boundary, contentType string, total uint64) *rangeStreamer {
	return &rangeStreamer{r: r, ranges: ranges, boundary: boundary, ctype: contentType, total: total}
}

func (s *rangeStreamer) multipart() bool { return s.boundary != "" }

func (s *rangeStreamer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if len(s.pending) > 0 {
			n := copy(p, s.pending)
			s.pending = s.pending[n:]
			return n, nil
		}
		if s.done {
			return 0, io.EOF
		}
		if s.remain == 0 {
			if s.inRange {
				s.inRange = false
				s.idx++
				if s.multipart() {
					s.pending = []byte(httprange.CRLF)
				}
				continue
			}
			if s.idx >= len(s.ranges) {
				s.done = true
				if s.multipart() {
					s.pending = []byte(httprange.GenerateBoundaryEnd(s.boundary))
				}
				continue
			}
			r := s.ranges[s.idx]
			if err := s.seek(int64(r.First)); err != nil {
				return 0, err
			}
			s.remain = r.Length()
			s.inRange = true
			if s.multipart() {
				s.pending = []byte(httprange.GenerateBoundaryHeaderWithRange(s.boundary, s.ctype, r, s.total))
			}
			continue
		}

		n := len(p)
		if uint64(n) > s.remain {
			n = int(s.remain)
		}
		m, err := s.r.Read(p[:n])
		s.pos += int64(m)
		s.remain -= uint64(m)
		if m > 0 {
			return m, nil
		}
		switch {
		case err == io.EOF:
			return 0, io.ErrUnexpectedEOF
		case err != nil:
			return 0, err
		}
	}
}

func (s *rangeStreamer) seek(off int64) error {
	if s.pos == off {
		return nil
	}
	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return err
	}
	s.pos = off
	return nil
}

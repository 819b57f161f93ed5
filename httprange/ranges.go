package httprange

import (
	"iter"
	"slices"
	"strconv"
	"strings"
)

const bytesUnit = "bytes="

// ows is optional whitespace around range specs.
const ows = " \t"

// Ranges is an ordered set of byte ranges. Entries are kept sorted by First
// and no two entries overlap or are adjacent; every mutation re-merges.
// The zero value is an empty set ready to use.
type Ranges struct {
	ranges []Range
}

// NewRanges returns a set holding the valid entries of rs.
func NewRanges(rs ...Range) *Ranges {
	s := &Ranges{}
	for _, r := range rs {
		if r.IsValid() {
			s.ranges = append(s.ranges, r)
		}
	}
	s.normalize()
	return s
}

// ParseRanges is a convenience wrapper around Ranges.Parse.
func ParseRanges(header string, total uint64) (*Ranges, bool) {
	s := &Ranges{}
	ok := s.Parse(header, total)
	return s, ok
}

// Parse replaces the content of s with the ranges of a Range header value
// resolved against an entity of total bytes. It accepts
// "bytes=<spec>(,<spec>)*" where each spec is "start-end", "start-" or
// "-suffix". On any malformed or unsatisfiable spec it returns false and
// leaves s empty. It reports whether at least one range remains.
func (s *Ranges) Parse(header string, total uint64) bool {
	s.Clear()

	header = strings.Trim(header, ows)
	if len(header) < len(bytesUnit) || !strings.EqualFold(header[:len(bytesUnit)], bytesUnit) {
		return false
	}
	specs := header[len(bytesUnit):]
	if strings.Trim(specs, ows) == "" || total == 0 {
		return false
	}

	parsed := make([]Range, 0, 4)
	for _, spec := range strings.Split(specs, ",") {
		r, ok := parseSpec(strings.Trim(spec, ows), total)
		if !ok {
			return false
		}
		parsed = append(parsed, r)
	}

	s.ranges = parsed
	s.normalize()
	return len(s.ranges) > 0
}

func parseSpec(spec string, total uint64) (Range, bool) {
	startStr, endStr, hasDash := strings.Cut(spec, "-")
	if !hasDash {
		return Range{}, false
	}
	startStr = strings.Trim(startStr, ows)
	endStr = strings.Trim(endStr, ows)
	if startStr == "" && endStr == "" {
		return Range{}, false
	}

	last := total - 1
	if startStr == "" {
		// "-N": the final N bytes.
		n, ok := parseNumber(endStr)
		if !ok || n == 0 {
			return Range{}, false
		}
		if n > total {
			n = total
		}
		return Range{First: total - n, Last: last}, true
	}

	start, ok := parseNumber(startStr)
	if !ok || start > last {
		return Range{}, false
	}
	end := last
	if endStr != "" {
		if end, ok = parseNumber(endStr); !ok {
			return Range{}, false
		}
		if end > last {
			end = last
		}
	}
	if end < start {
		return Range{}, false
	}
	return Range{First: start, Last: end}, true
}

func parseNumber(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

// Size returns the number of ranges in s.
func (s *Ranges) Size() int { return len(s.ranges) }

// IsEmpty reports whether s holds no ranges.
func (s *Ranges) IsEmpty() bool { return len(s.ranges) == 0 }

// Get returns the range at index i.
func (s *Ranges) Get(i int) (Range, bool) {
	if i < 0 || i >= len(s.ranges) {
		return Range{}, false
	}
	return s.ranges[i], true
}

// First returns the range with the lowest start.
func (s *Ranges) First() (Range, bool) { return s.Get(0) }

// Last returns the range with the highest start.
func (s *Ranges) Last() (Range, bool) { return s.Get(len(s.ranges) - 1) }

// FirstPosition returns the first byte position covered by s.
func (s *Ranges) FirstPosition() (uint64, bool) {
	r, ok := s.First()
	return r.First, ok
}

// LastPosition returns the last byte position covered by s.
func (s *Ranges) LastPosition() (uint64, bool) {
	r, ok := s.Last()
	return r.Last, ok
}

// Length returns the total number of bytes covered by s.
func (s *Ranges) Length() (uint64, bool) {
	if s.IsEmpty() {
		return 0, false
	}
	var n uint64
	for _, r := range s.ranges {
		n += r.Length()
	}
	return n, true
}

// Add inserts r and re-merges. Invalid ranges are ignored.
func (s *Ranges) Add(r Range) {
	if !r.IsValid() {
		return
	}
	s.ranges = append(s.ranges, r)
	s.normalize()
}

// Remove drops the range at index i. It reports whether i was in bounds.
func (s *Ranges) Remove(i int) bool {
	if i < 0 || i >= len(s.ranges) {
		return false
	}
	s.ranges = slices.Delete(s.ranges, i, i+1)
	return true
}

// Clear empties s.
func (s *Ranges) Clear() { s.ranges = s.ranges[:0] }

// All yields the ranges in ascending order.
func (s *Ranges) All() iter.Seq2[int, Range] {
	return func(yield func(int, Range) bool) {
		for i, r := range s.ranges {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Slice returns a copy of the ranges in ascending order.
func (s *Ranges) Slice() []Range {
	return slices.Clone(s.ranges)
}

// String renders s as a Range header value, or "" when empty.
func (s *Ranges) String() string {
	if s.IsEmpty() {
		return ""
	}
	var b strings.Builder
	b.WriteString(bytesUnit)
	for i, r := range s.ranges {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(r.String())
	}
	return b.String()
}

func (s *Ranges) normalize() {
	if len(s.ranges) < 2 {
		return
	}
	slices.SortStableFunc(s.ranges, func(a, b Range) int {
		switch {
		case a.First < b.First:
			return -1
		case a.First > b.First:
			return 1
		}
		return 0
	})
	merged := s.ranges[:1]
	for _, r := range s.ranges[1:] {
		cur := &merged[len(merged)-1]
		if cur.touches(r) {
			if r.Last > cur.Last {
				cur.Last = r.Last
			}
			continue
		}
		merged = append(merged, r)
	}
	s.ranges = merged
}

package httprange

import "strconv"

// Range is an inclusive byte interval [First, Last].
type Range struct {
	First uint64
	Last  uint64
}

// NewRange returns the interval [first, last].
func NewRange(first, last uint64) Range {
	return Range{First: first, Last: last}
}

// IsValid reports whether Last does not precede First.
func (r Range) IsValid() bool { return r.Last >= r.First }

// Length returns the number of bytes covered by r, or 0 if r is invalid.
func (r Range) Length() uint64 {
	if !r.IsValid() {
		return 0
	}
	return r.Last - r.First + 1
}

// Contains reports whether pos lies within r.
func (r Range) Contains(pos uint64) bool {
	return r.IsValid() && pos >= r.First && pos <= r.Last
}

// String renders r as "first-last", the byte-range-spec form.
func (r Range) String() string {
	return strconv.FormatUint(r.First, 10) + "-" + strconv.FormatUint(r.Last, 10)
}

// touches reports whether r and o overlap or are back to back.
func (r Range) touches(o Range) bool {
	if o.First < r.First {
		r, o = o, r
	}
	// r.Last+1 would overflow for a range ending at the last addressable byte.
	return o.First <= r.Last || o.First-r.Last == 1
}

// ResponseRange is a Range together with the bytes it denotes. Data is nil
// for file-backed responses, where the position is re-derived by seeking.
type ResponseRange struct {
	Range
	Data []byte
}

// NewResponseRange returns a ResponseRange for [first, last] backed by data.
func NewResponseRange(first, last uint64, data []byte) ResponseRange {
	return ResponseRange{Range: Range{First: first, Last: last}, Data: data}
}

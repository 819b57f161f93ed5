// Package httprange models HTTP byte ranges (RFC 7233) and the pieces of a
// multipart/byteranges response.
//
// A Ranges value parses a Range request header against the length of the
// selected entity and keeps its entries sorted, disjoint and non-adjacent:
//
//	rs, ok := httprange.ParseRanges("bytes=0-0,1-1,10-", 20)
//	// ok == true, rs holds [0-1] and [10-19]
//
// The multipart helpers render the delimiter lines and Content-Range values
// needed to pack several ranges into one body. A body for ranges r1..rn is
//
//	GenerateBoundaryHeaderWithRange(b, ct, r1, total) + payload1 + CRLF
//	...
//	GenerateBoundaryHeaderWithRange(b, ct, rn, total) + payloadn + CRLF
//	GenerateBoundaryEnd(b)
package httprange

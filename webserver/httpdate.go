package webserver

import "time"

// TimeFormat is the RFC 1123 layout used for HTTP dates.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var dateLayouts = []string{TimeFormat, time.RFC850, time.ANSIC}

// FormatHTTPDate renders t in UTC as an HTTP-date.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseHTTPDate accepts the three date formats HTTP/1.1 clients may send.
func ParseHTTPDate(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

package webserver

import "errors"

var (
	ErrAlreadyStarted = errors.New("webserver: already started")
	ErrNotStarted     = errors.New("webserver: not started")
	ErrNoListener     = errors.New("webserver: no listener could be bound")
	ErrNilHandler     = errors.New("webserver: nil handler")
	ErrDuplicate      = errors.New("webserver: handler already registered")
)

var errorPages = map[int]string{
	401: "<html><head><title>Unauthorized</title></head><body>Unauthorized</body></html>",
	404: "<html><head><title>File not found</title></head><body>File not found</body></html>",
	405: "<html><head><title>Method Not Allowed</title></head><body>Method Not Allowed</body></html>",
	411: "<html><head><title>Length Required</title></head><body>Length Required</body></html>",
	412: "<html><head><title>Precondition Failed</title></head><body>Precondition Failed</body></html>",
	413: "<html><head><title>Request Entity Too Large</title></head><body>Request Entity Too Large</body></html>",
	415: "<html><head><title>Unsupported Media Type</title></head><body>Unsupported Media Type</body></html>",
	500: "<html><head><title>Internal Server Error</title></head><body>Internal Server Error</body></html>",
	501: "<html><head><title>Method not implemented</title></head><body>Method not implemented</body></html>",
}

// ErrorPage returns the fixed body sent for status, or "" when the status has
// none.
func ErrorPage(status int) string {
	return errorPages[status]
}

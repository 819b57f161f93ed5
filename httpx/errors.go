package httpx

import "errors"

var (
	ErrBodyTooLarge = errors.New("httpx: body exceeds declared Content-Length")
	ErrShortBody    = errors.New("httpx: body shorter than declared Content-Length")
	ErrServerClosed = errors.New("httpx: server closed")
)

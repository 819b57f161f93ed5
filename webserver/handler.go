package webserver

import (
	"net/url"
	"time"

	"dqx0.com/go/webd/httprange"
	"dqx0.com/go/webd/httpx"
)

// ResponseKind tells the dispatcher how to turn a handler's response into
// wire bytes.
type ResponseKind int

const (
	ResponseNone ResponseKind = iota
	ResponseError
	ResponseRedirect
	ResponseFileDownload
	ResponseMemoryDownload
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseError:
		return "error"
	case ResponseRedirect:
		return "redirect"
	case ResponseFileDownload:
		return "file"
	case ResponseMemoryDownload:
		return "memory"
	default:
		return "none"
	}
}

// Response is the response a handler declares. It is built by the handler
// during HandleRequest and consumed once by the dispatcher.
type Response struct {
	Kind        ResponseKind
	Status      int
	Headers     httpx.Header
	ContentType string
	// TotalLength is the length of the complete entity of a memory download.
	TotalLength uint64
	// CopyData asks the dispatcher to copy ResponseData before writing it,
	// for handlers that reuse their buffers.
	CopyData bool
}

// RequestHandler is the capability contract of a content producer.
//
// Registered values are templates: the dispatcher asks CanHandleRequest,
// then calls Create to obtain a request scoped instance and only talks to
// that instance afterwards. Instances are never shared between requests.
//
// HandleRequest reports failures by declaring a ResponseError; a returned
// error is answered with 500.
type RequestHandler interface {
	CanHandleRequest(req *Request) bool
	Create(req *Request) RequestHandler
	Priority() int

	HandleRequest() error
	Response() *Response

	CanHandleRanges() bool
	CanBeCached() bool
	// MaxAge is the number of seconds a response may be cached.
	MaxAge() int
	LastModified() (time.Time, bool)
	ResponseData() []httprange.ResponseRange
	ResponseFile() string
	RedirectURL() string

	SetRequestRanged(ranged bool)
	IsRequestRanged() bool
	AddPostField(key, value string)
	// AddPostData receives raw body bytes of a POST that is neither
	// form encoded nor multipart. p is only valid during the call.
	// Returning false rejects the body.
	AddPostData(p []byte) bool
}

// BaseHandler carries the per-request state shared by all handlers and
// implements the optional parts of RequestHandler with conservative
// defaults. Handlers embed it and override what they support.
type BaseHandler struct {
	req        *Request
	resp       Response
	ranged     bool
	postFields url.Values
	data       []httprange.ResponseRange
	file       string
	redirect   string
}

// NewBaseHandler returns the request scoped state for req.
func NewBaseHandler(req *Request) BaseHandler {
	return BaseHandler{
		req:  req,
		resp: Response{Headers: httpx.Header{}},
	}
}

func (b *BaseHandler) Request() *Request { return b.req }

func (b *BaseHandler) Response() *Response {
	if b.resp.Headers == nil {
		b.resp.Headers = httpx.Header{}
	}
	return &b.resp
}

func (b *BaseHandler) Priority() int { return 0 }

func (b *BaseHandler) CanHandleRanges() bool { return false }

func (b *BaseHandler) CanBeCached() bool { return false }

func (b *BaseHandler) MaxAge() int { return 0 }

func (b *BaseHandler) LastModified() (time.Time, bool) { return time.Time{}, false }

// ResponseData returns the whole in-memory body when one was set with
// SetMemoryResponse.
func (b *BaseHandler) ResponseData() []httprange.ResponseRange { return b.data }

func (b *BaseHandler) ResponseFile() string { return b.file }

func (b *BaseHandler) RedirectURL() string { return b.redirect }

func (b *BaseHandler) SetRequestRanged(ranged bool) { b.ranged = ranged }

func (b *BaseHandler) IsRequestRanged() bool { return b.ranged }

func (b *BaseHandler) AddPostField(key, value string) {
	if b.postFields == nil {
		b.postFields = url.Values{}
	}
	b.postFields.Add(key, value)
}

func (b *BaseHandler) AddPostData(p []byte) bool { return true }

// PostFields returns the form fields decoded from a POST body.
func (b *BaseHandler) PostFields() url.Values { return b.postFields }

// RequestedRanges returns the ranges of the request resolved against an
// entity of total bytes, or an empty set when the request is not ranged.
func (b *BaseHandler) RequestedRanges(total uint64) *httprange.Ranges {
	if !b.ranged || b.req == nil {
		return &httprange.Ranges{}
	}
	return b.req.RequestedRanges(total)
}

// SetError declares an error response with the given status.
func (b *BaseHandler) SetError(status int) {
	r := b.Response()
	r.Kind = ResponseError
	r.Status = status
}

// SetRedirect declares a redirect to location; status defaults to 301.
func (b *BaseHandler) SetRedirect(location string, status int) {
	if status == 0 {
		status = 301
	}
	r := b.Response()
	r.Kind = ResponseRedirect
	r.Status = status
	b.redirect = location
}

// SetFileResponse declares a download of the file at path.
func (b *BaseHandler) SetFileResponse(path string, status int) {
	if status == 0 {
		status = 200
	}
	r := b.Response()
	r.Kind = ResponseFileDownload
	r.Status = status
	b.file = path
}

// SetStatus sets the status and kind of the response.
func (b *BaseHandler) SetStatus(kind ResponseKind, status int) {
	r := b.Response()
	r.Kind = kind
	r.Status = status
}

// SetMemoryResponse declares a 200 memory download of the complete entity
// data. The dispatcher slices it when the request is ranged.
func (b *BaseHandler) SetMemoryResponse(contentType string, data []byte) {
	r := b.Response()
	r.Kind = ResponseMemoryDownload
	r.Status = 200
	r.ContentType = contentType
	r.TotalLength = uint64(len(data))
	b.data = nil
	if len(data) > 0 {
		b.data = []httprange.ResponseRange{httprange.NewResponseRange(0, uint64(len(data))-1, data)}
	}
}

// SetResponseRanges declares a memory download from already sliced ranges of
// an entity of total bytes.
func (b *BaseHandler) SetResponseRanges(contentType string, ranges []httprange.ResponseRange, total uint64) {
	r := b.Response()
	r.Kind = ResponseMemoryDownload
	if r.Status == 0 {
		r.Status = 200
	}
	r.ContentType = contentType
	r.TotalLength = total
	b.data = ranges
}

// AddHeader adds a response header the dispatcher copies verbatim.
func (b *BaseHandler) AddHeader(key, value string) {
	b.Response().Headers.Add(key, value)
}

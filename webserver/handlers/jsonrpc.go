package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"

	"dqx0.com/go/webd/webserver"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var (
	ErrMethodNotFound = errors.New("handlers: method not found")
	ErrInvalidParams  = errors.New("handlers: invalid params")
)

// RPCError is a JSON-RPC error object. Methods may return one to pick the
// code sent to the client.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// MethodTable executes JSON-RPC methods.
type MethodTable interface {
	Call(ctx context.Context, method string, params json.RawMessage) (any, error)
}

type MethodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Methods is a MethodTable backed by a map.
type Methods map[string]MethodFunc

func (m Methods) Call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	fn, ok := m[method]
	if !ok {
		return nil, ErrMethodNotFound
	}
	return fn(ctx, params)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

var jsonContentTypes = map[string]bool{
	"application/json":        true,
	"application/json-rpc":    true,
	"application/jsonrequest": true,
}

// JSONRPCHandler answers JSON-RPC 2.0 calls on /jsonrpc, POSTed as JSON or
// passed in the "request" argument of a GET.
type JSONRPCHandler struct {
	webserver.BaseHandler
	methods MethodTable
	body    bytes.Buffer
}

func NewJSONRPCHandler(methods MethodTable) *JSONRPCHandler {
	if methods == nil {
		methods = Methods{}
	}
	return &JSONRPCHandler{methods: methods}
}

func (h *JSONRPCHandler) CanHandleRequest(req *webserver.Request) bool {
	if req.FullPath != "/jsonrpc" {
		return false
	}
	switch req.Method {
	case webserver.MethodPost:
		return true
	case webserver.MethodGet:
		return req.Arguments().Has("request")
	}
	return false
}

func (h *JSONRPCHandler) Create(req *webserver.Request) webserver.RequestHandler {
	return &JSONRPCHandler{BaseHandler: webserver.NewBaseHandler(req), methods: h.methods}
}

func (h *JSONRPCHandler) Priority() int { return 5 }

func (h *JSONRPCHandler) AddPostData(p []byte) bool {
	h.body.Write(p)
	return true
}

func (h *JSONRPCHandler) HandleRequest() error {
	req := h.Request()
	var payload []byte
	if req.Method == webserver.MethodPost {
		mt, _, err := mime.ParseMediaType(req.Header("Content-Type"))
		if err != nil || !jsonContentTypes[mt] {
			h.SetError(415)
			return nil
		}
		payload = h.body.Bytes()
	} else {
		payload = []byte(req.Argument("request"))
	}

	out, err := h.serve(req.Conn.Context(), payload)
	if err != nil {
		return err
	}
	h.SetMemoryResponse("application/json", out)
	if out == nil {
		h.SetStatus(webserver.ResponseMemoryDownload, 204)
	}
	return nil
}

// serve runs a single call or a batch. It returns nil when there is nothing
// to answer, i.e. only notifications were sent.
func (h *JSONRPCHandler) serve(ctx context.Context, payload []byte) ([]byte, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !json.Valid(payload) {
		return json.Marshal(errorResponse(nil, CodeParseError, "Parse error"))
	}
	if payload[0] != '[' {
		resp := h.call(ctx, payload)
		if resp == nil {
			return nil, nil
		}
		return json.Marshal(resp)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(payload, &batch); err != nil {
		return json.Marshal(errorResponse(nil, CodeParseError, "Parse error"))
	}
	if len(batch) == 0 {
		return json.Marshal(errorResponse(nil, CodeInvalidRequest, "Invalid Request"))
	}
	var out []*rpcResponse
	for _, raw := range batch {
		if resp := h.call(ctx, raw); resp != nil {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return json.Marshal(out)
}

func (h *JSONRPCHandler) call(ctx context.Context, raw json.RawMessage) *rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeInvalidRequest, "Invalid Request")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request")
	}

	result, err := h.methods.Call(ctx, req.Method, req.Params)
	if req.ID == nil {
		return nil
	}
	if err != nil {
		var re *RPCError
		switch {
		case errors.As(err, &re):
			return &rpcResponse{JSONRPC: "2.0", Error: re, ID: req.ID}
		case errors.Is(err, ErrMethodNotFound):
			return errorResponse(req.ID, CodeMethodNotFound, "Method not found")
		case errors.Is(err, ErrInvalidParams):
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params")
		default:
			return errorResponse(req.ID, CodeInternalError, err.Error())
		}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return &rpcResponse{JSONRPC: "2.0", Result: b, ID: req.ID}
}

func errorResponse(id json.RawMessage, code int, msg string) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", Error: &RPCError{Code: code, Message: msg}, ID: id}
}

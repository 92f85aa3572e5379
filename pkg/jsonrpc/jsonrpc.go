// ABOUTME: JSON-RPC 2.0 request parsing and response construction
// ABOUTME: Used by the server control plane over HTTP and WebSocket
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted
const Version = "2.0"

// Standard error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var nullID = json.RawMessage("null")

// Error is a JSON-RPC error object. ID carries the request id when it was known.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    interface{}     `json:"data,omitempty"`
	ID      json.RawMessage `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates an error for the request with id
func NewError(code int, message string, id json.RawMessage) *Error {
	return &Error{Code: code, Message: message, ID: id}
}

// InvalidParams reports bad or missing parameters
func InvalidParams(message string, id json.RawMessage) *Error {
	return NewError(CodeInvalidParams, message, id)
}

// Request is a parsed JSON-RPC request
type Request struct {
	ID     json.RawMessage
	Method string
	Params map[string]json.RawMessage
}

type wireRequest struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC *string         `json:"jsonrpc"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseRequest validates a request object. The returned error carries the
// request id whenever it could be read.
func ParseRequest(data []byte) (*Request, *Error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(CodeParseError, err.Error(), nil)
	}
	if _, ok := raw["id"]; !ok {
		return nil, NewError(CodeInvalidRequest, "id is missing", nil)
	}

	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewError(CodeInvalidRequest, err.Error(), nil)
	}
	if !validID(w.ID) {
		return nil, NewError(CodeInvalidRequest, "id must be a number or a string", nil)
	}
	if w.JSONRPC == nil {
		return nil, NewError(CodeInvalidRequest, "jsonrpc is missing", w.ID)
	}
	if *w.JSONRPC != Version {
		return nil, NewError(CodeInvalidRequest, "invalid jsonrpc value: "+*w.JSONRPC, w.ID)
	}
	if w.Method == nil {
		return nil, NewError(CodeInvalidRequest, "method is missing", w.ID)
	}
	if *w.Method == "" {
		return nil, NewError(CodeInvalidRequest, "method must not be empty", w.ID)
	}

	req := &Request{ID: w.ID, Method: *w.Method, Params: map[string]json.RawMessage{}}
	if len(w.Params) > 0 && !bytes.Equal(w.Params, nullID) {
		if err := json.Unmarshal(w.Params, &req.Params); err != nil {
			return nil, InvalidParams("params must be an object", w.ID)
		}
	}
	return req, nil
}

func validID(id json.RawMessage) bool {
	var v interface{}
	if err := json.Unmarshal(id, &v); err != nil {
		return false
	}
	switch v.(type) {
	case float64, string:
		return true
	}
	return false
}

// HasParam reports whether key was supplied
func (r *Request) HasParam(key string) bool {
	_, ok := r.Params[key]
	return ok
}

// Param decodes parameter key into v
func (r *Request) Param(key string, v interface{}) error {
	raw, ok := r.Params[key]
	if !ok {
		return InvalidParams("missing parameter: "+key, r.ID)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return InvalidParams(fmt.Sprintf("parameter %s: %v", key, err), r.ID)
	}
	return nil
}

// Response is a successful reply
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// ErrorResponse is a failed reply
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *Error          `json:"error"`
}

// Notification is a server initiated message without id
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// NewResponse wraps result as the reply to r
func (r *Request) NewResponse(result interface{}) Response {
	return Response{JSONRPC: Version, ID: r.ID, Result: result}
}

// NewErrorResponse wraps e as a reply; an unknown id is sent as null
func NewErrorResponse(e *Error) ErrorResponse {
	id := e.ID
	if len(id) == 0 {
		id = nullID
	}
	return ErrorResponse{JSONRPC: Version, ID: id, Error: e}
}

// NewNotification builds a notification for method
func NewNotification(method string, params interface{}) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

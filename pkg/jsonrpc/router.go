// ABOUTME: JSON-RPC method dispatch
// ABOUTME: Maps method names to handlers and encodes their replies
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
)

// HandlerFunc serves one method. Returning an *Error sends it verbatim; any other
// error becomes an internal error.
type HandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

// Router dispatches requests by method name
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for method
func (r *Router) Register(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Methods lists the registered method names
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		out = append(out, m)
	}
	return out
}

// Handle parses data, runs the matching handler and returns the encoded reply
func (r *Router) Handle(ctx context.Context, data []byte) []byte {
	reply := r.dispatch(ctx, data)
	out, err := json.Marshal(reply)
	if err != nil {
		log.Printf("Failed to encode JSON-RPC reply: %v", err)
		out, _ = json.Marshal(NewErrorResponse(NewError(CodeInternalError, err.Error(), nil)))
	}
	return out
}

func (r *Router) dispatch(ctx context.Context, data []byte) interface{} {
	req, perr := ParseRequest(data)
	if perr != nil {
		return NewErrorResponse(perr)
	}

	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()
	if !ok {
		return NewErrorResponse(NewError(CodeMethodNotFound, "method not found: "+req.Method, req.ID))
	}

	result, err := h(ctx, req)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = NewError(CodeInternalError, err.Error(), nil)
		}
		if len(rpcErr.ID) == 0 {
			rpcErr.ID = req.ID
		}
		return NewErrorResponse(rpcErr)
	}
	return req.NewResponse(result)
}

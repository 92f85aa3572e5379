// ABOUTME: JSON-RPC 2.0 package
// ABOUTME: Request validation, error codes, replies, notifications and dispatch
// Package jsonrpc implements the JSON-RPC 2.0 framing of the control plane.
//
// Example:
//
//	router := jsonrpc.NewRouter()
//	router.Register("Server.GetStatus", func(ctx context.Context, req *jsonrpc.Request) (interface{}, error) {
//	    return status, nil
//	})
//	reply := router.Handle(ctx, body)
package jsonrpc

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
)

// Handler serves one fully-parsed JSON-RPC method call.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// PassthroughHandler forwards a method this gateway doesn't implement
// itself to the underlying bundler, verbatim.
type PassthroughHandler func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

// passthroughPrefixes are method namespaces forwarded straight to the
// bundler rather than handled locally, per spec §4.7/§6.
var passthroughPrefixes = []string{"eth_", "rundler_", "debug_"}

// Router dispatches JSON-RPC requests by method name: "pm_*" methods are
// served locally by registered Handlers; eth_/rundler_/debug_ methods are
// forwarded to the bundler; anything else is MethodNotFound.
type Router struct {
	handlers    map[string]Handler
	passthrough PassthroughHandler
}

func NewRouter(passthrough PassthroughHandler) *Router {
	return &Router{handlers: make(map[string]Handler), passthrough: passthrough}
}

func (r *Router) Register(method string, h Handler) {
	r.handlers[method] = h
}

// Dispatch parses raw as either a single JSON-RPC request or a batch
// array and returns the serialized response body. A notification (no id)
// still gets a response here, since this gateway has no one-way transport
// — callers that don't care about the id can ignore the body.
func (r *Router) Dispatch(ctx context.Context, raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return mustMarshal(errorResponse(nil, CodeInvalidRequest, "empty request body"))
	}

	if trimmed[0] == '[' {
		var reqs []json.RawMessage
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return mustMarshal(errorResponse(nil, CodeParseError, "invalid JSON"))
		}
		responses := make([]Response, 0, len(reqs))
		for _, one := range reqs {
			responses = append(responses, r.dispatchOne(ctx, one))
		}
		return mustMarshal(responses)
	}

	return mustMarshal(r.dispatchOne(ctx, trimmed))
}

func (r *Router) dispatchOne(ctx context.Context, raw json.RawMessage) Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParseError, "invalid JSON")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "request must set jsonrpc=\"2.0\" and method")
	}

	result, err := r.call(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(req.ID, codeFor(err), err.Error())
	}
	return successResponse(req.ID, result)
}

func (r *Router) call(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	if h, ok := r.handlers[method]; ok {
		return h(ctx, params)
	}
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(method, prefix) {
			if r.passthrough == nil {
				return nil, relayerr.NewInternal(errMethodUnconfigured(method))
			}
			return r.passthrough(ctx, method, params)
		}
	}
	return nil, &methodNotFoundError{method: method}
}

type methodNotFoundError struct{ method string }

func (e *methodNotFoundError) Error() string { return "method not found: " + e.method }

func errMethodUnconfigured(method string) error {
	return &methodNotFoundError{method: method}
}

// codeFor maps an error to its JSON-RPC error code: application errors use
// the shared taxonomy, everything else (including unknown-method) maps to
// MethodNotFound/InternalError as appropriate.
func codeFor(err error) int {
	if re, ok := err.(*relayerr.RelayError); ok {
		return re.RPCCode()
	}
	if _, ok := err.(*methodNotFoundError); ok {
		return CodeMethodNotFound
	}
	return relayerr.NewInternal(err).RPCCode()
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"failed to marshal response"}}`)
	}
	return b
}

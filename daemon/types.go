// Package daemon implements a redundant JSON-RPC 2.0 client that fans calls
// out across N configured upstream coin-daemon endpoints.
//
// Grounded on the teacher's single-endpoint rpc.go: the HTTP transport,
// retry/backoff, and cookie-auth machinery are kept, generalized from one
// *http.Client to a slice of per-endpoint clients so a call can be issued
// to all of them concurrently.
package daemon

import (
	"encoding/json"
	"fmt"
)

// RPCError mirrors a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is the uniform result of a single daemon call. Network errors,
// non-200 statuses, parse failures, and JSON-RPC id mismatches are all
// reported through Err, never by panicking or returning a bare Go error to
// callers of ExecuteAny/ExecuteAll — callers treat an error Response as
// ordinary data, per the daemon-client failure-semantics contract.
type Response[T any] struct {
	Endpoint string
	Result   T
	Err      error
}

// RPCErr returns the underlying *RPCError carried by Err, if any.
func (r Response[T]) RPCErr() *RPCError {
	if e, ok := r.Err.(*RPCError); ok {
		return e
	}
	return nil
}

func (r Response[T]) OK() bool { return r.Err == nil }

// request is the JSON-RPC 2.0 envelope sent on the wire.
type request struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rawResponse is the JSON-RPC 2.0 envelope as received, before the result
// is unmarshaled into a caller-supplied type.
type rawResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

package daemon

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func jsonRPCHandler(t *testing.T, result any, rpcErr *RPCError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := rawResponse{Jsonrpc: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, _ := json.Marshal(result)
			resp.Result = raw
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestExecuteAny_FirstSuccessWins(t *testing.T) {
	bad := httptest.NewServer(jsonRPCHandler(t, nil, &RPCError{Code: -1, Message: "boom"}))
	defer bad.Close()
	good := httptest.NewServer(jsonRPCHandler(t, map[string]int{"height": 42}, nil))
	defer good.Close()

	c, err := New(nil, EndpointConfig{URL: bad.URL}, EndpointConfig{URL: good.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	type blockInfo struct {
		Height int `json:"height"`
	}
	resp := ExecuteAny[blockInfo](context.Background(), c, "getblockchaininfo", nil)
	if !resp.OK() {
		t.Fatalf("expected success, got err=%v", resp.Err)
	}
	if resp.Result.Height != 42 {
		t.Fatalf("height = %d, want 42", resp.Result.Height)
	}
}

func TestExecuteAny_AllFail(t *testing.T) {
	srv := httptest.NewServer(jsonRPCHandler(t, nil, &RPCError{Code: -32601, Message: "method not found"}))
	defer srv.Close()

	c, err := New(nil, EndpointConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp := ExecuteAny[int](context.Background(), c, "nosuchmethod", nil)
	if resp.OK() {
		t.Fatalf("expected failure")
	}
	if resp.RPCErr() == nil || resp.RPCErr().Code != -32601 {
		t.Fatalf("unexpected error: %v", resp.Err)
	}
}

func TestExecuteAll_OnePerEndpoint(t *testing.T) {
	srv1 := httptest.NewServer(jsonRPCHandler(t, 1, nil))
	defer srv1.Close()
	srv2 := httptest.NewServer(jsonRPCHandler(t, 2, nil))
	defer srv2.Close()

	c, err := New(nil, EndpointConfig{URL: srv1.URL}, EndpointConfig{URL: srv2.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results := ExecuteAll[int](context.Background(), c, "getinfo", nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Result != 1 || results[1].Result != 2 {
		t.Fatalf("unexpected ordering: %+v", results)
	}
}

func TestExecuteAny_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		jsonRPCHandler(t, "ok", nil)(w, r)
	}))
	defer srv.Close()

	c, err := New(nil, EndpointConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := ExecuteAny[string](ctx, c, "getinfo", nil)
	if !resp.OK() {
		t.Fatalf("expected eventual success, got %v", resp.Err)
	}
	if resp.Result != "ok" {
		t.Fatalf("result = %q, want ok", resp.Result)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected a retry, got %d calls", calls.Load())
	}
}

func TestDoHTTP_DecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "application/json")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		raw, _ := json.Marshal("compressed-ok")
		json.NewEncoder(gz).Encode(rawResponse{Jsonrpc: "2.0", ID: req.ID, Result: raw})
	}))
	defer srv.Close()

	c, err := New(nil, EndpointConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp := ExecuteAny[string](context.Background(), c, "getinfo", nil)
	if !resp.OK() {
		t.Fatalf("expected success, got %v", resp.Err)
	}
	if resp.Result != "compressed-ok" {
		t.Fatalf("result = %q, want compressed-ok", resp.Result)
	}
}

func TestExecuteBatchAny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			t.Fatalf("decode batch: %v", err)
		}
		out := make([]rawResponse, len(reqs))
		for i, req := range reqs {
			raw, _ := json.Marshal(req.Method)
			out[i] = rawResponse{Jsonrpc: "2.0", ID: req.ID, Result: raw}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	c, err := New(nil, EndpointConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	results, err := c.ExecuteBatchAny(context.Background(), []BatchCmd{
		{Method: "getinfo"},
		{Method: "getblockchaininfo"},
	})
	if err != nil {
		t.Fatalf("ExecuteBatchAny: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	var m0, m1 string
	json.Unmarshal(results[0].Result, &m0)
	json.Unmarshal(results[1].Result, &m1)
	if m0 != "getinfo" || m1 != "getblockchaininfo" {
		t.Fatalf("unexpected ordering: %q, %q", m0, m1)
	}
}

func TestHealthyCount(t *testing.T) {
	srv := httptest.NewServer(jsonRPCHandler(t, "ok", nil))
	defer srv.Close()
	c, err := New(nil, EndpointConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.HealthyCount() != 0 {
		t.Fatalf("expected 0 healthy before any call")
	}
	ExecuteAny[string](context.Background(), c, "getinfo", nil)
	if c.HealthyCount() != 1 {
		t.Fatalf("expected 1 healthy after success")
	}
}

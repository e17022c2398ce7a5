package daemon

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/internal/fastjson"
)

const (
	retryDelay    = 100 * time.Millisecond
	retryMaxDelay = 5 * time.Second
	retryJitter   = 0.2
)

// Client fans JSON-RPC 2.0 calls out across a set of redundant endpoints.
type Client struct {
	endpoints []*endpoint
	nextID    atomic.Int64
	log       *corelog.Logger
}

// New constructs a Client over the given endpoints. At least one endpoint
// is required.
func New(log *corelog.Logger, endpoints ...EndpointConfig) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("daemon: at least one endpoint is required")
	}
	if log == nil {
		log = corelog.Default
	}
	c := &Client{log: log}
	for _, cfg := range endpoints {
		c.endpoints = append(c.endpoints, newEndpoint(cfg))
	}
	return c, nil
}

// EndpointCount returns the number of configured upstream endpoints.
func (c *Client) EndpointCount() int { return len(c.endpoints) }

// HealthyCount returns how many endpoints last reported success.
func (c *Client) HealthyCount() int {
	n := 0
	for _, ep := range c.endpoints {
		if ep.healthy() {
			n++
		}
	}
	return n
}

func (c *Client) nextRequestID() int64 { return c.nextID.Add(1) }

// ExecuteAny issues method/params concurrently to every configured
// endpoint, waits for all of them, and returns the first successful
// Response in endpoint order. If every endpoint fails, the Response
// carrying the first endpoint's error is returned instead; every failure,
// context cancellation included, is reported through Response.Err.
func ExecuteAny[T any](ctx context.Context, c *Client, method string, params any) Response[T] {
	results := ExecuteAll[T](ctx, c, method, params)
	for _, r := range results {
		if r.OK() {
			return r
		}
	}
	if len(results) == 0 {
		return Response[T]{Err: errors.New("daemon: no endpoints configured")}
	}
	return results[0]
}

// ExecuteAll issues method/params concurrently to every configured
// endpoint and returns one Response per endpoint, in endpoint order.
func ExecuteAll[T any](ctx context.Context, c *Client, method string, params any) []Response[T] {
	out := make([]Response[T], len(c.endpoints))
	var wg sync.WaitGroup
	for i, ep := range c.endpoints {
		wg.Add(1)
		go func(i int, ep *endpoint) {
			defer wg.Done()
			out[i] = callWithRetry[T](ctx, c, ep, method, params)
		}(i, ep)
	}
	wg.Wait()
	return out
}

// BatchCmd is one method/params pair of a JSON-RPC batch request.
type BatchCmd struct {
	Method string
	Params any
}

// ExecuteBatchAny sends a single JSON-RPC batch request (one HTTP request
// per endpoint) to every endpoint and returns the per-command results from
// the first endpoint that successfully returns a full batch response, in
// the order cmd was given. Individual sub-errors are carried per entry
// rather than failing the whole batch.
func (c *Client) ExecuteBatchAny(ctx context.Context, cmds []BatchCmd) ([]Response[json.RawMessage], error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	type result struct {
		resp []Response[json.RawMessage]
		err  error
	}
	ch := make(chan result, len(c.endpoints))
	for _, ep := range c.endpoints {
		go func(ep *endpoint) {
			resp, err := c.batchOnce(ctx, ep, cmds)
			ch <- result{resp: resp, err: err}
		}(ep)
	}
	var firstErr error
	for i := 0; i < len(c.endpoints); i++ {
		r := <-ch
		if r.err == nil {
			return r.resp, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, fmt.Errorf("daemon: all endpoints failed batch call: %w", firstErr)
}

func (c *Client) batchOnce(ctx context.Context, ep *endpoint, cmds []BatchCmd) ([]Response[json.RawMessage], error) {
	reqs := make([]request, len(cmds))
	ids := make([]int64, len(cmds))
	for i, cmd := range cmds {
		id := c.nextRequestID()
		ids[i] = id
		reqs[i] = request{Jsonrpc: "2.0", ID: id, Method: cmd.Method, Params: cmd.Params}
	}
	body, err := fastjson.Marshal(reqs)
	if err != nil {
		return nil, err
	}
	data, err := c.doHTTP(ctx, ep, body)
	if err != nil {
		return nil, err
	}
	var raws []rawResponse
	if err := fastjson.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	byID := make(map[int64]rawResponse, len(raws))
	for _, r := range raws {
		byID[r.ID] = r
	}
	out := make([]Response[json.RawMessage], len(cmds))
	for i, id := range ids {
		raw, ok := byID[id]
		if !ok {
			out[i] = Response[json.RawMessage]{Endpoint: ep.label(), Err: fmt.Errorf("daemon: missing batch response for id %d", id)}
			continue
		}
		if raw.Error != nil {
			out[i] = Response[json.RawMessage]{Endpoint: ep.label(), Err: raw.Error}
			continue
		}
		out[i] = Response[json.RawMessage]{Endpoint: ep.label(), Result: raw.Result}
	}
	return out, nil
}

func callWithRetry[T any](ctx context.Context, c *Client, ep *endpoint, method string, params any) Response[T] {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response[T]{Endpoint: ep.label(), Err: err}
		}
		var out T
		err := c.callOnce(ctx, ep, method, params, &out)
		if err == nil {
			ep.markHealthy()
			return Response[T]{Endpoint: ep.label(), Result: out}
		}
		lastErr = err
		ep.markUnhealthy(err)
		if !shouldRetry(err) {
			return Response[T]{Endpoint: ep.label(), Err: err}
		}
		ep.reloadCookieIfChanged()
		if err := sleepCtx(ctx, backoff(attempt+1)); err != nil {
			return Response[T]{Endpoint: ep.label(), Err: lastErr}
		}
		if attempt >= 5 {
			return Response[T]{Endpoint: ep.label(), Err: lastErr}
		}
	}
}

func (c *Client) callOnce(ctx context.Context, ep *endpoint, method string, params any, out any) error {
	id := c.nextRequestID()
	body, err := fastjson.Marshal(request{Jsonrpc: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	data, err := c.doHTTP(ctx, ep, body)
	if err != nil {
		return err
	}
	var raw rawResponse
	if err := fastjson.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if raw.Error != nil {
		return raw.Error
	}
	if raw.ID != id {
		return fmt.Errorf("daemon: response id %d does not match request id %d", raw.ID, id)
	}
	if out == nil || len(raw.Result) == 0 {
		return nil
	}
	return fastjson.Unmarshal(raw.Result, out)
}

// doHTTP performs one POST and returns the (possibly Deflate/GZip
// decompressed) response body, or an httpStatusError / RPCError surfaced
// from a non-200 body that still carries a JSON-RPC error envelope.
func (c *Client) doHTTP(ctx context.Context, ep *endpoint, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if user, pass := ep.credentials(); user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := ep.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reader, err := decompressingReader(resp)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var raw rawResponse
		if err := fastjson.Unmarshal(data, &raw); err == nil && raw.Error != nil {
			return nil, raw.Error
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bytes.TrimSpace(data))}
	}
	if len(data) == 0 {
		return nil, errors.New("daemon: empty response body")
	}
	return data, nil
}

func decompressingReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

type httpStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *httpStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("daemon: http status %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("daemon: http status %s", e.Status)
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode >= 500
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return retryDelay
	}
	delay := retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			delay = retryMaxDelay
			break
		}
	}
	low, high := 1-retryJitter, 1+retryJitter
	jittered := time.Duration(float64(delay) * (low + (high-low)*rand.Float64()))
	if jittered <= 0 {
		return time.Millisecond
	}
	return jittered
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

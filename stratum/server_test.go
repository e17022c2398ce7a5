package stratum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rodb2008/corepool/job"
)

type fakeHandler struct {
	authorizeOK bool
	submitErr   *StratumError
}

func (h *fakeHandler) HandleSubscribe(c *Connection, params []any) (any, *StratumError) {
	return []any{"subscription-id", string(c.ExtraNonce1())}, nil
}

func (h *fakeHandler) HandleAuthorize(c *Connection, params []any) (any, *StratumError) {
	if !h.authorizeOK {
		return nil, newError(CodeUnauthorizedWorker, "bad credentials")
	}
	return true, nil
}

func (h *fakeHandler) HandleSubmit(c *Connection, params []any) (any, *StratumError) {
	if h.submitErr != nil {
		return nil, h.submitErr
	}
	return true, nil
}

func startTestServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	srv := New(ServerConfig{
		ListenAddrs:       []string{addr},
		InitialDifficulty: 16,
		VarDiff:           testVarDiffConfig(),
		ReadTimeout:       2 * time.Second,
		IdleTimeout:       time.Hour,
	}, handler, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)
	waitForListener(t, addr)
	return srv, addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never started listening on %s", addr)
}

func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readResponse(t *testing.T, reader *bufio.Reader) map[string]any {
	t.Helper()
	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(line, &v); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	return v
}

func TestServer_SubscribeAuthorizeSubmitFlow(t *testing.T) {
	_, addr := startTestServer(t, &fakeHandler{authorizeOK: true})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	writeLine(t, conn, Request{ID: int64(1), Method: "mining.subscribe", Params: []any{}})
	resp := readResponse(t, reader)
	if resp["error"] != nil {
		t.Fatalf("unexpected subscribe error: %v", resp["error"])
	}

	writeLine(t, conn, Request{ID: int64(2), Method: "mining.authorize", Params: []any{"worker1", "x"}})
	resp = readResponse(t, reader)
	if resp["error"] != nil {
		t.Fatalf("unexpected authorize error: %v", resp["error"])
	}

	// mining.set_difficulty notification sent right after authorize.
	notif := readResponse(t, reader)
	if notif["method"] != "mining.set_difficulty" {
		t.Fatalf("expected set_difficulty notification, got %+v", notif)
	}

	writeLine(t, conn, Request{ID: int64(3), Method: "mining.submit", Params: []any{"worker1", "jobid", "00", "deadbeef", "00000001"}})
	resp = readResponse(t, reader)
	if resp["error"] != nil {
		t.Fatalf("unexpected submit error: %v", resp["error"])
	}
}

func TestServer_SubmitBeforeAuthorizeIsRejected(t *testing.T) {
	_, addr := startTestServer(t, &fakeHandler{authorizeOK: true})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	writeLine(t, conn, Request{ID: int64(1), Method: "mining.submit", Params: []any{}})
	resp := readResponse(t, reader)
	errArr, ok := resp["error"].([]any)
	if !ok || int(errArr[0].(float64)) != CodeNotSubscribed {
		t.Fatalf("expected NotSubscribed error, got %+v", resp["error"])
	}
}

func TestServer_UnknownMethodReturnsOtherError(t *testing.T) {
	_, addr := startTestServer(t, &fakeHandler{authorizeOK: true})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	writeLine(t, conn, Request{ID: int64(1), Method: "mining.frobnicate", Params: []any{}})
	resp := readResponse(t, reader)
	errArr, ok := resp["error"].([]any)
	if !ok || int(errArr[0].(float64)) != CodeOther {
		t.Fatalf("expected CodeOther error, got %+v", resp["error"])
	}
}

func TestServer_BroadcastJobReachesAuthorizedConnections(t *testing.T) {
	srv, addr := startTestServer(t, &fakeHandler{authorizeOK: true})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	writeLine(t, conn, Request{ID: int64(1), Method: "mining.subscribe", Params: []any{}})
	readResponse(t, reader)
	writeLine(t, conn, Request{ID: int64(2), Method: "mining.authorize", Params: []any{"w1", "x"}})
	readResponse(t, reader) // authorize result
	readResponse(t, reader) // initial set_difficulty

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.Count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	j := &job.Job{ID: "job1", Data: []any{"job1", "prevhash"}}
	srv.BroadcastJob(job.Notification{Job: j, CleanJobs: true})

	notif := readResponse(t, reader)
	if notif["method"] != "mining.notify" {
		t.Fatalf("expected mining.notify, got %+v", notif)
	}
	params, ok := notif["params"].([]any)
	if !ok || params[len(params)-1] != true {
		t.Fatalf("expected CleanJobs=true appended, got %+v", params)
	}
}

func TestServer_OversizedMessageBansConnection(t *testing.T) {
	srv, addr := startTestServer(t, &fakeHandler{authorizeOK: true})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	junk := make([]byte, maxStratumMessageSize+1024)
	for i := range junk {
		junk[i] = 'a'
	}
	junk[len(junk)-1] = '\n'
	conn.Write(junk)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if banned, _ := srv.bans.IsBanned("127.0.0.1"); banned {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected remote to be banned for oversized message")
}

func TestServer_HandleReadErrorBansIncompleteTLSHandshake(t *testing.T) {
	srv := New(ServerConfig{}, &fakeHandler{}, nil, nil)

	serverRaw, clientRaw := net.Pipe()
	t.Cleanup(func() { clientRaw.Close() })

	tlsServerConn := tls.Server(serverRaw, &tls.Config{})
	c := New(tlsServerConn, "tls-test-conn", []byte{0, 0, 0, 1}, 16, testVarDiffConfig(), nil)
	t.Cleanup(c.Disconnect)

	if !c.tlsHandshakeIncomplete() {
		t.Fatalf("expected a fresh tls.Conn to report an incomplete handshake")
	}

	srv.handleReadError(c, fmt.Errorf("connection reset by peer"))

	if banned, reason := srv.bans.IsBanned(hostOf(c.RemoteAddress)); !banned || reason != "tls handshake failed" {
		t.Fatalf("expected remote to be banned for a failed tls handshake, banned=%v reason=%q", banned, reason)
	}
}

func TestServer_HandleReadErrorDoesNotBanPlainConnections(t *testing.T) {
	srv := New(ServerConfig{}, &fakeHandler{}, nil, nil)

	serverRaw, clientRaw := net.Pipe()
	t.Cleanup(func() { clientRaw.Close() })

	c := New(serverRaw, "plain-test-conn", []byte{0, 0, 0, 1}, 16, testVarDiffConfig(), nil)
	t.Cleanup(c.Disconnect)

	srv.handleReadError(c, fmt.Errorf("connection reset by peer"))

	if banned, _ := srv.bans.IsBanned(hostOf(c.RemoteAddress)); banned {
		t.Fatalf("non-tls connection should not be banned by the tls-handshake branch")
	}
}

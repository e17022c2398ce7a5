package stratum

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rodb2008/corepool/vardiff"
)

func testVarDiffConfig() vardiff.Config {
	return vardiff.Config{
		MinDiff:         1,
		MaxDiff:         1 << 20,
		TargetTime:      10 * time.Second,
		RetargetTime:    90 * time.Second,
		VariancePercent: 30,
	}
}

func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	c := New(server, "test-conn", []byte{0, 0, 0, 1}, 16, testVarDiffConfig(), nil)
	t.Cleanup(c.Disconnect)
	return c, client
}

func TestConnection_RespondEncodesResultAsJSONRPC(t *testing.T) {
	c, client := newTestConnection(t)
	reader := bufio.NewReader(client)

	if err := c.Respond(int64(1), []any{"ok"}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	var got struct {
		ID     int64 `json:"id"`
		Result []any `json:"result"`
		Error  any   `json:"error"`
	}
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != 1 || got.Error != nil {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestConnection_RespondErrorEncodesTriple(t *testing.T) {
	c, client := newTestConnection(t)
	reader := bufio.NewReader(client)

	if err := c.RespondError(int64(2), CodeJobNotFound, "job not found"); err != nil {
		t.Fatalf("RespondError: %v", err)
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	var got struct {
		ID    int64 `json:"id"`
		Error []any `json:"error"`
	}
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Error) != 3 || int(got.Error[0].(float64)) != CodeJobNotFound {
		t.Fatalf("unexpected error triple: %+v", got.Error)
	}
}

func TestConnection_StateMachineTransitions(t *testing.T) {
	c, _ := newTestConnection(t)

	if c.State() != StateNew {
		t.Fatalf("expected StateNew, got %v", c.State())
	}
	if !c.Subscribe() {
		t.Fatalf("expected Subscribe to succeed from NEW")
	}
	if c.Subscribe() {
		t.Fatalf("expected second Subscribe to fail")
	}
	if !c.Authorize() {
		t.Fatalf("expected Authorize to succeed from SUBSCRIBED")
	}
	if c.State() != StateAuthorized {
		t.Fatalf("expected StateAuthorized, got %v", c.State())
	}
}

func TestConnection_ApplyPendingDifficultyOnlyWhenChanged(t *testing.T) {
	c, _ := newTestConnection(t)

	if c.ApplyPendingDifficulty() {
		t.Fatalf("expected no pending difficulty to apply initially")
	}
	c.EnqueueNewDifficulty(16)
	if c.ApplyPendingDifficulty() {
		t.Fatalf("expected no-op when pending equals current")
	}
	c.EnqueueNewDifficulty(32)
	if !c.ApplyPendingDifficulty() {
		t.Fatalf("expected difficulty change to apply")
	}
	if c.CurrentDifficulty() != 32 {
		t.Fatalf("expected current difficulty 32, got %v", c.CurrentDifficulty())
	}
	if c.ApplyPendingDifficulty() {
		t.Fatalf("expected second apply with no new enqueue to be a no-op")
	}
}

func TestConnection_DisconnectIsIdempotent(t *testing.T) {
	c, _ := newTestConnection(t)
	c.Disconnect()
	c.Disconnect()
	if !c.Closed() {
		t.Fatalf("expected connection to report closed")
	}
}

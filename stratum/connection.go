// Package stratum implements the miner-facing half of the pool: one
// Connection per TCP socket speaking newline-delimited JSON-RPC 2.0, and a
// Server that accepts sockets, multiplexes job broadcasts, and dispatches
// requests to a pool-specific handler.
//
// Grounded on the teacher's MinerConn/handle (miner_conn.go): bufio-based
// line framing with a read deadline re-armed per read, idle-timeout
// eviction, and a background job-listener goroutine. Generalized so the
// core never parses mining.submit's coin-specific parameter shape itself
// — that is delegated, through the job package's JobBuilder, to the
// pool-specific Handler the Server dispatches to.
package stratum

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/vardiff"
)

const (
	maxStratumMessageSize = 16 * 1024
	outboundQueueSize     = 256
)

// State is a Connection's position in the subscribe/authorize state
// machine.
type State int32

const (
	StateNew State = iota
	StateSubscribed
	StateAuthorized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSubscribed:
		return "subscribed"
	case StateAuthorized:
		return "authorized"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection owns one duplex byte stream: framing, JSON-RPC request and
// response encoding, per-connection VarDiff state, and the
// subscribe/authorize state machine. Reads and dispatch happen on one
// logical goroutine (the Server's readLoop); writes are serialized through a
// single-producer outbound queue so interleaved Notify and Respond calls
// never corrupt the wire.
type Connection struct {
	ID            string
	RemoteAddress string

	conn   net.Conn
	reader *bufio.Reader

	state   atomic.Int32
	closed  atomic.Bool
	closeMu sync.Once
	doneCh  chan struct{}

	outbound chan []byte

	diffMu               sync.Mutex
	currentDifficulty    float64
	previousDifficulty   float64
	pendingDifficulty    float64
	hasPendingDifficulty bool

	VarDiff *vardiff.State

	extraNonce1 []byte

	workerMu sync.RWMutex
	worker   any

	lastActivity atomic.Int64 // unix nanos

	log *corelog.Logger
}

// New constructs a Connection over conn, owning its lifetime until
// Disconnect or a read failure. extraNonce1 is the pool-assigned nonce
// extension minted for this session; initialDifficulty seeds
// currentDifficulty before the first mining.set_difficulty is sent.
func New(conn net.Conn, id string, extraNonce1 []byte, initialDifficulty float64, vdiffCfg vardiff.Config, log *corelog.Logger) *Connection {
	if log == nil {
		log = corelog.Default
	}
	c := &Connection{
		ID:                 id,
		RemoteAddress:      conn.RemoteAddr().String(),
		conn:               conn,
		reader:             bufio.NewReaderSize(conn, maxStratumMessageSize),
		doneCh:             make(chan struct{}),
		outbound:           make(chan []byte, outboundQueueSize),
		currentDifficulty:  initialDifficulty,
		previousDifficulty: initialDifficulty,
		VarDiff:            vardiff.New(vdiffCfg),
		extraNonce1:        extraNonce1,
		log:                log,
	}
	c.lastActivity.Store(time.Now().UnixNano())
	go c.writeLoop()
	return c
}

// NextExtraNonce1 mints a fresh 4-byte big-endian extranonce1 from the
// caller's monotonic counter (each Server owns one), mirroring the teacher's
// JobManager.NextExtranonce1.
func NextExtraNonce1(counter *atomic.Uint32) []byte {
	id := counter.Add(1)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], id)
	return buf[:]
}

func (c *Connection) ExtraNonce1() []byte { return c.extraNonce1 }

func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Subscribe transitions NEW → SUBSCRIBED. Returns false if the
// connection was not in NEW.
func (c *Connection) Subscribe() bool {
	return c.state.CompareAndSwap(int32(StateNew), int32(StateSubscribed))
}

// Authorize transitions SUBSCRIBED → AUTHORIZED. Returns false
// otherwise.
func (c *Connection) Authorize() bool {
	return c.state.CompareAndSwap(int32(StateSubscribed), int32(StateAuthorized))
}

// WorkerContext returns the opaque per-connection worker context set by
// the external authorizer.
func (c *Connection) WorkerContext() any {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	return c.worker
}

func (c *Connection) SetWorkerContext(w any) {
	c.workerMu.Lock()
	c.worker = w
	c.workerMu.Unlock()
}

func (c *Connection) RecordActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) IdleExpired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(c.LastActivity()) > timeout
}

// CurrentDifficulty returns the difficulty currently in effect.
func (c *Connection) CurrentDifficulty() float64 {
	c.diffMu.Lock()
	defer c.diffMu.Unlock()
	return c.currentDifficulty
}

// EnqueueNewDifficulty stores a pending VarDiff retarget decision.
// Application happens at the next ApplyPendingDifficulty call, invoked by
// the server at job-broadcast time, so a client is never sent two
// targets for one job.
func (c *Connection) EnqueueNewDifficulty(d float64) {
	c.diffMu.Lock()
	c.pendingDifficulty = d
	c.hasPendingDifficulty = true
	c.diffMu.Unlock()
}

// ApplyPendingDifficulty atomically moves pendingDifficulty into
// currentDifficulty (saving the old value into previousDifficulty) and
// reports whether a change actually occurred.
func (c *Connection) ApplyPendingDifficulty() bool {
	c.diffMu.Lock()
	defer c.diffMu.Unlock()
	if !c.hasPendingDifficulty || c.pendingDifficulty == c.currentDifficulty {
		c.hasPendingDifficulty = false
		return false
	}
	c.previousDifficulty = c.currentDifficulty
	c.currentDifficulty = c.pendingDifficulty
	c.hasPendingDifficulty = false
	return true
}

// SetInitialDifficulty seeds currentDifficulty without going through the
// pending/apply cycle, for use before the first job is ever sent.
func (c *Connection) SetInitialDifficulty(d float64) {
	c.diffMu.Lock()
	c.previousDifficulty = c.currentDifficulty
	c.currentDifficulty = d
	c.diffMu.Unlock()
}

// Respond sends a JSON-RPC success response.
func (c *Connection) Respond(id any, result any) error {
	return c.enqueue(response{ID: id, Result: result})
}

// RespondError sends a JSON-RPC error response using the
// [code, message, null] triple every Stratum client expects.
func (c *Connection) RespondError(id any, code int, message string) error {
	return c.enqueue(response{ID: id, Result: nil, Error: newError(code, message)})
}

// Notify sends a server-to-client notification (no id).
func (c *Connection) Notify(method string, params []any) error {
	return c.enqueue(notification{ID: nil, Method: method, Params: params})
}

func (c *Connection) enqueue(v any) error {
	line, err := encodeLine(v)
	if err != nil {
		return err
	}
	select {
	case c.outbound <- line:
		return nil
	case <-c.doneCh:
		return net.ErrClosed
	}
}

func (c *Connection) writeLoop() {
	writer := bufio.NewWriter(c.conn)
	for {
		select {
		case line, ok := <-c.outbound:
			if !ok {
				return
			}
			if _, err := writer.Write(line); err != nil {
				c.log.Debug("write failed, closing connection", "remote", c.RemoteAddress, "error", err)
				c.Disconnect()
				return
			}
			if err := writer.Flush(); err != nil {
				c.log.Debug("flush failed, closing connection", "remote", c.RemoteAddress, "error", err)
				c.Disconnect()
				return
			}
		case <-c.doneCh:
			return
		}
	}
}

// Disconnect idempotently closes the connection and stops its write loop.
func (c *Connection) Disconnect() {
	c.closeMu.Do(func() {
		c.setState(StateClosed)
		c.closed.Store(true)
		close(c.doneCh)
		_ = c.conn.Close()
	})
}

func (c *Connection) Closed() bool { return c.closed.Load() }

// tlsHandshakeIncomplete reports whether conn is a TLS socket that never
// finished its handshake, the lazy-handshake-on-first-Read shape Go's
// crypto/tls gives a failed or abandoned handshake: the caller sees a
// plain read error with no dedicated error type to match on.
func (c *Connection) tlsHandshakeIncomplete() bool {
	tc, ok := c.conn.(*tls.Conn)
	return ok && !tc.ConnectionState().HandshakeComplete
}

// ReadLine blocks until one newline-terminated message is available,
// applying deadline based on readTimeout. It reports io.EOF, a timeout
// net.Error, or a closed connection the same way the teacher's handle()
// loop distinguishes them. An oversized message is returned whole; the
// caller checks its length against maxStratumMessageSize.
func (c *Connection) ReadLine(readTimeout time.Duration) ([]byte, error) {
	if readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return nil, err
		}
	}
	return c.reader.ReadBytes('\n')
}

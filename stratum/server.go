package stratum

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/job"
	"github.com/rodb2008/corepool/vardiff"
)

// Handler resolves the three RPC methods a Stratum client can send. The
// server owns framing, state-machine enforcement, and wire encoding;
// everything coin-specific (worker authorization, share validation)
// happens behind this interface, mirroring how the job package delegates
// header/coinbase construction to a JobBuilder.
type Handler interface {
	HandleSubscribe(c *Connection, params []any) (any, *StratumError)
	HandleAuthorize(c *Connection, params []any) (any, *StratumError)
	HandleSubmit(c *Connection, params []any) (any, *StratumError)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	ListenAddrs       []string
	TLS               *tls.Config
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	InitialDifficulty float64
	VarDiff           vardiff.Config
	MaxNotifyFanout   int // concurrency cap for broadcasting a job to connections
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.InitialDifficulty <= 0 {
		c.InitialDifficulty = 1
	}
	if c.MaxNotifyFanout <= 0 {
		c.MaxNotifyFanout = 256
	}
	return c
}

// Server accepts Stratum TCP (optionally TLS) connections, enforces the
// pool-wide ban list, and fans job broadcasts out to every connection.
// Grounded on the teacher's listener/accept loop in main.go and the
// per-connection registry implied by MinerConn's broadcast usage, with
// the registry generalized into an explicit map guarded by one mutex per
// the shared-resource policy: the job lock is never held across an
// accept or a write.
type Server struct {
	cfg  ServerConfig
	log  *corelog.Logger
	bans *BanManager

	handler Handler

	mu          sync.RWMutex
	connections map[string]*Connection

	nextExtraNonce1 atomic.Uint32
	nextConnID      atomic.Uint64

	listeners []net.Listener
}

// New constructs a Server. handler resolves subscribe/authorize/submit;
// bans may be nil, in which case a fresh BanManager is created.
func New(cfg ServerConfig, handler Handler, bans *BanManager, log *corelog.Logger) *Server {
	if log == nil {
		log = corelog.Default
	}
	if bans == nil {
		bans = NewBanManager()
	}
	return &Server{
		cfg:         cfg.withDefaults(),
		log:         log,
		bans:        bans,
		handler:     handler,
		connections: make(map[string]*Connection),
	}
}

// Serve listens on every configured address and blocks until ctx is
// canceled or a listener fails to bind. Accepted connections are handled
// on their own goroutine and outlive Serve's blocking call; canceling ctx
// stops accepting new connections but does not forcibly close existing
// ones.
func (s *Server) Serve(ctx context.Context) error {
	if len(s.cfg.ListenAddrs) == 0 {
		return errors.New("stratum: no listen addresses configured")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(s.cfg.ListenAddrs))

	for _, addr := range s.cfg.ListenAddrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("stratum: listen %s: %w", addr, err)
		}
		if s.cfg.TLS != nil {
			ln = tls.NewListener(ln, s.cfg.TLS)
		}
		s.listeners = append(s.listeners, ln)

		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			s.acceptLoop(ctx, ln, errCh)
		}(ln)
	}

	go func() {
		<-ctx.Done()
		for _, ln := range s.listeners {
			_ = ln.Close()
		}
	}()

	go s.banSweepLoop(ctx)

	wg.Wait()
	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, errCh chan error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || isUseOfClosedNetwork(err) {
				return
			}
			if isIgnoredAcceptError(err) {
				continue
			}
			s.log.Warn("accept failed", "listener", ln.Addr().String(), "error", err)
			errCh <- err
			return
		}
		go s.handleAccepted(ctx, conn)
	}
}

func (s *Server) handleAccepted(ctx context.Context, conn net.Conn) {
	host := hostOf(conn.RemoteAddr().String())
	if banned, reason := s.bans.IsBanned(host); banned {
		s.log.Debug("rejected banned connection", "remote", conn.RemoteAddr().String(), "reason", reason)
		_ = conn.Close()
		return
	}

	id := fmt.Sprintf("c%d", s.nextConnID.Add(1))
	extraNonce1 := NextExtraNonce1(&s.nextExtraNonce1)
	c := New(conn, id, extraNonce1, s.cfg.InitialDifficulty, s.cfg.VarDiff, s.log)

	s.register(c)
	defer s.unregister(c.ID)

	s.readLoop(ctx, c)
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.connections[c.ID] = c
	s.mu.Unlock()
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	c, ok := s.connections[id]
	delete(s.connections, id)
	s.mu.Unlock()
	if ok {
		c.Disconnect()
	}
}

// Count returns the number of currently registered connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// forEach snapshots the connection table under lock and invokes action
// outside the lock, so a slow or blocking write from one connection can
// never stall registration of another.
func (s *Server) forEach(action func(*Connection)) {
	s.mu.RLock()
	snapshot := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	swg := sizedwaitgroup.New(s.cfg.MaxNotifyFanout)
	for _, c := range snapshot {
		swg.Add()
		go func(c *Connection) {
			defer swg.Done()
			action(c)
		}(c)
	}
	swg.Wait()
}

// BroadcastJob pushes a new job notification to every authorized
// connection, applying any pending VarDiff retarget first so a client
// never receives a job at a stale difficulty. A connection idle for
// longer than IdleTimeout is disconnected instead. It mirrors the teacher's
// listenJobs broadcast, generalized to the shared job.Notification type.
func (s *Server) BroadcastJob(n job.Notification) {
	params := n.Job.Data
	s.forEach(func(c *Connection) {
		if c.IdleExpired(time.Now(), s.cfg.IdleTimeout) {
			s.log.Debug("evicting idle connection", "connection", c.ID)
			c.Disconnect()
			return
		}
		if c.State() != StateAuthorized {
			return
		}
		if c.ApplyPendingDifficulty() {
			if err := c.Notify("mining.set_difficulty", []any{c.CurrentDifficulty()}); err != nil {
				return
			}
		}
		if err := c.Notify("mining.notify", jobNotifyParams(n, params)); err != nil {
			s.log.Debug("notify failed", "connection", c.ID, "error", err)
		}
	})
}

// notifyParamsProvider lets a coin-specific Job.Data supply its own
// mining.notify parameter list (everything but the trailing CleanJobs
// flag, which this package always owns) instead of being the wire slice
// itself, so a JobBuilder can also carry whatever internal scaffolding
// ProcessShare needs on Job.Data.
type notifyParamsProvider interface {
	NotifyParams() []any
}

func jobNotifyParams(n job.Notification, params any) []any {
	if p, ok := params.(notifyParamsProvider); ok {
		list := p.NotifyParams()
		out := make([]any, len(list)+1)
		copy(out, list)
		out[len(list)] = n.CleanJobs
		return out
	}
	if list, ok := params.([]any); ok {
		out := make([]any, len(list)+1)
		copy(out, list)
		out[len(list)] = n.CleanJobs
		return out
	}
	return []any{params, n.CleanJobs}
}

func (s *Server) readLoop(ctx context.Context, c *Connection) {
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.ReadLine(s.cfg.ReadTimeout)
		if err != nil {
			s.handleReadError(c, err)
			return
		}
		if len(line) > maxStratumMessageSize {
			s.bans.Ban(hostOf(c.RemoteAddress), "oversized message", defaultBanDuration)
			s.log.Warn("banned connection for oversized message", "remote", c.RemoteAddress)
			return
		}
		c.RecordActivity()
		if c.IdleExpired(time.Now(), s.cfg.IdleTimeout) {
			return
		}

		var req Request
		if err := decodeLine(line, &req); err != nil {
			s.bans.Ban(hostOf(c.RemoteAddress), "malformed request", defaultBanDuration)
			s.log.Warn("banned connection for malformed request", "remote", c.RemoteAddress, "error", err)
			return
		}
		s.dispatch(c, &req)
	}
}

func (s *Server) handleReadError(c *Connection, err error) {
	if errors.Is(err, net.ErrClosed) || isUseOfClosedNetwork(err) {
		return
	}
	if isTLSHandshakeFailure(c, err) {
		s.bans.Ban(hostOf(c.RemoteAddress), "tls handshake failed", defaultBanDuration)
		s.log.Warn("banned connection for failed tls handshake", "remote", c.RemoteAddress, "error", err)
		return
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		s.log.Debug("connection idle timeout", "remote", c.RemoteAddress)
		return
	}
	s.log.Debug("connection read failed", "remote", c.RemoteAddress, "error", err)
}

// isTLSHandshakeFailure recognizes a failed TLS handshake surfacing as a
// read error: either a malformed-record error crypto/tls returns directly,
// or (the common case for alert/certificate failures, which crypto/tls
// doesn't expose as a distinct type) a read error on a *tls.Conn whose
// handshake never completed.
func isTLSHandshakeFailure(c *Connection, err error) bool {
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	return c.tlsHandshakeIncomplete()
}

func (s *Server) dispatch(c *Connection, req *Request) {
	switch req.Method {
	case "mining.subscribe":
		s.dispatchSubscribe(c, req)
	case "mining.authorize":
		s.dispatchAuthorize(c, req)
	case "mining.submit":
		s.dispatchSubmit(c, req)
	default:
		_ = c.RespondError(req.ID, CodeOther, "unknown method "+req.Method)
	}
}

func (s *Server) dispatchSubscribe(c *Connection, req *Request) {
	result, stratumErr := s.handler.HandleSubscribe(c, req.Params)
	if stratumErr != nil {
		_ = c.RespondError(req.ID, stratumErr.Code, stratumErr.Message)
		return
	}
	c.Subscribe()
	_ = c.Respond(req.ID, result)
}

func (s *Server) dispatchAuthorize(c *Connection, req *Request) {
	if c.State() == StateNew {
		_ = c.RespondError(req.ID, CodeNotSubscribed, "not subscribed")
		return
	}
	result, stratumErr := s.handler.HandleAuthorize(c, req.Params)
	if stratumErr != nil {
		_ = c.RespondError(req.ID, stratumErr.Code, stratumErr.Message)
		return
	}
	c.Authorize()
	_ = c.Respond(req.ID, result)
	_ = c.Notify("mining.set_difficulty", []any{c.CurrentDifficulty()})
}

func (s *Server) dispatchSubmit(c *Connection, req *Request) {
	switch c.State() {
	case StateNew:
		_ = c.RespondError(req.ID, CodeNotSubscribed, "not subscribed")
		return
	case StateSubscribed:
		_ = c.RespondError(req.ID, CodeUnauthorizedWorker, "not authorized")
		return
	}
	result, stratumErr := s.handler.HandleSubmit(c, req.Params)
	if stratumErr != nil {
		_ = c.RespondError(req.ID, stratumErr.Code, stratumErr.Message)
		return
	}
	_ = c.Respond(req.ID, result)
}

func (s *Server) banSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.bans.sweep(now)
		}
	}
}

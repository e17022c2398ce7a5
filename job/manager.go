package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hako/durafmt"

	"github.com/rodb2008/corepool/daemon"
	"github.com/rodb2008/corepool/internal/corelog"
)

// Config carries the pool-level settings the manager needs beyond the
// JobBuilder itself: polling cadence, backlog policy, and how to decode
// a raw getblocktemplate-shaped response into the core's Template view.
//
// Grounded on the teacher's Config/VarDiffConfig split in miner_types.go
// and config_types.go — one struct per concern, passed in rather than
// read from globals.
type Config struct {
	GetBlockTemplateMethod string
	GetBlockTemplateParams any
	DecodeTemplate         func(raw json.RawMessage) (Template, error)

	NotSynchedErrorCodes []int

	BlockRefreshInterval   time.Duration
	JobRebroadcastTimeout  time.Duration
	MaxBacklog             int
	ClearRegistryOnNewTip  bool

	PayoutAddress   string
	DonationAddress string
	CoinbaseMessage string
	ExtraNonce2Size int

	HealthPollInterval time.Duration
	SyncPollInterval   time.Duration

	// ZMQBlockAddr, if set, is a bitcoind-style "tcp://host:port" ZMQ PUB
	// endpoint publishing hashblock/rawblock notifications. When present
	// the manager forces a job update on every notification instead of
	// waiting for the next BlockRefreshInterval tick.
	ZMQBlockAddr string

	// LongPollEnabled turns on the longpoll fallback: when a fetched
	// template carries a longpollid, the manager issues a second,
	// long-timeout getblocktemplate call that blocks until the daemon
	// itself observes a change, supplementing the poll timer.
	LongPollEnabled bool
	LongPollTimeout time.Duration

	// SubmitBlockFastRetryInterval and SubmitBlockFastRetryAttempts control
	// the aggressive short-interval retry loop submitBlock runs independently of the daemon client's default
	// backoff, racing the network to get a winning block accepted before
	// a competing pool's block propagates.
	SubmitBlockFastRetryInterval time.Duration
	SubmitBlockFastRetryAttempts int
}

func (c Config) withDefaults() Config {
	if c.BlockRefreshInterval <= 0 {
		c.BlockRefreshInterval = 500 * time.Millisecond
	}
	if c.JobRebroadcastTimeout <= 0 {
		c.JobRebroadcastTimeout = 55 * time.Second
	}
	if c.HealthPollInterval <= 0 {
		c.HealthPollInterval = 5 * time.Second
	}
	if c.SyncPollInterval <= 0 {
		c.SyncPollInterval = 5 * time.Second
	}
	if c.GetBlockTemplateMethod == "" {
		c.GetBlockTemplateMethod = "getblocktemplate"
	}
	if c.LongPollTimeout <= 0 {
		c.LongPollTimeout = 2 * time.Minute
	}
	if c.SubmitBlockFastRetryInterval <= 0 {
		c.SubmitBlockFastRetryInterval = 250 * time.Millisecond
	}
	if c.SubmitBlockFastRetryAttempts <= 0 {
		c.SubmitBlockFastRetryAttempts = 3
	}
	return c
}

// Manager owns the job pipeline for one pool: block-template polling, job
// versioning, share validation dispatch, block submission, and the
// observable job stream.
//
// Grounded on the teacher's JobManager (job.go): daemon handle, current
// job under a lock, a subscriber set fed by an async notification queue.
// Generalized by delegating Job construction and share evaluation to a
// JobBuilder instead of hard-coding Bitcoin's getblocktemplate shape.
type Manager struct {
	daemon  *daemon.Client
	builder JobBuilder
	cfg     Config
	log     *corelog.Logger

	mu      sync.RWMutex
	current *Job

	registry    *Registry
	stats       *BlockchainStats
	broadcaster *Broadcaster

	nextID atomic.Uint64

	hasSubmitBlock atomic.Bool

	tipMu     sync.Mutex
	lastTipAt time.Time
}

// New constructs a Manager. daemonClient and builder are required.
func New(daemonClient *daemon.Client, builder JobBuilder, cfg Config, log *corelog.Logger) *Manager {
	if log == nil {
		log = corelog.Default
	}
	cfg = cfg.withDefaults()
	return &Manager{
		daemon:      daemonClient,
		builder:     builder,
		cfg:         cfg,
		log:         log,
		registry:    NewRegistry(cfg.MaxBacklog),
		stats:       &BlockchainStats{},
		broadcaster: NewBroadcaster(),
	}
}

// Jobs returns the observable job stream. Subscribing late does not
// replay past emissions.
func (m *Manager) Jobs() (ch chan Notification, unsubscribe func()) {
	return m.broadcaster.Subscribe()
}

// CurrentJob returns the job currently considered the pool's tip, or nil
// before the first successful template fetch.
func (m *Manager) CurrentJob() *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Stats exposes the manager's BlockchainStats snapshot.
func (m *Manager) Stats() *BlockchainStats { return m.stats }

// Ready reports whether a job has ever been built.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

func (m *Manager) nextJobID() string {
	return strconv.FormatUint(m.nextID.Add(1), 16)
}

// waitDaemonHealthy repeats executeAll(getinfo) until every endpoint
// responds without error.
func (m *Manager) waitDaemonHealthy(ctx context.Context) error {
	var unhealthySince time.Time
	for {
		results := daemon.ExecuteAll[json.RawMessage](ctx, m.daemon, "getinfo", nil)
		allOK := len(results) > 0
		for _, r := range results {
			if !r.OK() {
				allOK = false
				m.log.Warn("daemon endpoint unhealthy", "endpoint", r.Endpoint, "error", r.Err)
			}
		}
		if allOK {
			return nil
		}
		if unhealthySince.IsZero() {
			unhealthySince = time.Now()
		} else {
			m.log.Warn("daemon still unhealthy", "duration", durafmt.Parse(time.Since(unhealthySince)).LimitFirstN(2).String())
		}
		if err := sleepCtx(ctx, m.cfg.HealthPollInterval); err != nil {
			return err
		}
	}
}

// waitDaemonConnected requires connections > 0 on at least one endpoint.
func (m *Manager) waitDaemonConnected(ctx context.Context) error {
	type infoResult struct {
		Connections int `json:"connections"`
	}
	for {
		results := daemon.ExecuteAll[infoResult](ctx, m.daemon, "getinfo", nil)
		for _, r := range results {
			if r.OK() && r.Result.Connections > 0 {
				return nil
			}
		}
		if err := sleepCtx(ctx, m.cfg.HealthPollInterval); err != nil {
			return err
		}
	}
}

// waitDaemonSynched polls getblocktemplate until the daemon stops
// reporting one of the configured "not synched" error codes.
func (m *Manager) waitDaemonSynched(ctx context.Context) error {
	for {
		resp := daemon.ExecuteAny[json.RawMessage](ctx, m.daemon, m.cfg.GetBlockTemplateMethod, m.cfg.GetBlockTemplateParams)
		if resp.OK() {
			return nil
		}
		rpcErr := resp.RPCErr()
		if rpcErr != nil && m.isNotSynchedCode(rpcErr.Code) {
			m.log.Info("daemon not yet synched, waiting", "code", rpcErr.Code, "message", rpcErr.Message)
			if err := sleepCtx(ctx, m.cfg.SyncPollInterval); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("waitDaemonSynched: %w", resp.Err)
	}
}

func (m *Manager) isNotSynchedCode(code int) bool {
	for _, c := range m.cfg.NotSynchedErrorCodes {
		if c == code {
			return true
		}
	}
	return false
}

// postStartInit validates the configured payout address, detects the
// chain network, and probes whether submitblock is available.
func (m *Manager) postStartInit(ctx context.Context) error {
	if m.cfg.PayoutAddress == "" {
		return ErrNoPayoutAddress
	}
	if !m.builder.ValidateAddress(m.cfg.PayoutAddress) {
		return fmt.Errorf("job: payout address %q is not valid for this coin", m.cfg.PayoutAddress)
	}

	type chainInfo struct {
		Chain      string  `json:"chain"`
		Difficulty float64 `json:"difficulty"`
		Blocks     int64   `json:"blocks"`
	}
	if resp := daemon.ExecuteAny[chainInfo](ctx, m.daemon, "getblockchaininfo", nil); resp.OK() {
		m.stats.SetNetworkType(resp.Result.Chain)
		m.stats.SetNetworkDifficulty(resp.Result.Difficulty)
		m.stats.SetBlockHeight(resp.Result.Blocks)
	}

	resp := daemon.ExecuteAny[json.RawMessage](ctx, m.daemon, "submitblock", nil)
	if rpcErr := resp.RPCErr(); rpcErr != nil {
		m.hasSubmitBlock.Store(!(rpcErr.Code == -32601 || rpcErr.Code == -1))
	} else {
		m.hasSubmitBlock.Store(true)
	}
	return nil
}

// Start runs the full asynchronous startup sequence and, once the daemon
// is healthy, connected, and synched, begins the job stream. Start
// blocks until startup succeeds, a startup step fails, or ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.waitDaemonHealthy(ctx); err != nil {
		return err
	}
	if err := m.waitDaemonConnected(ctx); err != nil {
		return err
	}
	if err := m.waitDaemonSynched(ctx); err != nil {
		return err
	}
	if err := m.postStartInit(ctx); err != nil {
		return err
	}
	if _, err := m.UpdateJob(ctx, true); err != nil {
		m.log.Error("initial job update failed", "error", err)
	}
	go m.jobStreamLoop(ctx)
	if m.cfg.LongPollEnabled {
		go m.longpollLoop(ctx)
	}
	if m.cfg.ZMQBlockAddr != "" {
		go m.zmqBlockLoop(ctx)
	}
	return nil
}

func (m *Manager) jobStreamLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.BlockRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			isNew, err := m.UpdateJob(ctx, false)
			if err != nil {
				m.log.Warn("job update failed, keeping previous job current", "error", err)
				continue
			}
			if !isNew && m.rebroadcastDue() {
				m.log.Info("forcing job rebroadcast", "last_block", durafmt.Parse(time.Since(m.lastBlockAt())).LimitFirstN(2).String()+" ago")
				if _, err := m.UpdateJob(ctx, true); err != nil {
					m.log.Warn("forced rebroadcast failed", "error", err)
				}
			}
		}
	}
}

func (m *Manager) rebroadcastDue() bool {
	m.tipMu.Lock()
	defer m.tipMu.Unlock()
	return !m.lastTipAt.IsZero() && time.Since(m.lastTipAt) >= m.cfg.JobRebroadcastTimeout
}

func (m *Manager) lastBlockAt() time.Time {
	m.tipMu.Lock()
	defer m.tipMu.Unlock()
	return m.lastTipAt
}

// UpdateJob fetches a fresh template, decides whether it represents a new
// chain tip, and — when it is new or forceUpdate is set — builds and
// broadcasts a new Job. It returns whether the tip actually advanced.
func (m *Manager) UpdateJob(ctx context.Context, forceUpdate bool) (bool, error) {
	return m.updateJobWithParams(ctx, m.cfg.GetBlockTemplateParams, forceUpdate)
}

// updateJobWithParams is UpdateJob generalized over the getblocktemplate
// request params, so the longpoll loop can fetch with a longpollid merged
// in while still sharing the tip-detection/build/broadcast path.
func (m *Manager) updateJobWithParams(ctx context.Context, params any, forceUpdate bool) (bool, error) {
	resp := daemon.ExecuteAny[json.RawMessage](ctx, m.daemon, m.cfg.GetBlockTemplateMethod, params)
	if !resp.OK() {
		return false, fmt.Errorf("getblocktemplate: %w", resp.Err)
	}
	tpl, err := m.cfg.DecodeTemplate(resp.Result)
	if err != nil {
		return false, fmt.Errorf("decode template: %w", err)
	}

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	isNew := cur == nil || cur.Template.PreviousHash() != tpl.PreviousHash() || cur.Template.Height() < tpl.Height()
	if !isNew && !forceUpdate {
		return false, nil
	}

	built, err := m.builder.Build(tpl, m.nextJobID(), BuildConfig{
		PayoutAddress:   m.cfg.PayoutAddress,
		DonationAddress: m.cfg.DonationAddress,
		CoinbaseMessage: m.cfg.CoinbaseMessage,
		ExtraNonce2Size: m.cfg.ExtraNonce2Size,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("build job: %w", err)
	}
	built.Clean = isNew

	m.mu.Lock()
	if isNew {
		if m.cfg.ClearRegistryOnNewTip {
			m.registry.Clear()
		}
		m.stats.SetLastNetworkBlockTime(time.Now())
		m.stats.SetBlockHeight(tpl.Height())
	}
	m.registry.Insert(built)
	m.current = built
	m.mu.Unlock()

	if isNew {
		m.tipMu.Lock()
		m.lastTipAt = time.Now()
		m.tipMu.Unlock()
	}

	m.log.Info("new job", "job_id", built.ID, "height", tpl.Height(), "clean", isNew)
	m.broadcaster.Publish(Notification{Job: built, CleanJobs: isNew})
	return isNew, nil
}

// SubmitShare validates one mining.submit against the job named by
// jobID, delegating header reconstruction and hashing to the JobBuilder,
// and — for a block candidate — attempts submission to the daemon.
func (m *Manager) SubmitShare(ctx context.Context, jobID string, extraNonce1 []byte, params ShareParams, poolID, worker, ipAddress string, stratumDifficulty float64) (*Share, error) {
	if jobID == "" {
		return nil, ErrJobNotFound
	}
	j, ok := m.registry.Get(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}

	networkDifficulty := m.stats.NetworkDifficulty()
	minDiff := stratumDifficulty
	if networkDifficulty > 0 && networkDifficulty < minDiff {
		minDiff = networkDifficulty
	}

	result, err := m.builder.ProcessShare(j, extraNonce1, params, minDiff)
	if err != nil {
		return nil, err
	}

	share := &Share{
		PoolID:            poolID,
		Worker:            worker,
		MinerAddress:      worker,
		IPAddress:         ipAddress,
		Difficulty:        result.ShareDifficulty,
		NetworkDifficulty: networkDifficulty,
		BlockHeight:       j.Template.Height(),
		IsBlockCandidate:  result.IsBlockCandidate,
		BlockHash:         result.BlockHash,
		BlockHex:          result.BlockHex,
		SubmittedAt:       time.Now(),
	}

	if result.IsBlockCandidate {
		accepted, coinbaseHash, err := m.submitBlock(ctx, j, result.BlockHex, result.BlockHash)
		if err != nil {
			m.log.Warn("submitblock failed", "job_id", jobID, "error", err)
		}
		if accepted {
			share.TransactionConfirmationData = coinbaseHash
		} else {
			share.IsBlockCandidate = false
		}
	}

	return share, nil
}

// submitBlock races submitBlockFastRetry against the network, then
// independently confirms acceptance via getblock rather than trusting
// submitblock's own response (some daemons return an ambiguous result
// even on success).
func (m *Manager) submitBlock(ctx context.Context, j *Job, blockHex, blockHash string) (accepted bool, coinbaseTxHash string, err error) {
	if err := m.submitBlockFastRetry(j, blockHex, blockHash); err != nil {
		m.log.Warn("block submission rejected by daemon", "block_hash", blockHash, "error", err)
	}

	type blockInfo struct {
		Hash string   `json:"hash"`
		Tx   []string `json:"tx"`
	}
	confirm := daemon.ExecuteAny[blockInfo](ctx, m.daemon, "getblock", []any{blockHash})
	if !confirm.OK() {
		return false, "", fmt.Errorf("getblock confirmation: %w", confirm.Err)
	}
	if confirm.Result.Hash != blockHash {
		return false, "", nil
	}
	if len(confirm.Result.Tx) > 0 {
		coinbaseTxHash = confirm.Result.Tx[0]
	}
	return true, coinbaseTxHash, nil
}

// submitBlockFastRetry calls submitblock (or getblocktemplate in submit
// mode, for daemons that don't expose submitblock) repeatedly at a short
// fixed interval, deliberately ignoring ctx cancellation so a pool
// shutdown signal can't abort a submission mid-race. It gives up once a
// newer job height has been observed (this block already lost the race)
// or after the configured attempt budget.
func (m *Manager) submitBlockFastRetry(j *Job, blockHex, blockHash string) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.SubmitBlockFastRetryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubmitBlockFastRetryInterval*10)
		var resp daemon.Response[json.RawMessage]
		if m.hasSubmitBlock.Load() {
			resp = daemon.ExecuteAny[json.RawMessage](ctx, m.daemon, "submitblock", []any{blockHex})
		} else {
			resp = daemon.ExecuteAny[json.RawMessage](ctx, m.daemon, m.cfg.GetBlockTemplateMethod, []any{map[string]any{"mode": "submit", "data": blockHex}})
		}
		cancel()
		if resp.OK() {
			if attempt > 1 {
				m.log.Info("submitblock succeeded after retries", "attempts", attempt, "block_hash", blockHash)
			}
			return nil
		}
		lastErr = resp.Err

		if attempt == 1 {
			m.log.Error("submitblock error, retrying aggressively", "error", lastErr, "block_hash", blockHash)
		}

		if j != nil {
			if cur := m.CurrentJob(); cur != nil && cur.Template.Height() > j.Template.Height() {
				m.log.Warn("submitblock giving up, newer block already seen",
					"original_height", j.Template.Height(), "current_height", cur.Template.Height(), "attempts", attempt)
				return lastErr
			}
		}

		if attempt < m.cfg.SubmitBlockFastRetryAttempts {
			time.Sleep(m.cfg.SubmitBlockFastRetryInterval)
		}
	}
	return lastErr
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

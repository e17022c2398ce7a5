package job

import (
	"context"
	"encoding/hex"
	"errors"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
)

// longPollTemplate is implemented by a Template that exposes the daemon's
// longpollid, letting the manager block on the daemon's own
// template-change notification instead of only polling on a timer.
// Grounded on the teacher's job_feed.go longpollLoop.
type longPollTemplate interface {
	LongPollID() string
}

// longpollLoop supplements the timer-driven jobStreamLoop: whenever the
// current template carries a longpollid, it issues a second,
// long-timeout getblocktemplate call that the daemon itself holds open
// until something changes, then folds the result in exactly like a
// normal poll. Runs until ctx is done.
func (m *Manager) longpollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		cur := m.CurrentJob()
		if cur == nil {
			if err := sleepCtx(ctx, m.cfg.BlockRefreshInterval); err != nil {
				return
			}
			continue
		}
		lp, ok := cur.Template.(longPollTemplate)
		if !ok || lp.LongPollID() == "" {
			if err := sleepCtx(ctx, m.cfg.LongPollTimeout); err != nil {
				return
			}
			continue
		}

		params := map[string]any{"longpollid": lp.LongPollID()}
		if pm, ok := m.cfg.GetBlockTemplateParams.([]any); ok && len(pm) > 0 {
			if base, ok := pm[0].(map[string]any); ok {
				for k, v := range base {
					params[k] = v
				}
			}
		}

		lctx, cancel := context.WithTimeout(ctx, m.cfg.LongPollTimeout)
		_, err := m.updateJobWithParams(lctx, []any{params}, false)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			m.log.Warn("longpoll getblocktemplate failed", "error", err)
			if err := sleepCtx(ctx, m.cfg.SyncPollInterval); err != nil {
				return
			}
		}
	}
}

// zmqBlockLoop watches a bitcoind-style ZMQ PUB socket for hashblock/
// rawblock notifications and forces an immediate job update on each,
// shortening the common-case latency between a new block and the pool's
// next broadcast well below BlockRefreshInterval. Reconnects with
// exponential backoff on any socket error. Grounded on the teacher's
// job_feed.go zmqBlockLoop, simplified: no separate monitor socket, since
// a failed Recv already triggers the same reconnect path a monitor event
// would.
func (m *Manager) zmqBlockLoop(ctx context.Context) {
	const (
		minBackoff = time.Second
		maxBackoff = 30 * time.Second
	)
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := zmq4.NewSocket(zmq4.SUB)
		if err != nil {
			m.log.Warn("zmq socket create failed", "error", err)
			if sleepCtx(ctx, backoff) != nil {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		_ = sub.SetLinger(0)
		_ = sub.SetRcvtimeo(5 * time.Second)

		ok := true
		for _, topic := range []string{"hashblock", "rawblock"} {
			if err := sub.SetSubscribe(topic); err != nil {
				m.log.Warn("zmq subscribe failed", "topic", topic, "error", err)
				ok = false
				break
			}
		}
		if ok {
			if err := sub.Connect(m.cfg.ZMQBlockAddr); err != nil {
				m.log.Warn("zmq connect failed", "addr", m.cfg.ZMQBlockAddr, "error", err)
				ok = false
			}
		}
		if !ok {
			sub.Close()
			if sleepCtx(ctx, backoff) != nil {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		m.log.Info("watching zmq block notifications", "addr", m.cfg.ZMQBlockAddr)
		backoff = minBackoff

		for ctx.Err() == nil {
			frames, err := sub.RecvMessageBytes(0)
			if err != nil {
				eno := zmq4.AsErrno(err)
				if eno == zmq4.Errno(syscall.EAGAIN) || eno == zmq4.ETIMEDOUT {
					continue
				}
				m.log.Warn("zmq receive failed", "error", err)
				break
			}
			if len(frames) < 2 {
				continue
			}
			topic := string(frames[0])
			switch topic {
			case "hashblock":
				m.log.Info("zmq block notification", "block_hash", hex.EncodeToString(frames[1]))
			case "rawblock":
			default:
				continue
			}
			if _, err := m.UpdateJob(ctx, true); err != nil {
				m.log.Warn("zmq-triggered job update failed", "error", err)
			}
		}
		sub.Close()
		if sleepCtx(ctx, backoff) != nil {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

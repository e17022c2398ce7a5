// Package vardiff implements per-connection variable-difficulty
// retargeting: a small history of inter-share intervals is used to nudge
// a miner's difficulty toward a target share rate without reacting to any
// single outlier share.
//
// Grounded on the teacher's VarDiffConfig (miner_types.go) and its
// per-connection retarget bookkeeping in MinerConn (vardiffPendingDirection,
// vardiffUpwardCooldownUntil, vardiffWindow*): the shape of a config struct
// plus pure retarget state carried per connection is kept, generalized into
// a standalone package callable from both the share-submission path and a
// periodic ticker, and driven by the window/band algorithm rather than the
// teacher's own damping-factor one.
package vardiff

import "time"

const historyCapacity = 10

// Config describes one pool's VarDiff tuning for a connection.
type Config struct {
	MinDiff         float64
	MaxDiff         float64
	TargetTime      time.Duration
	RetargetTime    time.Duration
	VariancePercent float64
}

func (c Config) band() (tMin, tMax time.Duration) {
	variance := float64(c.TargetTime) * (c.VariancePercent / 100)
	return c.TargetTime - time.Duration(variance), c.TargetTime + time.Duration(variance)
}

func (c Config) maxDiff(networkDifficulty float64) float64 {
	if c.MaxDiff > 0 {
		return c.MaxDiff
	}
	if networkDifficulty > c.MinDiff {
		return networkDifficulty
	}
	return c.MinDiff
}

// State is the per-connection retargeting state: a capacity-10 circular
// buffer of inter-share intervals plus the timestamps of the last sample
// and the last applied retarget.
type State struct {
	cfg Config

	history      [historyCapacity]time.Duration
	len          int
	next         int
	lastTs       time.Time
	lastRetarget time.Time
	started      bool
}

// New returns fresh retargeting state for one connection.
func New(cfg Config) *State {
	return &State{cfg: cfg}
}

func (s *State) push(interval time.Duration) {
	s.history[s.next] = interval
	s.next = (s.next + 1) % historyCapacity
	if s.len < historyCapacity {
		s.len++
	}
}

func (s *State) sum() time.Duration {
	var total time.Duration
	for i := 0; i < s.len; i++ {
		total += s.history[i]
	}
	return total
}

func (s *State) clear() {
	s.len = 0
	s.next = 0
}

// Share records that a share was submitted at ts and evaluates whether a
// retarget is due. Tick is the periodic counterpart that evaluates the
// same band without pushing an interval into the buffer.
func (s *State) Share(ts time.Time, currentDiff, networkDifficulty float64) (newDiff float64, ok bool) {
	return s.sample(ts, currentDiff, networkDifficulty, true)
}

// Tick evaluates a retarget decision at ts without a share having
// arrived — useful for evicting a stale connection toward minDiff when
// shares have stopped arriving entirely. It never pushes an interval into
// the buffer; a retarget it applies clears the buffer and restarts the
// retarget window, exactly as one applied by Share does.
func (s *State) Tick(ts time.Time, currentDiff, networkDifficulty float64) (newDiff float64, ok bool) {
	return s.sample(ts, currentDiff, networkDifficulty, false)
}

func (s *State) sample(ts time.Time, currentDiff, networkDifficulty float64, isShare bool) (float64, bool) {
	// A zero TargetTime (the Config a disabled [vardiff] section yields)
	// never retargets.
	if s.cfg.TargetTime <= 0 {
		return currentDiff, false
	}
	if !s.started {
		s.started = true
		s.lastTs = ts
		s.lastRetarget = ts
		return currentDiff, false
	}

	sinceLast := ts.Sub(s.lastTs)
	avg := (s.sum() + sinceLast) / time.Duration(s.len+1)

	if isShare {
		s.push(sinceLast)
		s.lastTs = ts
	}

	if s.cfg.RetargetTime > 0 && ts.Sub(s.lastRetarget) < s.cfg.RetargetTime {
		return currentDiff, false
	}
	tMin, tMax := s.cfg.band()
	if avg >= tMin && avg <= tMax {
		return currentDiff, false
	}

	next := currentDiff
	if avg > 0 {
		next = currentDiff * float64(s.cfg.TargetTime) / float64(avg)
	}
	next = clamp(next, s.cfg.MinDiff, s.cfg.maxDiff(networkDifficulty))

	if next == currentDiff {
		return currentDiff, false
	}
	s.lastRetarget = ts
	s.clear()
	return next, true
}

func clamp(v, min, max float64) float64 {
	if min > 0 && v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

package job

import (
	"sync"
	"time"
)

// BlockchainStats is a mutable snapshot of chain state, owned exclusively
// by the JobManager and updated as fresh templates and daemon info arrive.
type BlockchainStats struct {
	mu sync.RWMutex

	blockHeight         int64
	networkDifficulty   float64
	networkHashRate     float64
	connectedPeers      int
	networkType         string
	rewardType          string
	lastNetworkBlockTime time.Time
}

// Snapshot is an immutable copy safe to hand to callers outside the lock.
type Snapshot struct {
	BlockHeight          int64
	NetworkDifficulty    float64
	NetworkHashRate      float64
	ConnectedPeers       int
	NetworkType          string
	RewardType           string
	LastNetworkBlockTime time.Time
}

func (s *BlockchainStats) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		BlockHeight:          s.blockHeight,
		NetworkDifficulty:    s.networkDifficulty,
		NetworkHashRate:      s.networkHashRate,
		ConnectedPeers:       s.connectedPeers,
		NetworkType:          s.networkType,
		RewardType:           s.rewardType,
		LastNetworkBlockTime: s.lastNetworkBlockTime,
	}
}

func (s *BlockchainStats) SetBlockHeight(h int64) {
	s.mu.Lock()
	s.blockHeight = h
	s.mu.Unlock()
}

func (s *BlockchainStats) SetNetworkDifficulty(d float64) {
	s.mu.Lock()
	s.networkDifficulty = d
	s.mu.Unlock()
}

func (s *BlockchainStats) NetworkDifficulty() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networkDifficulty
}

func (s *BlockchainStats) SetNetworkHashRate(h float64) {
	s.mu.Lock()
	s.networkHashRate = h
	s.mu.Unlock()
}

func (s *BlockchainStats) SetConnectedPeers(n int) {
	s.mu.Lock()
	s.connectedPeers = n
	s.mu.Unlock()
}

func (s *BlockchainStats) SetNetworkType(t string) {
	s.mu.Lock()
	s.networkType = t
	s.mu.Unlock()
}

func (s *BlockchainStats) SetRewardType(t string) {
	s.mu.Lock()
	s.rewardType = t
	s.mu.Unlock()
}

func (s *BlockchainStats) SetLastNetworkBlockTime(t time.Time) {
	s.mu.Lock()
	s.lastNetworkBlockTime = t
	s.mu.Unlock()
}

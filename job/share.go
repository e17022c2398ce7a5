package job

import "time"

// Share is a submitted proof-of-work candidate, released to the message
// bus once populated — the core retains nothing beyond the call that
// produced it.
type Share struct {
	PoolID                      string
	Worker                      string
	MinerAddress                string
	IPAddress                   string
	Difficulty                  float64
	NetworkDifficulty           float64
	BlockHeight                 int64
	IsBlockCandidate            bool
	BlockHash                   string
	BlockHex                    string
	TransactionConfirmationData string
	SubmittedAt                 time.Time
}

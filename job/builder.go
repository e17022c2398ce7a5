package job

import "time"

// HashAlgorithm computes a coin's proof-of-work digest over an arbitrary
// input blob (typically an assembled block header). Implementations live
// outside this package — this tree ships one example in btcfamily.
type HashAlgorithm interface {
	Hash(input []byte) []byte
}

// Template is the minimal view of a coin daemon's block template the core
// needs to decide whether a new tip has arrived. Everything else about the
// template is opaque to the core and travels inside the Job as the
// coin-specific Raw payload.
type Template interface {
	PreviousHash() string
	Height() int64
	Bits() string
	CurTime() int64
	Raw() any
}

// ShareParams is the parsed mining.submit payload for one submission.
// Field shapes differ by coin family; the core passes them through
// untouched to the JobBuilder.
type ShareParams struct {
	Worker      string
	ExtraNonce2 string
	NTime       string
	Nonce       string
	VersionBits string
}

// ShareKey uniquely identifies one submission for duplicate detection.
type ShareKey struct {
	ExtraNonce1 string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// ShareResult is what a JobBuilder reports back after evaluating one
// submission against a Job.
type ShareResult struct {
	Hash             []byte
	ShareDifficulty  float64
	IsBlockCandidate bool
	BlockHash        string
	BlockHex         string
	CoinbaseTxHash   string
}

// JobBuilder is the coin-specific collaborator the core delegates job
// construction and share evaluation to. The core never reconstructs a
// header or runs a HashAlgorithm itself — it only calls through this
// interface, per the pluggable-hashing boundary.
type JobBuilder interface {
	// Build turns a freshly fetched Template into a Job, precomputing
	// whatever coinbase/merkle/header scaffolding the coin family needs
	// (the equivalent of the source's Job.init()).
	Build(tpl Template, jobID string, cfg BuildConfig) (*Job, error)

	// ProcessShare validates one submission against job, using
	// extraNonce1 (assigned by the core at subscribe time) and minDiff
	// (the lesser of network difficulty and the connection's stratum
	// difficulty). Duplicate detection against job's seen-tuple set is
	// core state — ProcessShare calls job.ObserveShare and must treat a
	// true return as ErrDuplicateShare.
	ProcessShare(job *Job, extraNonce1 []byte, params ShareParams, minDiff float64) (ShareResult, error)

	// ValidateAddress reports whether address is a well-formed payout
	// address for this coin family and configured network.
	ValidateAddress(address string) bool
}

// BuildConfig carries the pool-level settings a JobBuilder needs to
// assemble a Job: payout/donation scripts, coinbase tagging, and so on.
// The core treats every field opaque except CreatedAt.
type BuildConfig struct {
	PayoutAddress   string
	DonationAddress string
	CoinbaseMessage string
	ExtraNonce2Size int
	CreatedAt       time.Time
}

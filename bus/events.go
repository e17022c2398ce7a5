// Package bus fans pool events out to external consumers: accepted
// shares, ad-hoc telemetry, and job-broadcast ticks. Delivery is fire
// and forget and applies no backpressure to the hot path that publishes
// an event — a slow or absent subscriber drops events rather than
// stalling share submission or job broadcast.
//
// Grounded on the teacher's found_block_async.go (a buffered channel
// drained by one background goroutine so a hot path never blocks on a
// sink) generalized from one hard-coded JSONL file sink into a
// subscriber table plus an optional ZMQ PUB sink.
package bus

import "time"

// ClientShare is published once per accepted (valid, non-duplicate)
// share, whether or not it turned out to be a block candidate.
type ClientShare struct {
	PoolID                      string
	Worker                      string
	MinerAddress                string
	IPAddress                   string
	Difficulty                  float64
	NetworkDifficulty           float64
	BlockHeight                 int64
	IsBlockCandidate            bool
	BlockHash                   string
	TransactionConfirmationData string
	SubmittedAt                 time.Time
}

// TelemetryEvent is a free-form, pool-level signal (VarDiff retargets,
// periodic heartbeats) not tied to one share.
type TelemetryEvent struct {
	Kind      string
	Message   string
	Fields    map[string]any
	Timestamp time.Time
}

// JobBroadcastEvent mirrors a job.Notification at the point it reached
// stratum connections, for consumers that want to observe pool activity
// without holding a reference to the job package's live registry.
type JobBroadcastEvent struct {
	JobID     string
	CleanJobs bool
	Height    int64
	Timestamp time.Time
}

// Topic identifies one of the three event streams, used both for
// in-process subscription filtering and as the ZMQ PUB topic frame.
type Topic string

const (
	TopicClientShare  Topic = "share"
	TopicTelemetry    Topic = "telemetry"
	TopicJobBroadcast Topic = "job"
)

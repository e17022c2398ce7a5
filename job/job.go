// Package job implements the per-pool job pipeline: polling a daemon for
// fresh block templates, versioning them into Jobs, broadcasting them to
// stratum connections, and validating submitted shares against the
// registry those broadcasts populate.
//
// Grounded on the teacher's job.go (JobManager, Job, GetBlockTemplateResult,
// the notifyQueue/sizedwaitgroup fanout) generalized from one hard-coded
// Bitcoin-shaped Job into a core that delegates coin-specific construction
// and share evaluation to an injected JobBuilder/HashAlgorithm pair.
package job

import (
	"sync"
	"time"
)

// Job is one versioned work package derived from a block template. Core
// fields are owned by this package; Data carries whatever coin-specific
// scaffolding the JobBuilder that built it needs to process a share
// (coinbase parts, merkle branches, precomputed header halves…).
type Job struct {
	ID        string
	Template  Template
	CreatedAt int64 // unix nanos, monotonic enough to order jobs within a pool
	Clean     bool
	Data      any

	seenMu sync.Mutex
	seen   map[ShareKey]struct{}
}

// newJob backs NewJob; a JobBuilder populates Data on the returned Job.
// It exists in this package (rather than builder.go) because the
// duplicate-detection set is core state, not coin-specific state.
func newJob(id string, tpl Template, clean bool) *Job {
	return &Job{
		ID:        id,
		Template:  tpl,
		CreatedAt: time.Now().UnixNano(),
		Clean:     clean,
		seen:      make(map[ShareKey]struct{}),
	}
}

// NewJob is the exported constructor for JobBuilder implementations living
// outside this package: Job's duplicate-detection set is unexported state
// that a bare composite literal cannot initialize safely, so Build must
// call this rather than construct a Job directly.
func NewJob(id string, tpl Template) *Job {
	return newJob(id, tpl, false)
}

// observeShare records key as seen and reports whether it had already
// been seen on this Job — the core's duplicate-detection invariant.
func (j *Job) observeShare(key ShareKey) (duplicate bool) {
	j.seenMu.Lock()
	defer j.seenMu.Unlock()
	if _, ok := j.seen[key]; ok {
		return true
	}
	j.seen[key] = struct{}{}
	return false
}

// ObserveShare is the exported form, for JobBuilders living outside this
// package that need to participate in duplicate detection.
func (j *Job) ObserveShare(key ShareKey) bool { return j.observeShare(key) }

// Registry is a jobId → Job mapping for one pool, bounded and cleared
// according to the coin family's backlog policy.
type Registry struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	order      []string // insertion order, oldest first, for backlog eviction
	maxBacklog int
}

// NewRegistry returns a registry that retains at most maxBacklog jobs
// before evicting the oldest. maxBacklog <= 0 means unbounded (the
// manager is expected to call Clear itself on every new tip instead).
func NewRegistry(maxBacklog int) *Registry {
	return &Registry{jobs: make(map[string]*Job), maxBacklog: maxBacklog}
}

// Insert adds job to the registry, evicting the oldest entry if the
// configured backlog bound would otherwise be exceeded.
func (r *Registry) Insert(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; !exists {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = job
	if r.maxBacklog > 0 {
		for len(r.order) > r.maxBacklog {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.jobs, oldest)
		}
	}
}

// Get looks up a job by id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Clear empties the registry, used on every new chain tip for
// Bitcoin-like coins whose backlog policy discards all prior work.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = make(map[string]*Job)
	r.order = r.order[:0]
}

// Len reports how many jobs are currently retained.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

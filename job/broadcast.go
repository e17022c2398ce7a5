package job

import "sync"

// Notification is one emission on the job stream: either a new tip
// (CleanJobs true, miners must discard in-flight work) or a forced
// rebroadcast of the same tip with fresh transactions (CleanJobs false).
type Notification struct {
	Job       *Job
	CleanJobs bool
}

// Broadcaster is a multicast, capacity-1, latest-wins observable of job
// notifications — the Go shape of the teacher's subs map of buffered
// channels (jobSubscriberBuffer), narrowed to the single-slot semantics
// the design calls for: a subscriber that hasn't drained the previous
// emission sees only the newest one once it does.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Notification]struct{})}
}

// Subscribe registers a new listener. Subscribing late does not replay
// past emissions; the returned channel receives only future ones.
func (b *Broadcaster) Subscribe() (ch chan Notification, unsubscribe func()) {
	ch = make(chan Notification, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish delivers n to every current subscriber. A subscriber still
// holding an undrained previous emission has it replaced with n rather
// than blocking the publisher or queueing a backlog.
func (b *Broadcaster) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of active listeners.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

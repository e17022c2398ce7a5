package bus

import (
	"sync"

	"github.com/rodb2008/corepool/internal/corelog"
)

const subscriberQueueSize = 128

// Sink receives every published event as a (topic, JSON-encodable value)
// pair, for consumers that live outside this process — a ZMQ PUB socket,
// an audit-log writer, or a test spy.
type Sink interface {
	Publish(topic Topic, v any)
}

// subscriber is one in-process consumer's mailbox.
type subscriber struct {
	ch     chan envelope
	topics map[Topic]bool // nil means "all topics"
}

type envelope struct {
	Topic Topic
	Value any
}

// Bus is the in-process hub: Subscribe registers a mailbox, Publish*
// delivers to every matching mailbox and every attached Sink, dropping
// the event on a full mailbox rather than blocking the publisher.
type Bus struct {
	log *corelog.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	sinkMu sync.RWMutex
	sinks  []Sink
}

func New(log *corelog.Logger) *Bus {
	if log == nil {
		log = corelog.Default
	}
	return &Bus{log: log, subs: make(map[*subscriber]struct{})}
}

// AddSink attaches an external sink. Safe to call concurrently with
// Publish*.
func (b *Bus) AddSink(s Sink) {
	b.sinkMu.Lock()
	b.sinks = append(b.sinks, s)
	b.sinkMu.Unlock()
}

// Subscribe returns a channel of envelopes for the given topics (empty
// means every topic) and an unsubscribe function. The caller must drain
// the channel or call unsubscribe to avoid leaking the mailbox.
func (b *Bus) Subscribe(topics ...Topic) (<-chan envelope, func()) {
	sub := &subscriber{ch: make(chan envelope, subscriberQueueSize)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(sub.ch)
	}
}

// PublishShare fans out a ClientShare to every subscriber and sink.
func (b *Bus) PublishShare(s ClientShare) { b.publish(TopicClientShare, s) }

// PublishTelemetry fans out a TelemetryEvent.
func (b *Bus) PublishTelemetry(e TelemetryEvent) { b.publish(TopicTelemetry, e) }

// PublishJobBroadcast fans out a JobBroadcastEvent.
func (b *Bus) PublishJobBroadcast(e JobBroadcastEvent) { b.publish(TopicJobBroadcast, e) }

func (b *Bus) publish(topic Topic, v any) {
	b.mu.RLock()
	for sub := range b.subs {
		if sub.topics != nil && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- envelope{Topic: topic, Value: v}:
		default:
			b.log.Debug("dropped bus event, subscriber mailbox full", "topic", topic)
		}
	}
	b.mu.RUnlock()

	b.sinkMu.RLock()
	sinks := b.sinks
	b.sinkMu.RUnlock()
	for _, sink := range sinks {
		sink.Publish(topic, v)
	}
}

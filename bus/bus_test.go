package bus

import (
	"os"
	"testing"
	"time"
)

func TestBus_PublishShareReachesSubscriber(t *testing.T) {
	b := New(nil)
	ch, unsub := b.Subscribe(TopicClientShare)
	defer unsub()

	b.PublishShare(ClientShare{Worker: "w1", Difficulty: 100})

	select {
	case env := <-ch:
		share, ok := env.Value.(ClientShare)
		if !ok || share.Worker != "w1" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for share event")
	}
}

func TestBus_SubscriberFiltersByTopic(t *testing.T) {
	b := New(nil)
	ch, unsub := b.Subscribe(TopicTelemetry)
	defer unsub()

	b.PublishShare(ClientShare{Worker: "w1"})
	b.PublishTelemetry(TelemetryEvent{Kind: "ban"})

	select {
	case env := <-ch:
		if env.Topic != TopicTelemetry {
			t.Fatalf("expected telemetry event, got %v", env.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for telemetry event")
	}

	select {
	case env := <-ch:
		t.Fatalf("unexpected second event on a telemetry-only subscriber: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_FullMailboxDropsRatherThanBlocks(t *testing.T) {
	b := New(nil)
	_, unsub := b.Subscribe(TopicClientShare)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueSize*2; i++ {
			b.PublishShare(ClientShare{Worker: "w1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishShare blocked on a full subscriber mailbox")
	}
}

type spySink struct {
	events []ClientShare
}

func (s *spySink) Publish(topic Topic, v any) {
	if share, ok := v.(ClientShare); ok {
		s.events = append(s.events, share)
	}
}

func TestBus_SinkReceivesEvents(t *testing.T) {
	b := New(nil)
	sink := &spySink{}
	b.AddSink(sink)

	b.PublishShare(ClientShare{Worker: "w1"})

	if len(sink.events) != 1 || sink.events[0].Worker != "w1" {
		t.Fatalf("expected sink to record one event, got %+v", sink.events)
	}
}

func TestAuditLog_RecordsOnlyBlockCandidates(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuditLog(dir, nil)
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}

	a.Publish(TopicClientShare, ClientShare{Worker: "w1", IsBlockCandidate: false})
	a.Publish(TopicClientShare, ClientShare{Worker: "w2", IsBlockCandidate: true, BlockHash: "abc"})
	a.Publish(TopicTelemetry, TelemetryEvent{Kind: "ignored"})
	a.Close()

	deadline := time.Now().Add(2 * time.Second)
	var data []byte
	for time.Now().Before(deadline) {
		data, err = os.ReadFile(dir + "/state/found_blocks.jsonl")
		if err == nil && len(data) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(data) == 0 {
		t.Fatalf("expected a log line for the block-candidate share")
	}
}

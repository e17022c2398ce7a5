package bus

import (
	"time"

	"github.com/pebbe/zmq4"

	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/internal/fastjson"
)

const zmqSinkQueueSize = 256

// ZMQSink publishes every event over a ZeroMQ PUB socket, topic-framed so
// subscribers can filter with a prefix subscription exactly like
// bitcoind's own ZMQ publisher does for "hashblock"/"rawblock". A
// background goroutine owns the socket and drains a buffered channel so
// Publish, called from the hot path, never blocks on a slow or absent
// subscriber — mirroring the teacher's found_block_async.go pattern of
// decoupling a hot path from a sink through one buffered channel.
type ZMQSink struct {
	log   *corelog.Logger
	ch    chan sinkMsg
	doneC chan struct{}
}

type sinkMsg struct {
	topic Topic
	body  []byte
}

// NewZMQSink binds a PUB socket at addr (e.g. "tcp://*:5591") and starts
// the draining goroutine. Callers should call Close on shutdown.
func NewZMQSink(addr string, log *corelog.Logger) (*ZMQSink, error) {
	if log == nil {
		log = corelog.Default
	}
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, err
	}

	s := &ZMQSink{
		log:   log,
		ch:    make(chan sinkMsg, zmqSinkQueueSize),
		doneC: make(chan struct{}),
	}
	go s.run(sock)
	return s, nil
}

func (s *ZMQSink) run(sock *zmq4.Socket) {
	defer sock.Close()
	for {
		select {
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			if _, err := sock.SendMessage(string(msg.topic), msg.body); err != nil {
				s.log.Debug("zmq sink send failed", "topic", msg.topic, "error", err)
			}
		case <-s.doneC:
			return
		}
	}
}

// Publish implements Sink. It drops the event rather than blocking if
// the internal queue is full.
func (s *ZMQSink) Publish(topic Topic, v any) {
	body, err := fastjson.Marshal(v)
	if err != nil {
		s.log.Debug("zmq sink marshal failed", "topic", topic, "error", err)
		return
	}
	select {
	case s.ch <- sinkMsg{topic: topic, body: body}:
	default:
		s.log.Debug("dropped zmq sink event, queue full", "topic", topic)
	}
}

// Close stops the draining goroutine and closes the underlying socket.
func (s *ZMQSink) Close() {
	close(s.doneC)
	// give the goroutine a moment to observe doneC before the process
	// tears the socket's file descriptor down from under it.
	time.Sleep(time.Millisecond)
}

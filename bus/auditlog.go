package bus

import (
	"os"
	"path/filepath"

	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/internal/fastjson"
)

const auditLogQueueSize = 64

// AuditLog is a best-effort, append-only JSON-lines record of accepted
// block candidates, decoupled from the submit hot path through a
// buffered channel exactly like the teacher's foundBlockLogCh — this is
// local observability, not a durability guarantee for pool accounting.
// It only ever reacts to ClientShare events where IsBlockCandidate is
// true; everything else is ignored.
type AuditLog struct {
	log  *corelog.Logger
	ch   chan ClientShare
	path string
}

// NewAuditLog opens (creating if needed) the found_blocks.jsonl file
// under dir/state and starts the background writer.
func NewAuditLog(dir string, log *corelog.Logger) (*AuditLog, error) {
	if log == nil {
		log = corelog.Default
	}
	stateDir := filepath.Join(dir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	a := &AuditLog{
		log:  log,
		ch:   make(chan ClientShare, auditLogQueueSize),
		path: filepath.Join(stateDir, "found_blocks.jsonl"),
	}
	go a.run()
	return a, nil
}

// Publish implements Sink, but only block-candidate shares are recorded;
// everything else is dropped immediately.
func (a *AuditLog) Publish(topic Topic, v any) {
	if topic != TopicClientShare {
		return
	}
	share, ok := v.(ClientShare)
	if !ok || !share.IsBlockCandidate {
		return
	}
	select {
	case a.ch <- share:
	default:
		a.log.Warn("dropped found-block audit entry, queue full", "block_hash", share.BlockHash)
	}
}

func (a *AuditLog) run() {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		a.log.Warn("audit log open failed", "path", a.path, "error", err)
		for range a.ch {
			// drain so Publish never blocks even with no file to write to
		}
		return
	}
	defer f.Close()
	for share := range a.ch {
		line, err := fastjson.Marshal(share)
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if _, err := f.Write(line); err != nil {
			a.log.Warn("audit log write failed", "path", a.path, "error", err)
		}
	}
}

// Close stops accepting new entries. Already-queued entries still drain.
func (a *AuditLog) Close() { close(a.ch) }

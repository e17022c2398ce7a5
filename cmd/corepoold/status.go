package main

import (
	"context"
	"time"

	"github.com/hako/durafmt"

	"github.com/rodb2008/corepool/bus"
	"github.com/rodb2008/corepool/internal/corelog"
)

// logUptime emits a periodic heartbeat with a human-readable uptime,
// the same duration formatting the teacher's status endpoints use for
// "time until next retarget" estimates, and mirrors it onto the bus as
// a TelemetryEvent for external consumers. Runs until ctx is done.
func logUptime(ctx context.Context, startedAt time.Time, interval time.Duration, b *bus.Bus, log *corelog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			uptime := durafmt.Parse(now.Sub(startedAt)).LimitFirstN(2).String()
			log.Info("corepoold heartbeat", "uptime", uptime)
			if b != nil {
				b.PublishTelemetry(bus.TelemetryEvent{
					Kind:      "heartbeat",
					Message:   "corepoold uptime " + uptime,
					Timestamp: now,
				})
			}
		}
	}
}

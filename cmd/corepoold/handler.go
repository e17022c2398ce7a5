package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rodb2008/corepool/bus"
	"github.com/rodb2008/corepool/internal/corelog"
	"github.com/rodb2008/corepool/job"
	"github.com/rodb2008/corepool/stratum"
)

// poolHandler bridges the transport-only stratum.Server to a job.Manager:
// it is the only place that knows both the wire shape of mining.subscribe/
// authorize/submit and the core's job/share model. Grounded on the
// teacher's MinerConn (handle/processSubmit), generalized so the same
// handler works against any JobBuilder the manager was constructed with.
type poolHandler struct {
	manager         *job.Manager
	bus             *bus.Bus
	poolID          string
	extraNonce2Size int
	log             *corelog.Logger
}

func newPoolHandler(manager *job.Manager, poolID string, extraNonce2Size int, b *bus.Bus, log *corelog.Logger) *poolHandler {
	if log == nil {
		log = corelog.Default
	}
	return &poolHandler{
		manager:         manager,
		bus:             b,
		poolID:          poolID,
		extraNonce2Size: extraNonce2Size,
		log:             log,
	}
}

// HandleSubscribe replies with the canonical subscription-details /
// extranonce1 / extranonce2-size triple every Stratum client expects.
func (h *poolHandler) HandleSubscribe(c *stratum.Connection, _ []any) (any, *stratum.StratumError) {
	subs := []any{
		[]any{"mining.set_difficulty", c.ID},
		[]any{"mining.notify", c.ID},
	}
	return []any{subs, fmt.Sprintf("%x", c.ExtraNonce1()), h.extraNonce2Size}, nil
}

// HandleAuthorize accepts any non-empty worker name; this core does not
// gate stratum access behind a password, matching solo/public-pool
// operation where the worker name alone identifies a payout split.
func (h *poolHandler) HandleAuthorize(c *stratum.Connection, params []any) (any, *stratum.StratumError) {
	worker, ok := stringParam(params, 0)
	if !ok || strings.TrimSpace(worker) == "" {
		return nil, stratum.MapShareError(fmt.Errorf("mining.authorize: worker name is required"))
	}
	c.SetWorkerContext(strings.TrimSpace(worker))
	return true, nil
}

// HandleSubmit validates and scores a submitted share, forwarding block
// candidates to the daemon via the manager, then feeds the VarDiff
// retargeter so the connection's difficulty adapts to its real share
// rate. params follow the standard mining.submit shape: worker, job id,
// extranonce2, ntime, nonce, with an optional trailing version-rolling
// bits field this core does not yet use.
func (h *poolHandler) HandleSubmit(c *stratum.Connection, params []any) (any, *stratum.StratumError) {
	if c.State() != stratum.StateAuthorized {
		return nil, stratum.MapShareError(fmt.Errorf("mining.submit: connection not authorized"))
	}
	worker, _ := c.WorkerContext().(string)
	if len(params) < 5 {
		return nil, stratum.MapShareError(fmt.Errorf("mining.submit: expected at least 5 parameters, got %d", len(params)))
	}
	_, jobID, extraNonce2, ntime, nonce := paramStr(params, 0), paramStr(params, 1), paramStr(params, 2), paramStr(params, 3), paramStr(params, 4)

	shareParams := job.ShareParams{
		Worker:      worker,
		ExtraNonce2: extraNonce2,
		NTime:       ntime,
		Nonce:       nonce,
	}
	if len(params) >= 6 {
		shareParams.VersionBits = paramStr(params, 5)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	share, err := h.manager.SubmitShare(ctx, jobID, c.ExtraNonce1(), shareParams, h.poolID, worker, c.RemoteAddress, c.CurrentDifficulty())
	if err != nil {
		return nil, stratum.MapShareError(err)
	}

	if h.bus != nil {
		h.bus.PublishShare(bus.ClientShare{
			PoolID:            h.poolID,
			Worker:            worker,
			IPAddress:         c.RemoteAddress,
			Difficulty:        share.Difficulty,
			NetworkDifficulty: share.NetworkDifficulty,
			BlockHeight:       share.BlockHeight,
			IsBlockCandidate:  share.IsBlockCandidate,
			BlockHash:         share.BlockHash,
			SubmittedAt:       share.SubmittedAt,
		})
	}

	if newDiff, ok := c.VarDiff.Share(time.Now(), c.CurrentDifficulty(), share.NetworkDifficulty); ok {
		oldDiff := c.CurrentDifficulty()
		c.EnqueueNewDifficulty(newDiff)
		if h.bus != nil {
			h.bus.PublishTelemetry(bus.TelemetryEvent{
				Kind:    "vardiff_retarget",
				Message: fmt.Sprintf("worker %s retargeted", worker),
				Fields: map[string]any{
					"worker":   worker,
					"old_diff": oldDiff,
					"new_diff": newDiff,
					"remote":   c.RemoteAddress,
				},
				Timestamp: time.Now(),
			})
		}
	}

	return true, nil
}

func stringParam(params []any, i int) (string, bool) {
	if i < 0 || i >= len(params) {
		return "", false
	}
	s, ok := params[i].(string)
	return s, ok
}

func paramStr(params []any, i int) string {
	s, _ := stringParam(params, i)
	return s
}

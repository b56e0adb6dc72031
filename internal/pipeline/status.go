package pipeline

import (
	"time"

	"streamd/pkg/types"
)

// Ready reports whether the pipeline accepts new triggers.
func (o *Orchestrator) Ready() bool { return !o.draining.Load() }

// Status builds a detailed status response for /status.
func (o *Orchestrator) Status() types.StatusResponse {
	state := "running"
	if o.draining.Load() {
		state = "draining"
	}
	return types.StatusResponse{
		Mode:           string(o.cfg.Mode),
		State:          state,
		Inflight:       o.slots.inflight(),
		SlotLimit:      o.slots.limit(),
		QueueLen:       len(o.queue),
		QueueDepth:     cap(o.queue),
		HistoryTurns:   o.hist.Len(),
		HistoryBytes:   o.hist.SizeBytes(),
		CompletedTotal: o.completed.Load(),
		FailedTotal:    o.failed.Load(),
		SkippedTotal:   o.skipped.Load(),
		Sinks:          o.disp.Stats(),
		UptimeSeconds:  int64(time.Since(o.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}

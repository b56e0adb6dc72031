package trigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"streamd/pkg/types"
)

// SysStats polls host metrics and emits one trigger event per interval with
// a JSON snapshot as the payload.
type SysStats struct {
	interval time.Duration
	log      zerolog.Logger
}

func NewSysStats(interval time.Duration, log zerolog.Logger) *SysStats {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SysStats{interval: interval, log: log}
}

func (s *SysStats) Name() string { return "sysstats" }

// snapshot is the payload shape handed to the prompt assembler.
type snapshot struct {
	TakenAt     time.Time `json:"taken_at"`
	CPUPercent  []float64 `json:"cpu_percent"`
	MemUsedPct  float64   `json:"mem_used_percent"`
	MemTotalMB  uint64    `json:"mem_total_mb"`
	MemUsedMB   uint64    `json:"mem_used_mb"`
	Load1       float64   `json:"load1"`
	Load5       float64   `json:"load5"`
	Load15      float64   `json:"load15"`
	NetSentMB   uint64    `json:"net_sent_mb"`
	NetRecvMB   uint64    `json:"net_recv_mb"`
	NetErrIn    uint64    `json:"net_err_in"`
	NetErrOut   uint64    `json:"net_err_out"`
}

func (s *SysStats) Run(ctx context.Context, out chan<- types.TriggerEvent) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		payload, err := s.collect(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("sysstats collection failed")
			continue
		}
		send(ctx, out, types.TriggerEvent{
			Source:     types.SourceSysStats,
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	}
}

func (s *SysStats) collect(ctx context.Context) (string, error) {
	snap := snapshot{TakenAt: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil {
		snap.CPUPercent = pct
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return "", err
	}
	snap.MemUsedPct = vm.UsedPercent
	snap.MemTotalMB = vm.Total >> 20
	snap.MemUsedMB = vm.Used >> 20

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = avg.Load1
		snap.Load5 = avg.Load5
		snap.Load15 = avg.Load15
	}
	if counters, err := gopsnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		snap.NetSentMB = counters[0].BytesSent >> 20
		snap.NetRecvMB = counters[0].BytesRecv >> 20
		snap.NetErrIn = counters[0].Errin
		snap.NetErrOut = counters[0].Errout
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return "Current system snapshot: " + string(b), nil
}

package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"streamd/pkg/types"
)

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
)

// Capture listens on a UDP socket for MPEG-TS packets and emits one trigger
// event per batch with a stream-health summary as the payload.
type Capture struct {
	addr  string
	batch int
	log   zerolog.Logger
}

func NewCapture(addr string, batch int, log zerolog.Logger) *Capture {
	if batch <= 0 {
		batch = 1000
	}
	return &Capture{addr: addr, batch: batch, log: log}
}

func (c *Capture) Name() string { return "capture" }

func (c *Capture) Run(ctx context.Context, out chan<- types.TriggerEvent) error {
	pc, err := net.ListenPacket("udp", c.addr)
	if err != nil {
		return fmt.Errorf("capture listen %s: %w", c.addr, err)
	}
	defer pc.Close()
	go func() {
		<-ctx.Done()
		pc.Close()
	}()
	c.log.Info().Str("addr", c.addr).Int("batch", c.batch).Msg("capture listening")

	acc := newTSAccumulator()
	buf := make([]byte, 65536)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("capture read: %w", err)
		}
		acc.Feed(buf[:n])
		if acc.Packets() >= c.batch {
			payload, err := json.Marshal(acc.Summary())
			acc.Reset()
			if err != nil {
				continue
			}
			send(ctx, out, types.TriggerEvent{
				Source:     types.SourcePackets,
				Payload:    "Transport stream batch summary: " + string(payload),
				ReceivedAt: time.Now(),
			})
		}
	}
}

// pidStat tracks per-PID packet and continuity-counter accounting.
type pidStat struct {
	packets  uint64
	ccErrors uint64
	lastCC   byte
	seen     bool
}

// tsAccumulator parses raw MPEG-TS bytes into per-PID stats. It is not
// goroutine safe; Capture drives it from a single loop.
type tsAccumulator struct {
	pids     map[uint16]*pidStat
	packets  int
	syncErrs uint64
	short    uint64
}

func newTSAccumulator() *tsAccumulator {
	return &tsAccumulator{pids: make(map[uint16]*pidStat)}
}

func (a *tsAccumulator) Packets() int { return a.packets }

// Feed consumes one datagram, which carries zero or more whole 188-byte TS
// packets. A trailing partial packet is counted as short and discarded;
// UDP TS senders do not split packets across datagrams.
func (a *tsAccumulator) Feed(b []byte) {
	for len(b) >= tsPacketSize {
		a.packet(b[:tsPacketSize])
		b = b[tsPacketSize:]
	}
	if len(b) > 0 {
		a.short++
	}
}

func (a *tsAccumulator) packet(p []byte) {
	if p[0] != tsSyncByte {
		a.syncErrs++
		return
	}
	a.packets++
	pid := uint16(p[1]&0x1f)<<8 | uint16(p[2])
	cc := p[3] & 0x0f
	hasPayload := p[3]&0x10 != 0

	st := a.pids[pid]
	if st == nil {
		st = &pidStat{}
		a.pids[pid] = st
	}
	st.packets++
	// The continuity counter only advances on packets that carry payload;
	// the null PID is exempt.
	if hasPayload && pid != 0x1fff {
		if st.seen && cc != (st.lastCC+1)&0x0f {
			st.ccErrors++
		}
		st.lastCC = cc
		st.seen = true
	}
}

func (a *tsAccumulator) Reset() {
	a.pids = make(map[uint16]*pidStat)
	a.packets = 0
	a.syncErrs = 0
	a.short = 0
}

// PIDSummary is one PID's line in a batch summary.
type PIDSummary struct {
	PID      uint16 `json:"pid"`
	Packets  uint64 `json:"packets"`
	CCErrors uint64 `json:"cc_errors"`
}

// BatchSummary describes one batch of captured TS packets.
type BatchSummary struct {
	Packets    int          `json:"packets"`
	SyncErrors uint64       `json:"sync_errors"`
	Short      uint64       `json:"short_reads"`
	PIDs       []PIDSummary `json:"pids"`
}

func (a *tsAccumulator) Summary() BatchSummary {
	s := BatchSummary{Packets: a.packets, SyncErrors: a.syncErrs, Short: a.short}
	for pid, st := range a.pids {
		s.PIDs = append(s.PIDs, PIDSummary{PID: pid, Packets: st.packets, CCErrors: st.ccErrors})
	}
	sort.Slice(s.PIDs, func(i, j int) bool { return s.PIDs[i].PID < s.PIDs[j].PID })
	return s
}

package pipeline

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/backend"
	"streamd/internal/history"
	"streamd/internal/prompt"
	"streamd/pkg/types"
)

// Orchestrator is the top-level scheduler. It owns the trigger channel, the
// slot pool, and the bounded backlog; runners and the dispatcher hang off it.
type Orchestrator struct {
	cfg     Config
	log     zerolog.Logger
	hist    *history.Buffer
	asm     *prompt.Assembler
	adapter backend.Adapter
	disp    *Dispatcher
	slots   *slotPool
	pub     EventPublisher

	triggers chan types.TriggerEvent
	queue    chan types.TriggerEvent
	// kick is pulsed by runners on completion so the daemon loop revisits
	// the backlog without polling.
	kick chan struct{}

	seq       atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	draining  atomic.Bool

	wg        sync.WaitGroup
	runCancel context.CancelFunc
	startTime time.Time
}

// New constructs an Orchestrator. The dispatcher is owned by the caller and
// must outlive the orchestrator's Run.
func New(cfg Config, adapter backend.Adapter, hist *history.Buffer, asm *prompt.Assembler, disp *Dispatcher, log zerolog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		log:       log,
		hist:      hist,
		asm:       asm,
		adapter:   adapter,
		disp:      disp,
		slots:     newSlotPool(cfg.Concurrency),
		pub:       cfg.Publisher,
		triggers:  make(chan types.TriggerEvent, defaultTriggerBuffer),
		queue:     make(chan types.TriggerEvent, cfg.QueueDepth),
		kick:      make(chan struct{}, 1),
		startTime: time.Now(),
	}
}

// Triggers returns the channel trigger sources push into.
func (o *Orchestrator) Triggers() chan<- types.TriggerEvent { return o.triggers }

// Run drives the configured mode until ctx is canceled, then drains
// in-flight turns (forcing cancellation after the grace timeout).
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	o.runCancel = cancel
	defer cancel()

	o.log.Info().Str("mode", string(o.cfg.Mode)).Int("concurrency", o.cfg.Concurrency).Int("queue_depth", o.cfg.QueueDepth).Msg("pipeline started")
	if o.cfg.Mode == ModeContinuous {
		o.runContinuous(ctx, runCtx)
	} else {
		o.runDaemon(ctx, runCtx)
	}
	return o.drain()
}

func (o *Orchestrator) runDaemon(ctx, runCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.triggers:
			o.admit(runCtx, ev)
		case <-o.kick:
			o.drainBacklog(runCtx)
		}
	}
}

func (o *Orchestrator) runContinuous(ctx, runCtx context.Context) {
	for {
		if err := o.slots.acquire(ctx); err != nil {
			return
		}
		ev, ok := o.nextContinuousInput(ctx)
		if !ok {
			o.slots.release()
			return
		}
		o.launch(runCtx, ev)
	}
}

// nextContinuousInput prefers the latest pending trigger and otherwise
// synthesizes an input from the configured query.
func (o *Orchestrator) nextContinuousInput(ctx context.Context) (types.TriggerEvent, bool) {
	select {
	case <-ctx.Done():
		return types.TriggerEvent{}, false
	case ev := <-o.triggers:
		return ev, true
	default:
	}
	return types.TriggerEvent{
		Source:     types.SourceContinuous,
		Payload:    o.cfg.Query,
		ReceivedAt: time.Now(),
	}, true
}

// admit launches ev if a slot is free, otherwise queues or drops it
// according to configuration. Drops are always counted, never silent.
func (o *Orchestrator) admit(runCtx context.Context, ev types.TriggerEvent) {
	if o.draining.Load() {
		o.skip(ev, "draining")
		return
	}
	if o.slots.tryAcquire() {
		o.launch(runCtx, ev)
		return
	}
	if o.cfg.DropWhenFull {
		o.skip(ev, "no_slot")
		return
	}
	select {
	case o.queue <- ev:
	default:
		o.skip(ev, "queue_full")
	}
}

// drainBacklog moves queued triggers into free slots. Only the loop
// goroutine calls this, so acquire/peek ordering cannot race with itself.
func (o *Orchestrator) drainBacklog(runCtx context.Context) {
	for o.slots.tryAcquire() {
		select {
		case ev := <-o.queue:
			o.launch(runCtx, ev)
		default:
			o.slots.release()
			return
		}
	}
}

// launch starts a runner for ev with a slot already held.
func (o *Orchestrator) launch(runCtx context.Context, ev types.TriggerEvent) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// LIFO: the slot must free before the kick, or the loop can wake,
		// miss the acquire, and strand the backlog.
		defer o.pulseKick()
		defer o.slots.release()
		o.runTurn(runCtx, ev, nil, nil)
	}()
}

func (o *Orchestrator) pulseKick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) skip(ev types.TriggerEvent, reason string) {
	o.skipped.Add(1)
	triggerSkipsTotal.WithLabelValues(reason).Inc()
	o.pub.Publish(Event{Name: "trigger_skipped", Fields: map[string]any{"source": string(ev.Source), "reason": reason}})
	o.log.Warn().Str("source", string(ev.Source)).Str("reason", reason).Msg("trigger skipped")
}

// Submit injects a manual trigger. With w nil the event goes through normal
// admission asynchronously. With w set, the turn runs synchronously and its
// fragments are mirrored to w as NDJSON token lines (flush after each write
// when flush is non-nil).
func (o *Orchestrator) Submit(ctx context.Context, ev types.TriggerEvent, w io.Writer, flush func()) error {
	if o.draining.Load() {
		return drainingError{}
	}
	if w == nil {
		select {
		case o.triggers <- ev:
			return nil
		default:
			o.skip(ev, "trigger_buffer_full")
			return capacityError{reason: "trigger buffer full"}
		}
	}
	if err := o.beginTurn(); err != nil {
		if IsCapacityExceeded(err) {
			o.skip(ev, "no_slot")
		}
		return err
	}
	defer o.pulseKick()
	defer o.slots.release()
	defer o.wg.Done()
	_, err := o.runTurn(ctx, ev, w, flush)
	return err
}

// beginTurn reserves a slot and registers the turn with the drain
// waitgroup. The waitgroup add happens before the draining re-check, so a
// drain that starts concurrently either sees the registration or this call
// backs out; drain can never pass wg.Wait while the turn is live.
func (o *Orchestrator) beginTurn() error {
	if !o.slots.tryAcquire() {
		return capacityError{reason: "no free slot"}
	}
	o.wg.Add(1)
	if o.draining.Load() {
		o.wg.Done()
		o.slots.release()
		return drainingError{}
	}
	return nil
}

// drain stops accepting triggers, waits for in-flight turns up to the grace
// timeout, then force-cancels the stragglers.
func (o *Orchestrator) drain() error {
	o.draining.Store(true)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownGrace):
		o.log.Warn().Dur("grace", o.cfg.ShutdownGrace).Msg("grace expired, canceling in-flight turns")
		o.runCancel()
		<-done
	}
	o.log.Info().Uint64("completed", o.completed.Load()).Uint64("failed", o.failed.Load()).Uint64("skipped", o.skipped.Load()).Msg("pipeline stopped")
	return nil
}

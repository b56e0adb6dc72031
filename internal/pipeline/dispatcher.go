package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"streamd/pkg/types"
)

// Interest filters which output kinds a sink receives.
type Interest uint8

const (
	InterestFragments Interest = 1 << iota
	InterestFinals
)

// OutputKind distinguishes streamed fragments from final turn output.
type OutputKind uint8

const (
	KindFragment OutputKind = iota
	KindFinal
)

// Output is one event delivered to sinks: a streamed fragment or the final
// result of a turn. Fragment Seq is monotonic within a turn.
type Output struct {
	TurnSeq uint64
	TurnID  string
	Source  types.SourceTag
	ReplyTo string
	Kind    OutputKind
	Seq     int
	Text    string
	// Failed marks the final event of a turn that did not complete; the
	// fragments already delivered are not retracted.
	Failed bool
	Cause  string
}

// Sink consumes pipeline output. Accept must be idempotent; it runs on the
// subscription's own goroutine, so a slow sink only delays itself.
type Sink interface {
	Accept(Output) error
}

var (
	// ErrSubscriberExists is returned for a duplicate subscription name.
	ErrSubscriberExists = errors.New("sink subscription already exists")

	// ErrDispatcherClosed is returned when subscribing after Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
)

// subscription carries one sink's channel, worker, and counters.
type subscription struct {
	name     string
	interest Interest
	ch       chan Output
	sink     Sink
	sent     atomic.Uint64
	dropped  atomic.Uint64
	errors   atomic.Uint64
}

// Dispatcher fans output out to subscribed sinks without ever blocking the
// publisher. Each sink gets a bounded buffer; overflow drops that sink's
// oldest pending event and counts the drop. Sink errors and panics stay
// inside the dispatch boundary.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{subs: make(map[string]*subscription), log: log}
}

// Subscribe registers a sink under a unique name with the given interest
// filter and buffer depth, and starts its delivery worker.
func (d *Dispatcher) Subscribe(name string, interest Interest, depth int, s Sink) error {
	if s == nil {
		return errors.New("sink cannot be nil")
	}
	if depth <= 0 {
		depth = 16
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if _, exists := d.subs[name]; exists {
		return ErrSubscriberExists
	}
	sub := &subscription{name: name, interest: interest, ch: make(chan Output, depth), sink: s}
	d.subs[name] = sub
	d.wg.Add(1)
	go d.deliver(sub)
	return nil
}

// Unsubscribe removes a sink and stops its worker once the buffer drains.
func (d *Dispatcher) Unsubscribe(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subs[name]
	if !ok {
		return fmt.Errorf("sink subscription not found: %s", name)
	}
	delete(d.subs, name)
	close(sub.ch)
	return nil
}

// Publish delivers out to every subscription whose interest matches.
// It never blocks: a full sink buffer drops that sink's oldest pending
// event to make room, and the drop is counted.
func (d *Dispatcher) Publish(out Output) {
	want := InterestFinals
	if out.Kind == KindFragment {
		want = InterestFragments
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, sub := range d.subs {
		if sub.interest&want == 0 {
			continue
		}
		select {
		case sub.ch <- out:
			continue
		default:
		}
		// Buffer full: evict the oldest pending event, then retry once.
		// The worker may have raced us and made room; either way one send
		// attempt after the eviction suffices.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			sinkDroppedTotal.WithLabelValues(sub.name).Inc()
		default:
		}
		select {
		case sub.ch <- out:
		default:
			sub.dropped.Add(1)
			sinkDroppedTotal.WithLabelValues(sub.name).Inc()
		}
	}
}

// Stats returns per-sink delivery counters.
func (d *Dispatcher) Stats() []types.SinkStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.SinkStatus, 0, len(d.subs))
	for _, sub := range d.subs {
		out = append(out, types.SinkStatus{
			Name:    sub.name,
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
			Errors:  sub.errors.Load(),
		})
	}
	return out
}

// Close tears down all subscriptions and waits for their workers to finish
// draining. Publish becomes a no-op. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for name, sub := range d.subs {
		close(sub.ch)
		delete(d.subs, name)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// deliver is the per-subscription worker. Sinks are independent failure
// domains: errors and panics are counted and logged, never propagated.
func (d *Dispatcher) deliver(sub *subscription) {
	defer d.wg.Done()
	for out := range sub.ch {
		if err := d.safeAccept(sub, out); err != nil {
			sub.errors.Add(1)
			sinkErrorsTotal.WithLabelValues(sub.name).Inc()
			d.log.Warn().Str("sink", sub.name).Uint64("turn", out.TurnSeq).Err(err).Msg("sink delivery failed")
			continue
		}
		sub.sent.Add(1)
	}
}

func (d *Dispatcher) safeAccept(sub *subscription, out Output) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sub.sink.Accept(out)
}

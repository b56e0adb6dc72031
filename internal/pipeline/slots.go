package pipeline

import "context"

// slotPool is a fixed-size permit set bounding in-flight turns.
// Implemented as a buffered channel used as a counting semaphore; a token
// in the channel is an acquired permit.
type slotPool struct {
	ch chan struct{}
}

func newSlotPool(limit int) *slotPool {
	if limit <= 0 {
		limit = 1
	}
	return &slotPool{ch: make(chan struct{}, limit)}
}

// tryAcquire takes a permit without blocking.
func (p *slotPool) tryAcquire() bool {
	select {
	case p.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquire blocks until a permit frees or ctx is done.
func (p *slotPool) acquire(ctx context.Context) error {
	select {
	case p.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release returns a permit. Releasing more permits than were acquired is a
// programming error and panics: slot accounting must never drift.
func (p *slotPool) release() {
	select {
	case <-p.ch:
	default:
		panic("pipeline: slot released without acquire")
	}
}

// inflight reports the number of permits currently held.
func (p *slotPool) inflight() int { return len(p.ch) }

// limit reports the pool size.
func (p *slotPool) limit() int { return cap(p.ch) }

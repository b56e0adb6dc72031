package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSlotPoolNeverExceedsLimit(t *testing.T) {
	const limit = 4
	const workers = 64
	p := newSlotPool(limit)

	var inflight atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inflight.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inflight.Add(-1)
			p.release()
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > limit {
		t.Fatalf("peak inflight %d exceeds limit %d", got, limit)
	}
	if p.inflight() != 0 {
		t.Fatalf("expected 0 inflight after all releases, got %d", p.inflight())
	}
}

func TestSlotPoolTryAcquireExhaustion(t *testing.T) {
	p := newSlotPool(2)
	if !p.tryAcquire() || !p.tryAcquire() {
		t.Fatal("expected two acquires to succeed")
	}
	if p.tryAcquire() {
		t.Fatal("third acquire should fail with limit 2")
	}
	p.release()
	if !p.tryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestSlotPoolAcquireRespectsContext(t *testing.T) {
	p := newSlotPool(1)
	if !p.tryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.acquire(ctx); err == nil {
		t.Fatal("acquire on a full pool should fail when ctx expires")
	}
}

func TestSlotPoolReleaseWithoutAcquirePanics(t *testing.T) {
	p := newSlotPool(1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on release without acquire")
		}
	}()
	p.release()
}

func TestSlotPoolMinimumLimit(t *testing.T) {
	p := newSlotPool(0)
	if p.limit() != 1 {
		t.Fatalf("limit = %d, want 1", p.limit())
	}
}

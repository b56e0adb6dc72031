package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"streamd/pkg/types"
)

func startRun(t *testing.T, o *Orchestrator) (cancel context.CancelFunc, done chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return cancelFn, done
}

func waitRun(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDaemonQueuesBeyondSlotLimit(t *testing.T) {
	gate := make(chan struct{})
	a := &scriptedAdapter{
		fn:   func(int) ([]string, error) { return []string{"x"}, nil },
		gate: gate,
	}
	rig := newTestRig(t, Config{Concurrency: 2, QueueDepth: 2}, a)
	cancel, done := startRun(t, rig.orch)
	defer cancel()

	for i := 0; i < 3; i++ {
		rig.orch.Triggers() <- manualEvent("go")
	}

	// Two run, the third waits in the backlog.
	waitUntil(t, time.Second, func() bool {
		st := rig.orch.Status()
		return st.Inflight == 2 && st.QueueLen == 1
	}, "two inflight, one queued")

	for i := 0; i < 3; i++ {
		gate <- struct{}{}
	}
	waitUntil(t, 2*time.Second, func() bool {
		return rig.orch.Status().CompletedTotal == 3
	}, "all three turns complete")

	if st := rig.orch.Status(); st.SkippedTotal != 0 {
		t.Fatalf("skipped = %d, want 0", st.SkippedTotal)
	}
	cancel()
	waitRun(t, done)
}

func TestDaemonDropsWhenConfigured(t *testing.T) {
	gate := make(chan struct{})
	a := &scriptedAdapter{
		fn:   func(int) ([]string, error) { return []string{"x"}, nil },
		gate: gate,
	}
	rig := newTestRig(t, Config{Concurrency: 1, DropWhenFull: true}, a)
	cancel, done := startRun(t, rig.orch)
	defer cancel()

	rig.orch.Triggers() <- manualEvent("first")
	waitUntil(t, time.Second, func() bool { return rig.orch.Status().Inflight == 1 }, "first turn running")

	rig.orch.Triggers() <- manualEvent("second")
	waitUntil(t, time.Second, func() bool { return rig.orch.Status().SkippedTotal == 1 }, "second trigger dropped and counted")

	gate <- struct{}{}
	waitUntil(t, time.Second, func() bool { return rig.orch.Status().CompletedTotal == 1 }, "first turn complete")
	cancel()
	waitRun(t, done)
}

func TestContinuousModeRunsBackToBack(t *testing.T) {
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"r"}, nil }}
	rig := newTestRig(t, Config{Mode: ModeContinuous, Concurrency: 1, Query: "what changed"}, a)
	cancel, done := startRun(t, rig.orch)

	waitUntil(t, 2*time.Second, func() bool {
		return rig.orch.Status().CompletedTotal >= 3
	}, "continuous turns keep running")
	cancel()
	waitRun(t, done)

	for _, turn := range rig.hist.Snapshot() {
		if turn.Source != types.SourceContinuous {
			t.Fatalf("turn source = %q, want continuous", turn.Source)
		}
		if turn.Input != "what changed" {
			t.Fatalf("turn input = %q, want configured query", turn.Input)
		}
	}
}

func TestContinuousModePrefersPendingTrigger(t *testing.T) {
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"r"}, nil }}
	rig := newTestRig(t, Config{Mode: ModeContinuous, Concurrency: 1, Query: "fallback"}, a)

	rig.orch.Triggers() <- types.TriggerEvent{Source: types.SourceChat, Payload: "from chat", ReceivedAt: time.Now()}
	cancel, done := startRun(t, rig.orch)

	waitUntil(t, 2*time.Second, func() bool {
		for _, p := range snapshotPrompts(a) {
			if strings.Contains(p, "from chat") {
				return true
			}
		}
		return false
	}, "pending trigger consumed before synthesized query")
	cancel()
	waitRun(t, done)
}

func TestShutdownDrainsInflight(t *testing.T) {
	gate := make(chan struct{})
	a := &scriptedAdapter{
		fn:   func(int) ([]string, error) { return []string{"x"}, nil },
		gate: gate,
	}
	rig := newTestRig(t, Config{Concurrency: 1, ShutdownGrace: 5 * time.Second}, a)
	cancel, done := startRun(t, rig.orch)

	rig.orch.Triggers() <- manualEvent("slow one")
	waitUntil(t, time.Second, func() bool { return rig.orch.Status().Inflight == 1 }, "turn running")

	cancel()
	// Run is now draining; the in-flight turn must be allowed to finish.
	time.Sleep(50 * time.Millisecond)
	gate <- struct{}{}
	waitRun(t, done)

	st := rig.orch.Status()
	if st.CompletedTotal != 1 || st.FailedTotal != 0 {
		t.Fatalf("completed=%d failed=%d, want a clean drain", st.CompletedTotal, st.FailedTotal)
	}
	if st.State != "draining" {
		t.Fatalf("state = %q after Run returned", st.State)
	}
}

func TestShutdownGraceForcesCancel(t *testing.T) {
	a := &scriptedAdapter{block: true}
	rig := newTestRig(t, Config{Concurrency: 1, TurnTimeout: time.Minute, ShutdownGrace: 50 * time.Millisecond}, a)
	cancel, done := startRun(t, rig.orch)

	rig.orch.Triggers() <- manualEvent("stuck")
	waitUntil(t, time.Second, func() bool { return rig.orch.Status().Inflight == 1 }, "turn running")

	cancel()
	waitRun(t, done)

	st := rig.orch.Status()
	if st.FailedTotal != 1 {
		t.Fatalf("failed = %d, want the stuck turn force-canceled", st.FailedTotal)
	}
	if rig.hist.Len() != 0 {
		t.Fatal("canceled turn must not reach history")
	}
}

func TestSubmitStreamsNDJSON(t *testing.T) {
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"to", "ken"}, nil }}
	rig := newTestRig(t, Config{Concurrency: 1}, a)

	var buf bytes.Buffer
	ev := manualEvent("stream me")
	if err := rig.orch.Submit(context.Background(), ev, &buf, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 2 tokens and a final: %q", len(lines), buf.String())
	}
	if rig.orch.Status().CompletedTotal != 1 {
		t.Fatal("synchronous submit should count as completed")
	}
	if rig.orch.Status().Inflight != 0 {
		t.Fatal("slot not released after synchronous submit")
	}
}

func TestSubmitRejectsWhenSaturated(t *testing.T) {
	gate := make(chan struct{})
	a := &scriptedAdapter{
		fn:   func(int) ([]string, error) { return []string{"x"}, nil },
		gate: gate,
	}
	rig := newTestRig(t, Config{Concurrency: 1}, a)
	cancel, done := startRun(t, rig.orch)
	defer cancel()

	rig.orch.Triggers() <- manualEvent("occupier")
	waitUntil(t, time.Second, func() bool { return rig.orch.Status().Inflight == 1 }, "slot occupied")

	var buf bytes.Buffer
	err := rig.orch.Submit(context.Background(), manualEvent("rejected"), &buf, nil)
	if !IsCapacityExceeded(err) {
		t.Fatalf("err = %v, want capacity exceeded", err)
	}
	if buf.Len() != 0 {
		t.Fatal("rejected submit must not write to the stream")
	}

	gate <- struct{}{}
	cancel()
	waitRun(t, done)
}

func TestSubmitRejectedWhileDraining(t *testing.T) {
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"x"}, nil }}
	rig := newTestRig(t, Config{Concurrency: 1}, a)
	cancel, done := startRun(t, rig.orch)
	cancel()
	waitRun(t, done)

	if err := rig.orch.Submit(context.Background(), manualEvent("late"), nil, nil); !IsDraining(err) {
		t.Fatalf("err = %v, want draining", err)
	}
	if rig.orch.Ready() {
		t.Fatal("Ready must report false after drain")
	}
}

func TestBeginTurnBacksOutWhenDrainStarts(t *testing.T) {
	// A drain that lands between Submit's draining check and its slot
	// reservation must still win: the re-check rejects the turn, returns
	// the slot, and leaves the waitgroup balanced so drain cannot hang or
	// pass early.
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"x"}, nil }}
	rig := newTestRig(t, Config{Concurrency: 1}, a)

	rig.orch.draining.Store(true)
	if err := rig.orch.beginTurn(); !IsDraining(err) {
		t.Fatalf("err = %v, want draining", err)
	}
	if !rig.orch.slots.tryAcquire() {
		t.Fatal("slot was not returned")
	}
	rig.orch.slots.release()

	waited := make(chan struct{})
	go func() {
		rig.orch.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("waitgroup left unbalanced")
	}
}

func TestStatusShape(t *testing.T) {
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"x"}, nil }}
	rig := newTestRig(t, Config{Mode: ModeDaemon, Concurrency: 3, QueueDepth: 2}, a)

	st := rig.orch.Status()
	if st.Mode != "daemon" || st.State != "running" {
		t.Fatalf("mode=%q state=%q", st.Mode, st.State)
	}
	if st.SlotLimit != 3 || st.QueueDepth != 2 {
		t.Fatalf("slot limit %d queue depth %d", st.SlotLimit, st.QueueDepth)
	}
	if len(st.Sinks) != 1 || st.Sinks[0].Name != "collector" {
		t.Fatalf("sinks = %+v", st.Sinks)
	}
}

func snapshotPrompts(a *scriptedAdapter) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.prompts))
	copy(out, a.prompts)
	return out
}

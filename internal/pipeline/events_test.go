package pipeline

import (
	"context"
	"errors"
	"testing"
)

func eventNames(p *MemoryPublisher) []string {
	evs := p.Events()
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.Name
	}
	return names
}

func TestLifecycleEventsOnSuccess(t *testing.T) {
	pub := NewMemoryPublisher()
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return []string{"x"}, nil }}
	rig := newTestRig(t, Config{Concurrency: 1, Publisher: pub}, a)

	if _, err := rig.orch.runTurn(context.Background(), manualEvent("hi"), nil, nil); err != nil {
		t.Fatalf("runTurn: %v", err)
	}
	got := eventNames(pub)
	want := []string{"turn_start", "turn_complete"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestLifecycleEventsOnRetryAndFailure(t *testing.T) {
	pub := NewMemoryPublisher()
	a := &scriptedAdapter{fn: func(int) ([]string, error) { return nil, errors.New("down") }}
	rig := newTestRig(t, Config{Concurrency: 1, Publisher: pub}, a)

	if _, err := rig.orch.runTurn(context.Background(), manualEvent("hi"), nil, nil); err == nil {
		t.Fatal("expected failure")
	}
	got := eventNames(pub)
	want := []string{"turn_start", "turn_retry", "turn_failed"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

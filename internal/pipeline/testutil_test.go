package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/backend"
	"streamd/internal/history"
	"streamd/internal/prompt"
)

// scriptedAdapter drives the runner in tests. fn receives the 1-based call
// number and returns the fragments to emit followed by a terminal error
// (nil means success). When block is set, Generate emits its fragments and
// then parks until the context is canceled.
type scriptedAdapter struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]string, error)
	block bool
	// gate, when non-nil, must release one token per Generate call before
	// the call completes.
	gate    chan struct{}
	prompts []string
	// emptyFinal makes successful calls return no final content, forcing
	// the runner to fall back to its fragment accumulator.
	emptyFinal bool
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *scriptedAdapter) lastPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.prompts) == 0 {
		return ""
	}
	return a.prompts[len(a.prompts)-1]
}

func (a *scriptedAdapter) Start(model string, params backend.Params) (backend.Session, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()
	return &scriptedSession{a: a, call: call}, nil
}

type scriptedSession struct {
	a    *scriptedAdapter
	call int
}

func (s *scriptedSession) Generate(ctx context.Context, p string, onFragment func(string) error) (backend.FinalResult, error) {
	s.a.mu.Lock()
	s.a.prompts = append(s.a.prompts, p)
	s.a.mu.Unlock()
	var frags []string
	var err error
	if s.a.fn != nil {
		frags, err = s.a.fn(s.call)
	}
	for _, f := range frags {
		select {
		case <-ctx.Done():
			return backend.FinalResult{}, ctx.Err()
		default:
		}
		if cbErr := onFragment(f); cbErr != nil {
			return backend.FinalResult{}, cbErr
		}
	}
	if s.a.block {
		<-ctx.Done()
		return backend.FinalResult{}, ctx.Err()
	}
	if s.a.gate != nil {
		select {
		case <-s.a.gate:
		case <-ctx.Done():
			return backend.FinalResult{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.FinalResult{}, err
	}
	if s.a.emptyFinal {
		return backend.FinalResult{FinishReason: "stop"}, nil
	}
	return backend.FinalResult{Content: strings.Join(frags, ""), FinishReason: "stop"}, nil
}

func (s *scriptedSession) Close() error { return nil }

// collectorSink records everything it accepts.
type collectorSink struct {
	mu   sync.Mutex
	outs []Output
}

func (c *collectorSink) Accept(out Output) error {
	c.mu.Lock()
	c.outs = append(c.outs, out)
	c.mu.Unlock()
	return nil
}

func (c *collectorSink) outputs() []Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Output, len(c.outs))
	copy(out, c.outs)
	return out
}

type testRig struct {
	orch *Orchestrator
	hist *history.Buffer
	disp *Dispatcher
	sink *collectorSink
}

func newTestRig(t *testing.T, cfg Config, a backend.Adapter) *testRig {
	t.Helper()
	hist := history.New(100, 0, true)
	asm := prompt.New("sys", 0, prompt.FormatPlain)
	disp := NewDispatcher(zerolog.Nop())
	sink := &collectorSink{}
	if err := disp.Subscribe("collector", InterestFragments|InterestFinals, 256, sink); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(disp.Close)
	orch := New(cfg, a, hist, asm, disp, zerolog.Nop())
	return &testRig{orch: orch, hist: hist, disp: disp, sink: sink}
}

// waitUntil polls cond for up to d.
func waitUntil(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", d, msg)
}

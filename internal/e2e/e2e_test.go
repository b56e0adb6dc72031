package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/backend"
	"streamd/internal/history"
	"streamd/internal/httpapi"
	"streamd/internal/pipeline"
	"streamd/internal/prompt"
	"streamd/pkg/types"
)

// fakeAdapter emits fixed fragments per call. With gate set, Generate parks
// after emitting until a token is sent.
type fakeAdapter struct {
	mu    sync.Mutex
	calls int
	frags []string
	gate  chan struct{}
}

func (a *fakeAdapter) Start(model string, params backend.Params) (backend.Session, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return &fakeSession{a: a}, nil
}

type fakeSession struct{ a *fakeAdapter }

func (s *fakeSession) Generate(ctx context.Context, p string, onFragment func(string) error) (backend.FinalResult, error) {
	for _, f := range s.a.frags {
		if err := onFragment(f); err != nil {
			return backend.FinalResult{}, err
		}
	}
	if s.a.gate != nil {
		select {
		case <-s.a.gate:
		case <-ctx.Done():
			return backend.FinalResult{}, ctx.Err()
		}
	}
	return backend.FinalResult{Content: strings.Join(s.a.frags, ""), FinishReason: "stop"}, nil
}

func (s *fakeSession) Close() error { return nil }

// service mirrors the cmd wiring between orchestrator and HTTP mux.
type service struct{ orch *pipeline.Orchestrator }

func (s *service) Status() types.StatusResponse { return s.orch.Status() }
func (s *service) Ready() bool                  { return s.orch.Ready() }
func (s *service) Trigger(ctx context.Context, req types.TriggerRequest, w io.Writer, flush func()) error {
	return s.orch.Submit(ctx, types.TriggerEvent{
		Source:     types.SourceManual,
		Payload:    req.Input,
		ReceivedAt: time.Now(),
	}, w, flush)
}

// startStack wires history, assembler, dispatcher, orchestrator, and the
// HTTP mux the way cmd/streamd does, with the fake backend in place.
func startStack(t *testing.T, cfg pipeline.Config, a backend.Adapter) (*httptest.Server, *pipeline.Orchestrator, context.CancelFunc) {
	t.Helper()
	log := zerolog.Nop()
	hist := history.New(32, 0, true)
	asm := prompt.New("sys", 0, prompt.FormatPlain)
	disp := pipeline.NewDispatcher(log)
	t.Cleanup(disp.Close)
	orch := pipeline.New(cfg, a, hist, asm, disp, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
	})

	srv := httptest.NewServer(httpapi.NewMux(&service{orch: orch}))
	t.Cleanup(srv.Close)
	return srv, orch, cancel
}

func postTrigger(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/trigger", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestE2E_TriggerStreamsTokens(t *testing.T) {
	a := &fakeAdapter{frags: []string{"hai", "ku"}}
	srv, _, _ := startStack(t, pipeline.Config{Concurrency: 1}, a)

	resp := postTrigger(t, srv.URL, `{"input":"write a haiku","stream":true}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 2 token lines and a final, got %d: %q", len(lines), raw)
	}
	var fin struct {
		Done    bool   `json:"done"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &fin); err != nil || !fin.Done || fin.Content != "haiku" {
		t.Fatalf("final line %q: %v", lines[2], err)
	}
}

func TestE2E_Backpressure429(t *testing.T) {
	gate := make(chan struct{})
	a := &fakeAdapter{frags: []string{"x"}, gate: gate}
	srv, orch, _ := startStack(t, pipeline.Config{Concurrency: 1}, a)

	// Occupy the only slot with a streaming request.
	first := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/trigger", "application/json",
			bytes.NewBufferString(`{"input":"slow","stream":true}`))
		if err == nil {
			first <- resp
		}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for orch.Status().Inflight != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := postTrigger(t, srv.URL, `{"input":"rejected","stream":true}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", resp.StatusCode)
	}

	close(gate)
	if r := <-first; r != nil {
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
	}
}

func TestE2E_StatusReflectsTurns(t *testing.T) {
	a := &fakeAdapter{frags: []string{"done"}}
	srv, _, _ := startStack(t, pipeline.Config{Concurrency: 1}, a)

	resp := postTrigger(t, srv.URL, `{"input":"one","stream":true}`)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	st, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer st.Body.Close()
	var status types.StatusResponse
	if err := json.NewDecoder(st.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.CompletedTotal != 1 || status.HistoryTurns != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status.State != "running" || status.SlotLimit != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestE2E_ReadyzReportsDraining(t *testing.T) {
	a := &fakeAdapter{frags: []string{"x"}}
	srv, _, cancel := startStack(t, pipeline.Config{Concurrency: 1}, a)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d before shutdown", resp.StatusCode)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusServiceUnavailable {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("readyz stayed %d after shutdown", resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

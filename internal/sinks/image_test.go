package sinks

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"streamd/internal/pipeline"
)

func TestImagePostsPromptAndSaves(t *testing.T) {
	var gotReq txt2imgRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sdapi/v1/txt2img" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		img := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
		_ = json.NewEncoder(w).Encode(txt2imgResponse{Images: []string{img}})
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewImage(srv.URL, dir, 0, zerolog.Nop())
	out := pipeline.Output{Kind: pipeline.KindFinal, TurnSeq: 1, Text: "a scenic mountain"}
	if err := s.Accept(out); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if gotReq.Prompt != "a scenic mountain" {
		t.Fatalf("prompt = %q", gotReq.Prompt)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil || len(files) != 1 {
		t.Fatalf("saved files = %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil || string(data) != "fake-png-bytes" {
		t.Fatalf("saved content = %q (%v)", data, err)
	}
}

func TestImageTruncatesPrompt(t *testing.T) {
	var gotReq txt2imgRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(txt2imgResponse{})
	}))
	defer srv.Close()

	s := NewImage(srv.URL, "", 10, zerolog.Nop())
	out := pipeline.Output{Kind: pipeline.KindFinal, Text: strings.Repeat("x", 100)}
	if err := s.Accept(out); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(gotReq.Prompt) != 10 {
		t.Fatalf("prompt len = %d, want 10", len(gotReq.Prompt))
	}
}

func TestImageSkipsFailedTurns(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := NewImage(srv.URL, "", 0, zerolog.Nop())
	if err := s.Accept(pipeline.Output{Kind: pipeline.KindFinal, Failed: true, Text: "x"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if called {
		t.Fatal("failed turn must not hit the image API")
	}
}

func TestImageSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewImage(srv.URL, "", 0, zerolog.Nop())
	if err := s.Accept(pipeline.Output{Kind: pipeline.KindFinal, Text: "x"}); err == nil {
		t.Fatal("expected error on 500 from the image API")
	}
}

func TestTruncateBytesRespectsRuneBoundary(t *testing.T) {
	s := "héllo"
	got := truncateBytes(s, 2)
	if got != "h" {
		t.Fatalf("got %q, must not split the rune", got)
	}
}

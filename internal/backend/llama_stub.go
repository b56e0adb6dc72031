//go:build !llama

package backend

// This file provides a no-CGO stub for the llama adapter. It is compiled when
// the 'llama' build tag is NOT set, keeping default builds and CI CGO-free.

import (
	"context"
	"errors"
)

// llamaBuilt indicates whether real llama support was compiled in.
var llamaBuilt = false

type llamaAdapter struct {
	ctxSize int
	threads int
}

// NewLlamaAdapter constructs a stub that satisfies Adapter but refuses to run
// inference without the 'llama' build tag. No mocked generation in production
// binaries.
func NewLlamaAdapter(ctxSize, threads int) Adapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

type llamaSession struct{}

func (a *llamaAdapter) Start(modelPath string, params Params) (Session, error) {
	return nil, errors.New("llama support not built (missing 'llama' build tag)")
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, onFragment func(string) error) (FinalResult, error) {
	select {
	case <-ctx.Done():
		return FinalResult{}, ctx.Err()
	default:
	}
	return FinalResult{}, errors.New("llama support not built")
}

func (s *llamaSession) Close() error { return nil }

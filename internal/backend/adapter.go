// Package backend abstracts the inference runtime behind one capability
// surface: accept a prompt, stream fragments in generation order, support
// cancellation. Two adapters exist: an in-process llama.cpp runtime (behind
// the 'llama' build tag) and a remote OpenAI-compatible server client.
package backend

import "context"

// Adapter abstracts the model runtime used by the pipeline.
type Adapter interface {
	// Start prepares a session for inference with the given model and
	// generation parameters.
	Start(model string, params Params) (Session, error)
}

// Session represents a single inference session.
type Session interface {
	// Generate streams fragments for the given prompt. onFragment is
	// invoked for each fragment in generation order; returning an error
	// stops generation. Implementations must return promptly when ctx is
	// canceled.
	Generate(ctx context.Context, prompt string, onFragment func(string) error) (FinalResult, error)
	// Close releases any resources associated with the session.
	Close() error
}

// Params captures generation parameters passed to the adapter.
type Params struct {
	Temperature   float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting when the backend reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

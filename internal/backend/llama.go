//go:build llama

package backend

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaAdapter holds global config used to initialize a model instance.
type llamaAdapter struct {
	ctxSize int
	threads int
}

// NewLlamaAdapter constructs the in-process llama.cpp adapter.
func NewLlamaAdapter(ctxSize, threads int) Adapter {
	return &llamaAdapter{ctxSize: ctxSize, threads: threads}
}

// llamaSession owns the loaded model.
type llamaSession struct {
	model      *llama.LLama
	threads    int
	baseParams Params
}

func (a *llamaAdapter) Start(modelPath string, params Params) (Session, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(a.ctxSize),
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaSession{model: m, threads: a.threads, baseParams: params}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, onFragment func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	// Bridge token streaming to onFragment and respect cancellation.
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := onFragment(tok); err != nil {
			return false
		}
		return true
	})
	po := mapParamsToPredictOptions(s.baseParams, s.threads)
	text, err := s.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	return FinalResult{
		Content:      text,
		FinishReason: "stop",
	}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func orDefaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultF32(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapParamsToPredictOptions converts adapter params into go-llama.cpp options.
func mapParamsToPredictOptions(params Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(orDefaultInt(params.MaxTokens, 1)),
		llama.SetThreads(orDefaultInt(threads, 1)),
		llama.SetTopP(orDefaultF32(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(orDefaultInt(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(orDefaultF32(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(orDefaultF32(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}

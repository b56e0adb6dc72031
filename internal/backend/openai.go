package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// openAIAdapter implements Adapter by talking to an OpenAI-compatible server
// over HTTP (llama.cpp server, vLLM, or the hosted API).
type openAIAdapter struct {
	baseURL        string
	apiKey         string
	reqTimeout     time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
	log            zerolog.Logger
}

// NewOpenAIAdapter constructs a server-backed adapter.
func NewOpenAIAdapter(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration, log zerolog.Logger) Adapter {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Client.Timeout stays 0: streaming responses outlive any flat timeout,
	// so deadlines ride on the request context instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &openAIAdapter{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		reqTimeout:     reqTimeout,
		connectTimeout: connectTimeout,
		httpClient:     cli,
		log:            log,
	}
}

// openAISession holds per-session state.
type openAISession struct {
	adapter    *openAIAdapter
	model      string
	baseParams Params
}

func (a *openAIAdapter) Start(model string, params Params) (Session, error) {
	return &openAISession{adapter: a, model: strings.TrimSpace(model), baseParams: params}, nil
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float32  `json:"temperature,omitempty"`
	TopP          float32  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float32  `json:"repeat_penalty,omitempty"`
}

// streamChoice is a minimal subset of the streaming response.
type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Object  string         `json:"object"`
	Choices []streamChoice `json:"choices"`
}

func (s *openAISession) Generate(ctx context.Context, prompt string, onFragment func(string) error) (FinalResult, error) {
	if s.adapter == nil || s.adapter.httpClient == nil {
		return FinalResult{}, errors.New("openai adapter not initialized")
	}
	if s.adapter.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.adapter.reqTimeout)
		defer cancel()
	}

	payload := completionRequest{
		Model:         s.model,
		Prompt:        prompt,
		MaxTokens:     s.baseParams.MaxTokens,
		Temperature:   s.baseParams.Temperature,
		TopP:          s.baseParams.TopP,
		TopK:          s.baseParams.TopK,
		Stop:          s.baseParams.Stop,
		Seed:          s.baseParams.Seed,
		Stream:        true,
		RepeatPenalty: s.baseParams.RepeatPenalty,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.adapter.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.adapter.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.adapter.apiKey)
	}
	resp, err := s.adapter.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, errors.New("backend http error: " + resp.Status + ": " + string(b))
	}

	// Stream parse. Servers emit SSE lines prefixed "data: "; some emit raw
	// JSON objects per line.
	r := bufio.NewReader(resp.Body)
	var final FinalResult
	var content strings.Builder
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if line == "" {
				// heartbeat
			} else if strings.HasPrefix(strings.ToLower(line), "data:") {
				data := strings.TrimSpace(line[len("data:"):])
				if data == "[DONE]" {
					break
				}
				if frag, fr, ok := parseStreamLine(data); ok {
					if frag != "" {
						if cbErr := onFragment(frag); cbErr != nil {
							return final, cbErr
						}
						content.WriteString(frag)
					}
					if fr != "" {
						final.FinishReason = fr
					}
				} else {
					s.adapter.log.Debug().Str("line", line).Msg("unknown stream line")
				}
			} else if frag, fr, ok := parseStreamLine(line); ok {
				// NDJSON fallback: servers that skip SSE framing emit one
				// JSON object per line.
				if frag != "" {
					if cbErr := onFragment(frag); cbErr != nil {
						return final, cbErr
					}
					content.WriteString(frag)
				}
				if fr != "" {
					final.FinishReason = fr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return final, ctx.Err()
			}
			return final, err
		}
	}
	final.Content = content.String()
	return final, nil
}

// parseStreamLine extracts a fragment and finish reason from one data line.
func parseStreamLine(data string) (frag, finishReason string, ok bool) {
	var msg streamResponse
	if err := json.Unmarshal([]byte(data), &msg); err == nil && len(msg.Choices) > 0 {
		c := msg.Choices[0]
		if c.Text != "" {
			return c.Text, c.FinishReason, true
		}
		return c.Delta.Content, c.FinishReason, true
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(data), &generic); err == nil {
		if tok, found := generic["content"].(string); found {
			return tok, "", true
		}
	}
	return "", "", false
}

func (s *openAISession) Close() error { return nil }

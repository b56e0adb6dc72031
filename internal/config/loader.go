package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// HTTP surface
	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	CORSMethods []string `json:"cors_methods" yaml:"cors_methods" toml:"cors_methods"`
	CORSHeaders []string `json:"cors_headers" yaml:"cors_headers" toml:"cors_headers"`

	// Pipeline
	Mode            string `json:"mode" yaml:"mode" toml:"mode"` // daemon | continuous
	Concurrency     int    `json:"concurrency" yaml:"concurrency" toml:"concurrency"`
	QueueDepth      int    `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	DropWhenFull    bool   `json:"drop_when_full" yaml:"drop_when_full" toml:"drop_when_full"`
	TurnTimeoutMS   int    `json:"turn_timeout_ms" yaml:"turn_timeout_ms" toml:"turn_timeout_ms"`
	ShutdownGraceMS int    `json:"shutdown_grace_ms" yaml:"shutdown_grace_ms" toml:"shutdown_grace_ms"`

	// Context
	HistoryEnabled  bool   `json:"history_enabled" yaml:"history_enabled" toml:"history_enabled"`
	HistoryMaxTurns int    `json:"history_max_turns" yaml:"history_max_turns" toml:"history_max_turns"`
	HistoryMaxBytes int    `json:"history_max_bytes" yaml:"history_max_bytes" toml:"history_max_bytes"`
	PromptMaxBytes  int    `json:"prompt_max_bytes" yaml:"prompt_max_bytes" toml:"prompt_max_bytes"`
	SystemPrompt    string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	ChatFormat      string `json:"chat_format" yaml:"chat_format" toml:"chat_format"` // "", llama2, chatml, gemma
	Query           string `json:"query" yaml:"query" toml:"query"`                   // continuous-mode fallback input

	// Backend
	Backend       string   `json:"backend" yaml:"backend" toml:"backend"` // local | openai
	BackendURL    string   `json:"backend_url" yaml:"backend_url" toml:"backend_url"`
	APIKey        string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model         string   `json:"model" yaml:"model" toml:"model"`
	ModelsDir     string   `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature   float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP          float64  `json:"top_p" yaml:"top_p" toml:"top_p"`
	TopK          int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	Stop          []string `json:"stop" yaml:"stop" toml:"stop"`
	Seed          int      `json:"seed" yaml:"seed" toml:"seed"`
	RepeatPenalty float64  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	LlamaCtx      int      `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads  int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`

	// Trigger sources
	PollIntervalMS int      `json:"poll_interval_ms" yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	SysStats       bool     `json:"sysstats" yaml:"sysstats" toml:"sysstats"`
	CaptureAddr    string   `json:"capture_addr" yaml:"capture_addr" toml:"capture_addr"`
	CaptureBatch   int      `json:"capture_batch" yaml:"capture_batch" toml:"capture_batch"`
	TwitchNick     string   `json:"twitch_nick" yaml:"twitch_nick" toml:"twitch_nick"`
	TwitchToken    string   `json:"twitch_token" yaml:"twitch_token" toml:"twitch_token"`
	TwitchChannels []string `json:"twitch_channels" yaml:"twitch_channels" toml:"twitch_channels"`

	// Sinks
	SubtitleFile  string `json:"subtitle_file" yaml:"subtitle_file" toml:"subtitle_file"`
	SDURL         string `json:"sd_url" yaml:"sd_url" toml:"sd_url"`
	SDSaveDir     string `json:"sd_save_dir" yaml:"sd_save_dir" toml:"sd_save_dir"`
	SDPromptBytes int    `json:"sd_prompt_bytes" yaml:"sd_prompt_bytes" toml:"sd_prompt_bytes"`
	DeviceAddr    string `json:"device_addr" yaml:"device_addr" toml:"device_addr"`
	SinkBuffer    int    `json:"sink_buffer" yaml:"sink_buffer" toml:"sink_buffer"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

package pipeline

import (
	"time"

	"streamd/internal/backend"
)

// Mode selects how the orchestrator sources work.
type Mode string

const (
	// ModeDaemon waits for trigger events and is idle between them.
	ModeDaemon Mode = "daemon"
	// ModeContinuous launches a new turn as soon as a slot frees, feeding
	// from the latest pending trigger or the configured query.
	ModeContinuous Mode = "continuous"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultConcurrency   = 1
	defaultTurnTimeout   = 60 * time.Second
	defaultShutdownGrace = 10 * time.Second
	defaultTriggerBuffer = 16
)

// Config encapsulates all tunables for Orchestrator construction.
type Config struct {
	Mode        Mode
	Concurrency int
	// QueueDepth bounds the trigger backlog; it is clamped to Concurrency
	// so the backlog can never outgrow the slot pool.
	QueueDepth int
	// DropWhenFull skips triggers instead of queueing when no slot is free.
	DropWhenFull  bool
	TurnTimeout   time.Duration
	ShutdownGrace time.Duration
	// Model is passed to the backend adapter's Start.
	Model  string
	Params backend.Params
	// Query is the synthesized input used by continuous mode when no
	// trigger is pending.
	Query     string
	Publisher EventPublisher
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeDaemon
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.QueueDepth <= 0 || c.QueueDepth > c.Concurrency {
		c.QueueDepth = c.Concurrency
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = defaultTurnTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}

package types

// TriggerRequest is the payload for POST /trigger (manual input injection).
type TriggerRequest struct {
	// Input text to build the next turn from.
	// example: Describe the current stream health.
	Input string `json:"input" example:"Describe the current stream health."`
	// If true, stream the produced turn as NDJSON token lines.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// SinkStatus summarizes one sink subscription for /status.
type SinkStatus struct {
	// Subscription name.
	// example: subtitles
	Name string `json:"name" example:"subtitles"`
	// Events delivered to the sink.
	// example: 1042
	Sent uint64 `json:"sent" example:"1042"`
	// Events dropped because the sink buffer was full.
	// example: 3
	Dropped uint64 `json:"dropped" example:"3"`
	// Sink-side errors caught at the dispatch boundary.
	// example: 0
	Errors uint64 `json:"errors" example:"0"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Operating mode: daemon or continuous.
	// example: daemon
	Mode string `json:"mode" example:"daemon"`
	// Pipeline state: running or draining.
	// example: running
	State string `json:"state" example:"running"`
	// Turns currently in flight.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Configured concurrency limit (slot pool size).
	// example: 2
	SlotLimit int `json:"slot_limit" example:"2"`
	// Triggers waiting in the bounded queue.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Maximum queued triggers before drops begin.
	// example: 2
	QueueDepth int `json:"queue_depth" example:"2"`
	// Retained history turns.
	// example: 12
	HistoryTurns int `json:"history_turns" example:"12"`
	// Retained history size in bytes.
	// example: 8192
	HistoryBytes int `json:"history_bytes" example:"8192"`
	// Completed turns since start.
	// example: 240
	CompletedTotal uint64 `json:"completed_total" example:"240"`
	// Failed turns since start (backend errors, timeouts, cancellations).
	// example: 4
	FailedTotal uint64 `json:"failed_total" example:"4"`
	// Triggers skipped because no slot and no queue space were available.
	// example: 7
	SkippedTotal uint64 `json:"skipped_total" example:"7"`
	// Per-sink delivery counters.
	Sinks []SinkStatus `json:"sinks"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

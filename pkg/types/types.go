package types

import "time"

// TurnStatus is the lifecycle state of a Turn.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnComplete  TurnStatus = "complete"
	TurnFailed    TurnStatus = "failed"
)

// SourceTag identifies which trigger source produced an input.
type SourceTag string

const (
	SourceChat       SourceTag = "chat"
	SourceSysStats   SourceTag = "sysstats"
	SourcePackets    SourceTag = "packets"
	SourceManual     SourceTag = "manual"
	SourceContinuous SourceTag = "continuous"
)

// Turn is one request/response exchange with the inference backend.
// A Turn is owned by its runner while in flight and by the history buffer
// once complete; it is never mutated after being appended to history.
type Turn struct {
	// Seq is assigned at request time and is monotonic per process.
	Seq uint64 `json:"seq"`
	// ID is a stable unique identifier for correlating sink output.
	ID     string    `json:"id"`
	Source SourceTag `json:"source"`
	// Input is the trigger payload the prompt was built from.
	Input string `json:"input"`
	// Response accumulates streamed fragments.
	Response string     `json:"response,omitempty"`
	Status   TurnStatus `json:"status"`
	// FailCause is set when Status is failed: "timeout", "backend", "canceled".
	FailCause string `json:"fail_cause,omitempty"`
	// ReplyTo carries the chat channel to answer when Source is chat.
	ReplyTo     string    `json:"reply_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Size is the serialized cost of a turn against the history byte budget.
func (t Turn) Size() int { return len(t.Input) + len(t.Response) }

// TriggerEvent is the uniform "new input available" notification pushed by
// trigger sources into the orchestrator.
type TriggerEvent struct {
	Source     SourceTag `json:"source"`
	Payload    string    `json:"payload"`
	ReplyTo    string    `json:"reply_to,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Model represents a discoverable model file on disk for the local backend.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

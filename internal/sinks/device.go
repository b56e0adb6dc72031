package sinks

import (
	"encoding/json"
	"io"
	"sync"

	"streamd/internal/pipeline"
)

// Device frames final turn output as NDJSON on a writer. The writer is the
// output-device boundary; anything that consumes line-delimited JSON (NDI
// bridge, serial console, pipe) can sit behind it.
type Device struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewDevice(w io.Writer) *Device {
	return &Device{enc: json.NewEncoder(w)}
}

func (d *Device) Interest() pipeline.Interest { return pipeline.InterestFinals }

type deviceFrame struct {
	TurnID  string `json:"turn_id"`
	TurnSeq uint64 `json:"turn_seq"`
	Source  string `json:"source"`
	Content string `json:"content"`
	Failed  bool   `json:"failed,omitempty"`
	Cause   string `json:"cause,omitempty"`
}

func (d *Device) Accept(out pipeline.Output) error {
	if out.Kind != pipeline.KindFinal {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enc.Encode(deviceFrame{
		TurnID:  out.TurnID,
		TurnSeq: out.TurnSeq,
		Source:  string(out.Source),
		Content: out.Text,
		Failed:  out.Failed,
		Cause:   out.Cause,
	})
}

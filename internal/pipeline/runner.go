package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamd/internal/backend"
	"streamd/pkg/types"
)

// runTurn executes one turn's lifecycle: pending -> streaming -> complete or
// failed. Fragments are published to the dispatcher as they arrive and are
// never retracted; only a completed turn is appended to history. A backend
// error is retried once; timeouts and cancellations are not retried.
func (o *Orchestrator) runTurn(ctx context.Context, ev types.TriggerEvent, w io.Writer, flush func()) (types.Turn, error) {
	turn := types.Turn{
		Seq:       o.seq.Add(1),
		ID:        uuid.NewString(),
		Source:    ev.Source,
		Input:     ev.Payload,
		ReplyTo:   ev.ReplyTo,
		Status:    types.TurnPending,
		CreatedAt: time.Now(),
	}
	o.pub.Publish(Event{Name: "turn_start", TurnSeq: turn.Seq, Fields: map[string]any{"source": string(ev.Source)}})
	inflightTurns.Inc()
	defer inflightTurns.Dec()
	start := time.Now()

	tctx := ctx
	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	p := o.asm.Build(o.hist.Snapshot(), ev.Payload)

	fragSeq := 0
	var acc strings.Builder
	onFragment := func(tok string) error {
		fragSeq++
		turn.Status = types.TurnStreaming
		acc.WriteString(tok)
		fragmentsTotal.Inc()
		o.disp.Publish(Output{
			TurnSeq: turn.Seq,
			TurnID:  turn.ID,
			Source:  turn.Source,
			ReplyTo: turn.ReplyTo,
			Kind:    KindFragment,
			Seq:     fragSeq,
			Text:    tok,
		})
		if w != nil {
			if _, err := w.Write(tokenLineJSON(tok)); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
		return nil
	}

	final, err := o.generateWithRetry(tctx, turn.Seq, p, onFragment, acc.Reset)
	dur := time.Since(start)
	if err != nil {
		turn.Status = types.TurnFailed
		turn.FailCause = failCause(tctx, err)
		turn.CompletedAt = time.Now()
		o.failed.Add(1)
		turnsTotal.WithLabelValues(string(types.TurnFailed)).Inc()
		turnDuration.WithLabelValues(string(types.TurnFailed)).Observe(dur.Seconds())
		o.pub.Publish(Event{Name: "turn_failed", TurnSeq: turn.Seq, Fields: map[string]any{"cause": turn.FailCause}})
		o.log.Warn().Uint64("turn", turn.Seq).Str("source", string(turn.Source)).Str("cause", turn.FailCause).Dur("dur", dur).Err(err).Msg("turn failed")
		// Sinks see a failed final so they can settle state; delivered
		// fragments stay as-is. History is untouched.
		o.disp.Publish(Output{
			TurnSeq: turn.Seq,
			TurnID:  turn.ID,
			Source:  turn.Source,
			ReplyTo: turn.ReplyTo,
			Kind:    KindFinal,
			Seq:     fragSeq + 1,
			Text:    acc.String(),
			Failed:  true,
			Cause:   turn.FailCause,
		})
		if w != nil {
			writeFinalLine(w, flush, map[string]any{"done": true, "error": err.Error(), "cause": turn.FailCause})
		}
		return turn, wrapRunError(tctx, err)
	}

	content := final.Content
	if content == "" {
		content = acc.String()
	}
	turn.Response = content
	turn.Status = types.TurnComplete
	turn.CompletedAt = time.Now()
	o.hist.Append(turn)
	o.completed.Add(1)
	turnsTotal.WithLabelValues(string(types.TurnComplete)).Inc()
	turnDuration.WithLabelValues(string(types.TurnComplete)).Observe(dur.Seconds())
	o.pub.Publish(Event{Name: "turn_complete", TurnSeq: turn.Seq, Fields: map[string]any{"fragments": fragSeq}})
	o.log.Info().Uint64("turn", turn.Seq).Str("source", string(turn.Source)).Int("fragments", fragSeq).Dur("dur", dur).Msg("turn complete")
	o.disp.Publish(Output{
		TurnSeq: turn.Seq,
		TurnID:  turn.ID,
		Source:  turn.Source,
		ReplyTo: turn.ReplyTo,
		Kind:    KindFinal,
		Seq:     fragSeq + 1,
		Text:    content,
	})
	if w != nil {
		writeFinalLine(w, flush, map[string]any{"done": true, "content": content, "finish_reason": final.FinishReason})
	}
	return turn, nil
}

// generateWithRetry runs one backend call, retrying exactly once on a
// backend error. Context-driven failures (timeout, cancel) never retry.
// onRetry fires before the second attempt so the caller can discard
// first-attempt accumulation; fragments already published stay published.
func (o *Orchestrator) generateWithRetry(ctx context.Context, seq uint64, p string, onFragment func(string) error, onRetry func()) (backend.FinalResult, error) {
	var final backend.FinalResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var sess backend.Session
		sess, err = o.adapter.Start(o.cfg.Model, o.cfg.Params)
		if err == nil {
			final, err = sess.Generate(ctx, p, onFragment)
			_ = sess.Close()
		}
		if err == nil {
			return final, nil
		}
		if ctx.Err() != nil {
			return final, err
		}
		if attempt == 0 {
			o.pub.Publish(Event{Name: "turn_retry", TurnSeq: seq})
			o.log.Warn().Uint64("turn", seq).Err(err).Msg("backend error, retrying once")
			if onRetry != nil {
				onRetry()
			}
		}
	}
	return final, err
}

// failCause classifies a turn failure for status reporting.
func failCause(ctx context.Context, err error) string {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return "timeout"
	case ctx.Err() == context.Canceled:
		return "canceled"
	default:
		return "backend"
	}
}

// wrapRunError maps a turn failure to the pipeline error taxonomy.
func wrapRunError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return timeoutError{}
	case ctx.Err() == context.Canceled:
		return ctx.Err()
	default:
		return backendError{err: err}
	}
}

// tokenLineJSON formats a token NDJSON line using json.Marshal for
// correctness.
func tokenLineJSON(tok string) []byte {
	type tokenMsg struct {
		Token string `json:"token"`
	}
	b, _ := json.Marshal(tokenMsg{Token: tok})
	return append(b, '\n')
}

func writeFinalLine(w io.Writer, flush func(), fields map[string]any) {
	b, _ := json.Marshal(fields)
	if _, err := w.Write(append(b, '\n')); err != nil {
		return
	}
	if flush != nil {
		flush()
	}
}

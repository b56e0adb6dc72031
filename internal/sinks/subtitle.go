package sinks

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"streamd/internal/pipeline"
)

const defaultCaptionWidth = 60

// Subtitle renders streamed fragments as caption lines on a writer, wrapping
// at word boundaries. It subscribes to both fragments and finals so it can
// flush the tail of a turn; buffers are kept per turn because concurrent
// turns interleave their fragments.
type Subtitle struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	bufs  map[uint64]*strings.Builder
}

func NewSubtitle(w io.Writer, width int) *Subtitle {
	if width <= 0 {
		width = defaultCaptionWidth
	}
	return &Subtitle{w: w, width: width, bufs: make(map[uint64]*strings.Builder)}
}

// Interest returns the subscription filter for this sink.
func (s *Subtitle) Interest() pipeline.Interest {
	return pipeline.InterestFragments | pipeline.InterestFinals
}

func (s *Subtitle) Accept(out pipeline.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch out.Kind {
	case pipeline.KindFragment:
		buf := s.bufs[out.TurnSeq]
		if buf == nil {
			buf = &strings.Builder{}
			s.bufs[out.TurnSeq] = buf
		}
		buf.WriteString(out.Text)
		return s.emitFull(out.TurnSeq, buf)
	case pipeline.KindFinal:
		buf := s.bufs[out.TurnSeq]
		delete(s.bufs, out.TurnSeq)
		if out.Failed || buf == nil {
			return nil
		}
		if rest := strings.TrimSpace(buf.String()); rest != "" {
			if _, err := fmt.Fprintln(s.w, rest); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(s.w)
		return err
	}
	return nil
}

// emitFull writes complete caption lines out of buf, leaving any partial
// line buffered for the next fragment.
func (s *Subtitle) emitFull(seq uint64, buf *strings.Builder) error {
	text := buf.String()
	for len(text) > s.width {
		cut := strings.LastIndexByte(text[:s.width+1], ' ')
		if cut <= 0 {
			cut = s.width
		}
		line := strings.TrimSpace(text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
		if line == "" {
			continue
		}
		if _, err := fmt.Fprintln(s.w, line); err != nil {
			return err
		}
	}
	buf.Reset()
	buf.WriteString(text)
	return nil
}

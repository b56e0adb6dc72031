package sinks

import (
	"streamd/internal/pipeline"
	"streamd/pkg/types"
)

const maxChatReplyLen = 450

// Speaker sends a message to a chat channel. *trigger.Chat satisfies this.
type Speaker interface {
	Say(channel, text string)
}

// ChatReply answers chat-sourced turns in the channel they came from.
// Failed turns and turns from other sources are ignored.
type ChatReply struct {
	speaker Speaker
}

func NewChatReply(speaker Speaker) *ChatReply {
	return &ChatReply{speaker: speaker}
}

func (s *ChatReply) Interest() pipeline.Interest { return pipeline.InterestFinals }

func (s *ChatReply) Accept(out pipeline.Output) error {
	if out.Kind != pipeline.KindFinal || out.Failed {
		return nil
	}
	if out.Source != types.SourceChat || out.ReplyTo == "" || out.Text == "" {
		return nil
	}
	text := out.Text
	if len(text) > maxChatReplyLen {
		text = truncateBytes(text, maxChatReplyLen-3) + "..."
	}
	s.speaker.Say(out.ReplyTo, text)
	return nil
}

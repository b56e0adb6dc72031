// Package prompt builds the bounded prompt sent to the inference backend
// from the fixed system instruction, retained history turns, and the current
// input. Assembly is deterministic: the same snapshot and input always yield
// a byte-identical prompt.
package prompt

import (
	"strings"

	"streamd/pkg/types"
)

// Format selects the chat-template wrappers applied around sections.
type Format string

const (
	FormatPlain  Format = ""
	FormatLlama2 Format = "llama2"
	FormatChatML Format = "chatml"
	FormatGemma  Format = "gemma"
)

// ParseFormat maps a config string to a Format, defaulting to plain.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "llama2":
		return FormatLlama2
	case "chatml":
		return FormatChatML
	case "gemma":
		return FormatGemma
	default:
		return FormatPlain
	}
}

// Assembler renders prompts under a byte budget.
type Assembler struct {
	System   string
	MaxBytes int
	Format   Format
}

// New constructs an Assembler. maxBytes of 0 means unbounded.
func New(system string, maxBytes int, format Format) *Assembler {
	return &Assembler{System: system, MaxBytes: maxBytes, Format: format}
}

// Build assembles system instruction + retained turns + current input.
// Whole turns are included newest-first until the next would exceed the
// budget; a turn is never split. System and input are always present even
// when that alone exceeds the budget.
func (a *Assembler) Build(snapshot []types.Turn, input string) string {
	sys := a.renderSystem()
	cur := a.renderInput(input)
	base := len(sys) + len(cur)

	var kept []string
	budget := a.MaxBytes
	for i := len(snapshot) - 1; i >= 0; i-- {
		t := a.renderTurn(snapshot[i])
		if budget > 0 && base+len(t) > budget {
			break
		}
		kept = append(kept, t)
		base += len(t)
	}

	var b strings.Builder
	b.WriteString(sys)
	// kept was gathered newest-first; emit oldest-first
	for i := len(kept) - 1; i >= 0; i-- {
		b.WriteString(kept[i])
	}
	b.WriteString(cur)
	return b.String()
}

func (a *Assembler) renderSystem() string {
	if a.System == "" {
		return ""
	}
	switch a.Format {
	case FormatLlama2:
		return "<<SYS>>\n" + a.System + "\n<</SYS>>\n"
	case FormatChatML:
		return "<|im_start|>system\n" + a.System + "<|im_end|>\n"
	case FormatGemma:
		return "<start_of_turn>system\n" + a.System + "<end_of_turn>\n"
	default:
		return a.System + "\n\n"
	}
}

func (a *Assembler) renderTurn(t types.Turn) string {
	switch a.Format {
	case FormatLlama2:
		return "[INST]" + t.Input + "[/INST]" + t.Response + "\n"
	case FormatChatML:
		return "<|im_start|>user\n" + t.Input + "<|im_end|>\n<|im_start|>assistant\n" + t.Response + "<|im_end|>\n"
	case FormatGemma:
		return "<start_of_turn>user\n" + t.Input + "<end_of_turn>\n<start_of_turn>model\n" + t.Response + "<end_of_turn>\n"
	default:
		return "User: " + t.Input + "\nAssistant: " + t.Response + "\n"
	}
}

func (a *Assembler) renderInput(input string) string {
	switch a.Format {
	case FormatLlama2:
		return "[INST]" + input + "[/INST]"
	case FormatChatML:
		return "<|im_start|>user\n" + input + "<|im_end|>\n<|im_start|>assistant\n"
	case FormatGemma:
		return "<start_of_turn>user\n" + input + "<end_of_turn>\n<start_of_turn>model\n"
	default:
		return "User: " + input + "\nAssistant:"
	}
}

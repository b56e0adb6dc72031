// Package history holds the bounded, ordered record of completed turns that
// feeds future prompt context. The buffer is the only mutable state shared
// across concurrent runners: appends are serialized behind a mutex and
// readers take a consistent copy.
package history

import (
	"fmt"
	"sync"

	"streamd/pkg/types"
)

// Buffer retains completed turns oldest-first under a byte budget and/or a
// turn-count budget. A zero budget on either axis disables that axis.
type Buffer struct {
	mu       sync.Mutex
	turns    []types.Turn
	size     int
	maxTurns int
	maxBytes int
	enabled  bool
}

// New constructs a Buffer. maxTurns and maxBytes of 0 mean unbounded on that
// axis. A disabled buffer ignores appends and always snapshots empty.
func New(maxTurns, maxBytes int, enabled bool) *Buffer {
	return &Buffer{maxTurns: maxTurns, maxBytes: maxBytes, enabled: enabled}
}

// Append inserts a completed turn, evicting oldest-first until it fits.
// The newly appended turn is never evicted: a turn larger than the whole
// byte budget is retained as the sole element.
func (b *Buffer) Append(t types.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return
	}
	cost := t.Size()
	for len(b.turns) > 0 && b.overBudget(len(b.turns)+1, b.size+cost) {
		b.evictFront()
	}
	b.turns = append(b.turns, t)
	b.size += cost
	b.check()
}

// Snapshot returns an ordered copy safe for concurrent use. Appenders are
// only blocked for the duration of the copy.
func (b *Buffer) Snapshot() []types.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.turns) == 0 {
		return nil
	}
	out := make([]types.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
	b.size = 0
}

// SetEnabled toggles history retention at runtime. Disabling clears the
// buffer so stale context cannot leak into later prompts.
func (b *Buffer) SetEnabled(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = v
	if !v {
		b.turns = nil
		b.size = 0
	}
}

// Len returns the number of retained turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// SizeBytes returns the serialized size of retained turns.
func (b *Buffer) SizeBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) overBudget(turns, bytes int) bool {
	if b.maxTurns > 0 && turns > b.maxTurns {
		return true
	}
	if b.maxBytes > 0 && bytes > b.maxBytes {
		return true
	}
	return false
}

func (b *Buffer) evictFront() {
	b.size -= b.turns[0].Size()
	b.turns = b.turns[1:]
}

// check panics when bookkeeping has diverged from the retained turns.
// A violated budget invariant is a programming error, not a runtime
// condition, so the process must restart rather than serve corrupt context.
func (b *Buffer) check() {
	if b.size < 0 {
		panic(fmt.Sprintf("history: negative size %d", b.size))
	}
	if b.maxBytes > 0 && b.size > b.maxBytes && len(b.turns) > 1 {
		panic(fmt.Sprintf("history: %d bytes retained over budget %d with %d turns", b.size, b.maxBytes, len(b.turns)))
	}
	if b.maxTurns > 0 && len(b.turns) > b.maxTurns {
		panic(fmt.Sprintf("history: %d turns retained over budget %d", len(b.turns), b.maxTurns))
	}
}

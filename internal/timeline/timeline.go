// internal/timeline/timeline.go

// Package timeline maintains the immutable, chronologically ordered record of
// finalized command blocks and agent messages for a session.
package timeline

import (
	"fmt"
	"sync"

	"github.com/user/termloom/internal/types"
)

// Timeline is the append-only entry list for one session. In-progress state
// never enters it; the live overlay is exposed separately by the session
// container so consumers of the timeline can never confuse the two. Appends
// come from the session's event lane while collapse toggles and reads come
// from other goroutines, so every method locks.
type Timeline struct {
	mu       sync.Mutex
	entries  []types.TimelineEntry
	commands map[string]*types.CommandBlock
}

// New creates an empty timeline.
func New() *Timeline {
	return &Timeline{commands: make(map[string]*types.CommandBlock)}
}

// AppendCommand appends a completed shell invocation. A block whose process
// has not exited yet (nil exit code) is rejected: unfinished commands belong
// to the live overlay, not the timeline.
func (t *Timeline) AppendCommand(cb *types.CommandBlock) error {
	if cb == nil {
		return fmt.Errorf("nil command block")
	}
	if cb.ExitCode == nil {
		return fmt.Errorf("command block %s has no exit code", cb.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.commands[cb.ID]; exists {
		return fmt.Errorf("command block already on timeline: %s", cb.ID)
	}
	cp := *cb
	t.commands[cp.ID] = &cp
	t.entries = append(t.entries, types.TimelineEntry{Type: types.EntryCommand, Command: &cp})
	return nil
}

// AppendMessage appends a finalized agent message.
func (t *Timeline) AppendMessage(msg *types.AgentMessage) error {
	if msg == nil {
		return fmt.Errorf("nil agent message")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, types.TimelineEntry{Type: types.EntryAgentMessage, Message: msg})
	return nil
}

// SetCollapsed toggles the one permitted post-append mutation on a command
// block.
func (t *Timeline) SetCollapsed(commandID string, collapsed bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.commands[commandID]
	if !ok {
		return fmt.Errorf("command block not on timeline: %s", commandID)
	}
	cb.Collapsed = collapsed
	return nil
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a copy of the entry list in append order. Command blocks
// are copied out because SetCollapsed may still mutate the originals;
// messages are immutable after append and shared as-is.
func (t *Timeline) Entries() []types.TimelineEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.TimelineEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e
		if e.Command != nil {
			cp := *e.Command
			out[i].Command = &cp
		}
	}
	return out
}

// internal/history/cursor.go

// Package history implements the per-session command history log and its
// navigation cursor.
package history

import (
	"strings"
	"sync"

	"github.com/user/termloom/internal/types"
)

// Cursor is an append-only log of submitted inputs with a bidirectional
// navigation index. An index of -1 means "not navigating"; index 0 is the
// most recent entry, growing toward the oldest. Adds and navigation happen
// on different goroutines (engine vs UI), so every method locks.
type Cursor struct {
	mu      sync.Mutex
	entries []types.CommandHistoryEntry
	index   int
}

// NewCursor creates an empty history cursor.
func NewCursor() *Cursor {
	return &Cursor{index: -1}
}

// Add appends a submitted input and resets navigation. Inputs that trim to
// empty are ignored.
func (c *Cursor) Add(command string, mode types.InputMode) {
	if strings.TrimSpace(command) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, types.CommandHistoryEntry{Command: command, Mode: mode})
	c.index = -1
}

// NavigateUp moves toward older entries, most recent first. At the oldest
// entry, repeated calls keep returning it without further state change.
// Returns nil on empty history.
func (c *Cursor) NavigateUp() *types.CommandHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	if c.index < len(c.entries)-1 {
		c.index++
	}
	return c.at(c.index)
}

// NavigateDown moves back toward newer entries. Returns nil and leaves the
// cursor idle when navigation runs off the newest entry.
func (c *Cursor) NavigateDown() *types.CommandHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index <= 0 {
		c.index = -1
		return nil
	}
	c.index--
	return c.at(c.index)
}

// Reset returns the cursor to the idle position without touching the log.
func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = -1
}

// Len returns the number of logged entries.
func (c *Cursor) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Index returns the current navigation position (-1 when idle).
func (c *Cursor) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Entries returns a copy of the full log, oldest first.
func (c *Cursor) Entries() []types.CommandHistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.CommandHistoryEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// at returns a copy of the entry index steps back from the newest, so callers
// can never mutate the log through a returned pointer.
func (c *Cursor) at(index int) *types.CommandHistoryEntry {
	entry := c.entries[len(c.entries)-1-index]
	return &entry
}

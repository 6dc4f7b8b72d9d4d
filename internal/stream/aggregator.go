// internal/stream/aggregator.go

// Package stream folds the AI delta stream into ordered blocks and finalizes
// them into immutable agent messages.
package stream

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/termloom/internal/types"
)

// Aggregator accumulates one in-progress streamed response for a single
// session. Deltas arrive from the session's event lane while approval
// decisions and rendering reads come from other goroutines, so every method
// locks; rendering reads copies via Blocks and Thinking.
type Aggregator struct {
	mu        sync.Mutex
	sessionID types.SessionID
	blocks    []types.Block
	toolIndex map[types.ToolCallID]int
	thinking  strings.Builder
	active    bool
	now       func() time.Time
}

// NewAggregator creates an empty aggregator for the given session.
func NewAggregator(sessionID types.SessionID) *Aggregator {
	return &Aggregator{
		sessionID: sessionID,
		toolIndex: make(map[types.ToolCallID]int),
		now:       time.Now,
	}
}

// OnTextDelta appends text to the open text block, or opens a new one when
// the last block is sealed or is a tool block. Ordering is never altered.
func (a *Aggregator) OnTextDelta(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
	if n := len(a.blocks); n > 0 && a.blocks[n-1].Type == types.BlockText {
		a.blocks[n-1].Content += text
		return
	}
	a.blocks = append(a.blocks, types.TextBlock(text))
}

// OnThinkingDelta appends to the session-scoped thinking buffer, which is
// kept apart from the block list and rendered separately.
func (a *Aggregator) OnThinkingDelta(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = true
	a.thinking.WriteString(text)
}

// OnToolRequest seals any open text block and opens a tool block. The caller
// decides the initial status: pending when approval is required, running
// otherwise.
func (a *Aggregator) OnToolRequest(tc *types.ToolCall) error {
	if tc == nil || tc.ID == "" {
		return fmt.Errorf("tool call missing id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.toolIndex[tc.ID]; exists {
		return fmt.Errorf("duplicate tool call id: %s", tc.ID)
	}
	a.active = true
	a.blocks = append(a.blocks, types.ToolBlock(tc))
	a.toolIndex[tc.ID] = len(a.blocks) - 1
	return nil
}

// SetToolStatus applies a lifecycle transition to the identified tool block,
// enforcing monotonicity. An unknown id is reported so the caller can log and
// drop it; an illegal transition is rejected the same way.
func (a *Aggregator) SetToolStatus(id types.ToolCallID, status types.ToolStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.toolIndex[id]
	if !ok {
		return fmt.Errorf("unknown tool call id: %s", id)
	}
	tc := a.blocks[i].Tool
	if !tc.Status.CanTransition(status) {
		return fmt.Errorf("illegal tool transition %s -> %s for %s", tc.Status, status, id)
	}
	tc.Status = status
	return nil
}

// OnToolResult resolves a tool block to completed or error. A result for an
// id this stream has never seen is a stale or duplicate delivery: it is
// logged and dropped without disturbing the stream.
func (a *Aggregator) OnToolResult(id types.ToolCallID, result []byte, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.toolIndex[id]
	if !ok {
		slog.Debug("tool result for unknown id dropped",
			"session_id", string(a.sessionID), "tool_call_id", string(id))
		return
	}
	tc := a.blocks[i].Tool
	next := types.ToolCompleted
	if !success {
		next = types.ToolError
	}
	// A result may land while the call is still pending (backend raced the
	// approval round trip); pass it through running first.
	if tc.Status == types.ToolPending || tc.Status == types.ToolApproved {
		tc.Status = types.ToolRunning
	}
	if !tc.Status.CanTransition(next) {
		slog.Warn("tool result ignored, call already terminal",
			"session_id", string(a.sessionID), "tool_call_id", string(id),
			"status", string(tc.Status))
		return
	}
	tc.Status = next
	if result != nil {
		tc.Result = append([]byte(nil), result...)
	}
}

// ToolCall returns a copy of the identified tool call, if this stream owns it.
func (a *Aggregator) ToolCall(id types.ToolCallID) (*types.ToolCall, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.toolIndex[id]
	if !ok {
		return nil, false
	}
	return a.blocks[i].Tool.Clone(), ok
}

// Blocks returns a deep copy of the accumulated block list for rendering.
func (a *Aggregator) Blocks() []types.Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneBlocks(a.blocks)
}

// Thinking returns the accumulated thinking buffer.
func (a *Aggregator) Thinking() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thinking.String()
}

// Active reports whether any delta has arrived since the last finalize.
func (a *Aggregator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Finalize seals the stream into an immutable assistant message and clears
// the live state. Finalizing with no accumulated deltas is a no-op returning
// nil, making the call idempotent.
func (a *Aggregator) Finalize() *types.AgentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return nil
	}

	var content strings.Builder
	for _, b := range a.blocks {
		if b.Type == types.BlockText {
			content.WriteString(b.Content)
		}
	}

	msg := &types.AgentMessage{
		ID:               types.NewMessageID(),
		Role:             types.RoleAssistant,
		Content:          content.String(),
		Timestamp:        a.now(),
		ThinkingContent:  a.thinking.String(),
		StreamingHistory: cloneBlocks(a.blocks),
	}

	a.blocks = nil
	a.toolIndex = make(map[types.ToolCallID]int)
	a.thinking.Reset()
	a.active = false
	return msg
}

func cloneBlocks(blocks []types.Block) []types.Block {
	out := make([]types.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if b.Type == types.BlockTool {
			out[i].Tool = b.Tool.Clone()
		}
	}
	return out
}

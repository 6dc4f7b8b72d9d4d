// internal/stream/aggregator_test.go
package stream

import (
	"encoding/json"
	"testing"

	"github.com/user/termloom/internal/types"
)

func newToolCall(name string) *types.ToolCall {
	return &types.ToolCall{
		ID:     types.NewToolCallID(),
		Name:   name,
		Args:   json.RawMessage(`{}`),
		Status: types.ToolPending,
		Source: types.MainSource(),
	}
}

func TestTextDeltaAccumulation(t *testing.T) {
	a := NewAggregator("s1")
	a.OnTextDelta("Hello, ")
	a.OnTextDelta("world")

	blocks := a.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Content != "Hello, world" {
		t.Errorf("expected accumulated text, got %q", blocks[0].Content)
	}
}

func TestToolRequestSealsTextBlock(t *testing.T) {
	a := NewAggregator("s1")
	a.OnTextDelta("before")
	if err := a.OnToolRequest(newToolCall("read_file")); err != nil {
		t.Fatal(err)
	}
	a.OnTextDelta("after")

	blocks := a.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Type != types.BlockText || blocks[1].Type != types.BlockTool || blocks[2].Type != types.BlockText {
		t.Errorf("unexpected block ordering: %v %v %v", blocks[0].Type, blocks[1].Type, blocks[2].Type)
	}
	if blocks[2].Content != "after" {
		t.Errorf("expected new text block after tool, got %q", blocks[2].Content)
	}
}

func TestDuplicateToolRequestRejected(t *testing.T) {
	a := NewAggregator("s1")
	tc := newToolCall("read_file")
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}
	if err := a.OnToolRequest(tc); err == nil {
		t.Error("expected duplicate tool id to be rejected")
	}
}

func TestToolResultResolvesBlock(t *testing.T) {
	a := NewAggregator("s1")
	tc := newToolCall("read_file")
	tc.Status = types.ToolRunning
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}

	a.OnToolResult(tc.ID, []byte(`"contents"`), true)
	got, ok := a.ToolCall(tc.ID)
	if !ok {
		t.Fatal("tool call not found")
	}
	if got.Status != types.ToolCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if string(got.Result) != `"contents"` {
		t.Errorf("unexpected result: %s", got.Result)
	}
}

func TestToolResultFailureSetsError(t *testing.T) {
	a := NewAggregator("s1")
	tc := newToolCall("bash")
	tc.Status = types.ToolRunning
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}

	a.OnToolResult(tc.ID, []byte(`"exit 1"`), false)
	got, _ := a.ToolCall(tc.ID)
	if got.Status != types.ToolError {
		t.Errorf("expected error, got %s", got.Status)
	}
}

func TestToolResultUnknownIDIsNoop(t *testing.T) {
	a := NewAggregator("s1")
	a.OnTextDelta("text")
	a.OnToolResult("nonexistent", []byte(`{}`), true)

	if len(a.Blocks()) != 1 {
		t.Error("unknown tool result must not disturb the stream")
	}
}

func TestToolResultAfterTerminalIgnored(t *testing.T) {
	a := NewAggregator("s1")
	tc := newToolCall("bash")
	tc.Status = types.ToolRunning
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}
	a.OnToolResult(tc.ID, []byte(`"ok"`), true)
	a.OnToolResult(tc.ID, []byte(`"late"`), false)

	got, _ := a.ToolCall(tc.ID)
	if got.Status != types.ToolCompleted {
		t.Errorf("terminal status must not regress, got %s", got.Status)
	}
	if string(got.Result) != `"ok"` {
		t.Errorf("late result overwrote terminal result: %s", got.Result)
	}
}

func TestSetToolStatusMonotonic(t *testing.T) {
	a := NewAggregator("s1")
	tc := newToolCall("write_file")
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}

	if err := a.SetToolStatus(tc.ID, types.ToolRunning); err != nil {
		t.Fatal(err)
	}
	if err := a.SetToolStatus(tc.ID, types.ToolPending); err == nil {
		t.Error("expected backward transition to be rejected")
	}
	if err := a.SetToolStatus("missing", types.ToolRunning); err == nil {
		t.Error("expected unknown id to be rejected")
	}
}

func TestFinalize(t *testing.T) {
	a := NewAggregator("s1")
	a.OnTextDelta("The answer ")
	a.OnThinkingDelta("let me think")
	tc := newToolCall("read_file")
	tc.Status = types.ToolRunning
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}
	a.OnToolResult(tc.ID, []byte(`"data"`), true)
	a.OnTextDelta("is 42.")

	msg := a.Finalize()
	if msg == nil {
		t.Fatal("expected a finalized message")
	}
	if msg.Role != types.RoleAssistant {
		t.Errorf("expected assistant role, got %s", msg.Role)
	}
	if msg.Content != "The answer is 42." {
		t.Errorf("unexpected content: %q", msg.Content)
	}
	if msg.ThinkingContent != "let me think" {
		t.Errorf("unexpected thinking: %q", msg.ThinkingContent)
	}
	if len(msg.StreamingHistory) != 3 {
		t.Errorf("expected 3 history blocks, got %d", len(msg.StreamingHistory))
	}

	// Live state is cleared and a second finalize is a no-op.
	if len(a.Blocks()) != 0 || a.Thinking() != "" {
		t.Error("expected live state cleared after finalize")
	}
	if again := a.Finalize(); again != nil {
		t.Error("expected idempotent finalize to return nil")
	}
}

func TestFinalizedHistoryIsDetached(t *testing.T) {
	a := NewAggregator("s1")
	tc := newToolCall("read_file")
	tc.Status = types.ToolRunning
	if err := a.OnToolRequest(tc); err != nil {
		t.Fatal(err)
	}
	msg := a.Finalize()

	// Mutating the caller's tool call must not reach the finalized history.
	tc.Status = types.ToolError
	if msg.StreamingHistory[0].Tool.Status != types.ToolRunning {
		t.Error("finalized history shares state with the live tool call")
	}
}

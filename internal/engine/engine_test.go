// internal/engine/engine_test.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/types"
)

// fakeBackend records every call so tests can assert on the outbound side.
type fakeBackend struct {
	mu        sync.Mutex
	responses []types.ApprovalResponse
	prompts   []types.PromptSubmission
	ptyWrites []string
	fail      bool
}

func (f *fakeBackend) RespondApproval(_ context.Context, resp types.ApprovalResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("connection refused")
	}
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeBackend) SubmitPrompt(_ context.Context, sub types.PromptSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, sub)
	return nil
}

func (f *fakeBackend) WritePTY(_ context.Context, _ types.SessionID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ptyWrites = append(f.ptyWrites, string(data))
	return nil
}

func (f *fakeBackend) ResizePTY(_ context.Context, _ types.SessionID, _, _ int) error {
	return nil
}

func (f *fakeBackend) lastResponse(t *testing.T) types.ApprovalResponse {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		t.Fatal("no approval responses sent")
	}
	return f.responses[len(f.responses)-1]
}

func newTestEngine(t *testing.T) (*Engine, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	recorder := approval.NewRecorder(t.TempDir())
	eng := New(session.NewRegistry(nil), approval.NewService(recorder), backend, nil, 2)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng, backend
}

func openSession(t *testing.T, eng *Engine, mode types.InputMode) types.SessionID {
	t.Helper()
	sess, err := eng.OpenSession(context.Background(), "/tmp", mode)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess.ID
}

func settle(t *testing.T, eng *Engine) {
	t.Helper()
	if !eng.WaitIdle(2 * time.Second) {
		t.Fatal("engine did not settle")
	}
}

func snapshot(t *testing.T, eng *Engine, id types.SessionID) session.Snapshot {
	t.Helper()
	st, ok := eng.Registry().Get(id)
	if !ok {
		t.Fatalf("session %s not open", id)
	}
	return st.Snapshot()
}

func TestTerminalCommandFlow(t *testing.T) {
	eng, backend := newTestEngine(t)
	id := openSession(t, eng, types.ModeTerminal)

	if err := eng.SubmitInput(context.Background(), id, "ls -la"); err != nil {
		t.Fatalf("submit input: %v", err)
	}
	backend.mu.Lock()
	if len(backend.ptyWrites) != 1 || backend.ptyWrites[0] != "ls -la\n" {
		t.Fatalf("pty writes = %q", backend.ptyWrites)
	}
	backend.mu.Unlock()

	eng.Dispatch(&types.Event{Type: types.EventCommandMarker, SessionID: id, Marker: types.MarkerCommandStart})
	eng.Dispatch(&types.Event{Type: types.EventTerminalOutput, SessionID: id, Data: "total 4\n"})
	settle(t, eng)

	// Output in flight lives in the overlay, not the timeline.
	snap := snapshot(t, eng, id)
	if len(snap.Timeline) != 0 {
		t.Fatalf("timeline has %d entries before command_end", len(snap.Timeline))
	}
	if snap.LiveCommand == nil || snap.LiveCommand.Output != "total 4\n" {
		t.Fatalf("live command = %+v", snap.LiveCommand)
	}
	if snap.LiveCommand.Command != "ls -la" {
		t.Fatalf("live command text = %q", snap.LiveCommand.Command)
	}

	exit := 0
	eng.Dispatch(&types.Event{
		Type: types.EventCommandMarker, SessionID: id,
		Marker: types.MarkerCommandEnd, ExitCode: &exit, DurationMS: 12,
	})
	settle(t, eng)

	snap = snapshot(t, eng, id)
	if snap.LiveCommand != nil {
		t.Fatal("live command still present after command_end")
	}
	if len(snap.Timeline) != 1 || snap.Timeline[0].Type != types.EntryCommand {
		t.Fatalf("timeline = %+v", snap.Timeline)
	}
	cb := snap.Timeline[0].Command
	if cb.ExitCode == nil || *cb.ExitCode != 0 || cb.Output != "total 4\n" || cb.DurationMS != 12 {
		t.Fatalf("command block = %+v", cb)
	}
}

func TestCommandEndWithoutExitCodeDropped(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := openSession(t, eng, types.ModeTerminal)

	eng.Dispatch(&types.Event{Type: types.EventCommandMarker, SessionID: id, Marker: types.MarkerCommandStart})
	eng.Dispatch(&types.Event{Type: types.EventCommandMarker, SessionID: id, Marker: types.MarkerCommandEnd})
	settle(t, eng)

	if n := snapshot(t, eng, id).Timeline; len(n) != 0 {
		t.Fatalf("timeline = %+v", n)
	}
}

func TestAgentTurn(t *testing.T) {
	eng, backend := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	if err := eng.SubmitInput(context.Background(), id, "explain this file"); err != nil {
		t.Fatalf("submit input: %v", err)
	}

	// The user message appears immediately, before any backend event.
	snap := snapshot(t, eng, id)
	if len(snap.Timeline) != 1 || snap.Timeline[0].Message.Role != types.RoleUser {
		t.Fatalf("timeline after submit = %+v", snap.Timeline)
	}
	backend.mu.Lock()
	if len(backend.prompts) != 1 || backend.prompts[0].Text != "explain this file" {
		t.Fatalf("prompts = %+v", backend.prompts)
	}
	backend.mu.Unlock()

	eng.Dispatch(&types.Event{Type: types.EventTextDelta, SessionID: id, Delta: "It reads"})
	eng.Dispatch(&types.Event{Type: types.EventTextDelta, SessionID: id, Delta: " the config."})
	eng.Dispatch(&types.Event{Type: types.EventThinkingDelta, SessionID: id, Delta: "scanning"})
	settle(t, eng)

	snap = snapshot(t, eng, id)
	if len(snap.Timeline) != 1 {
		t.Fatal("assistant message appeared before stream_completed")
	}
	if len(snap.Streaming) != 1 || snap.Streaming[0].Content != "It reads the config." {
		t.Fatalf("streaming blocks = %+v", snap.Streaming)
	}
	if snap.Thinking != "scanning" {
		t.Fatalf("thinking = %q", snap.Thinking)
	}

	eng.Dispatch(&types.Event{Type: types.EventStreamDone, SessionID: id})
	settle(t, eng)

	snap = snapshot(t, eng, id)
	if len(snap.Timeline) != 2 {
		t.Fatalf("timeline = %+v", snap.Timeline)
	}
	msg := snap.Timeline[1].Message
	if msg.Role != types.RoleAssistant || msg.Content != "It reads the config." {
		t.Fatalf("assistant message = %+v", msg)
	}
	if msg.ThinkingContent != "scanning" {
		t.Fatalf("thinking content = %q", msg.ThinkingContent)
	}
	if len(snap.Streaming) != 0 || snap.Thinking != "" {
		t.Fatal("streaming state not cleared after finalize")
	}

	// A second stream_completed with nothing in flight is a no-op.
	eng.Dispatch(&types.Event{Type: types.EventStreamDone, SessionID: id})
	settle(t, eng)
	if n := len(snapshot(t, eng, id).Timeline); n != 2 {
		t.Fatalf("timeline grew to %d after idle finalize", n)
	}
}

func dispatchToolRequest(eng *Engine, id types.SessionID, reqID types.RequestID, tool string) {
	eng.Dispatch(&types.Event{
		Type: types.EventToolRequest, SessionID: id,
		RequestID: reqID, ToolName: tool,
		Args: json.RawMessage(`{"path":"main.go"}`),
	})
}

func streamTool(t *testing.T, eng *Engine, id types.SessionID) *types.ToolCall {
	t.Helper()
	for _, b := range snapshot(t, eng, id).Streaming {
		if b.Type == types.BlockTool {
			return b.Tool
		}
	}
	t.Fatal("no tool block in stream")
	return nil
}

func TestApproveFlow(t *testing.T) {
	eng, backend := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	dispatchToolRequest(eng, id, "req-1", "write_file")
	settle(t, eng)

	tc := streamTool(t, eng, id)
	if tc.Status != types.ToolPending {
		t.Fatalf("status = %s, want pending", tc.Status)
	}
	if tc.RiskLevel != types.RiskMedium {
		t.Fatalf("risk = %s, want medium", tc.RiskLevel)
	}
	pending := eng.Approvals().Pending(id)
	if len(pending) != 1 || pending[0].RequestID != "req-1" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := eng.Approve(id, "req-1", false); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := streamTool(t, eng, id).Status; got != types.ToolRunning {
		t.Fatalf("status = %s, want running", got)
	}
	resp := backend.lastResponse(t)
	if !resp.Approved || resp.RequestID != "req-1" || resp.AlwaysAllow {
		t.Fatalf("response = %+v", resp)
	}
	if len(eng.Approvals().Pending(id)) != 0 {
		t.Fatal("request still pending after approval")
	}

	// Second approval of the same request fails: it was consumed.
	if err := eng.Approve(id, "req-1", false); err == nil {
		t.Fatal("expected error approving consumed request")
	}

	eng.Dispatch(&types.Event{
		Type: types.EventToolResult, SessionID: id,
		RequestID: "req-1", Result: json.RawMessage(`"ok"`), Success: true,
	})
	settle(t, eng)
	if got := streamTool(t, eng, id).Status; got != types.ToolCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestDenyFlow(t *testing.T) {
	eng, backend := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	dispatchToolRequest(eng, id, "req-2", "delete_file")
	settle(t, eng)

	if err := eng.Deny(id, "req-2"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	if got := streamTool(t, eng, id).Status; got != types.ToolDenied {
		t.Fatalf("status = %s, want denied", got)
	}
	resp := backend.lastResponse(t)
	if resp.Approved || resp.RequestID != "req-2" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAlwaysAllowAutoApproves(t *testing.T) {
	eng, backend := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	// read_file is on the default always-allow list.
	dispatchToolRequest(eng, id, "req-3", "read_file")
	settle(t, eng)

	if got := streamTool(t, eng, id).Status; got != types.ToolRunning {
		t.Fatalf("status = %s, want running", got)
	}
	if len(eng.Approvals().Pending(id)) != 0 {
		t.Fatal("auto-approved tool left a pending request")
	}
	resp := backend.lastResponse(t)
	if !resp.Approved || resp.Remember {
		t.Fatalf("response = %+v", resp)
	}
}

func TestLearnedPatternAutoApproves(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	rec := eng.Approvals().Recorder()
	for i := 0; i < 3; i++ {
		if err := rec.RecordDecision("write_file", true, false); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	dispatchToolRequest(eng, id, "req-4", "write_file")
	settle(t, eng)

	if got := streamTool(t, eng, id).Status; got != types.ToolRunning {
		t.Fatalf("status = %s, want running", got)
	}
}

func TestDuplicateToolRequestSuppressed(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	dispatchToolRequest(eng, id, "req-5", "write_file")
	settle(t, eng)
	if err := eng.Approve(id, "req-5", false); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Redelivery of the processed request must not re-open an approval.
	dispatchToolRequest(eng, id, "req-5", "write_file")
	settle(t, eng)
	if n := len(eng.Approvals().Pending(id)); n != 0 {
		t.Fatalf("pending = %d after redelivery", n)
	}
	if got := streamTool(t, eng, id).Status; got != types.ToolRunning {
		t.Fatalf("status = %s after redelivery", got)
	}
}

func TestTransportFailureIsNonFatal(t *testing.T) {
	eng, backend := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	var warnings []session.Note
	var mu sync.Mutex
	sub := eng.Registry().Subscribe(func(n session.Note) {
		if n.Kind == session.NoteWarning {
			mu.Lock()
			warnings = append(warnings, n)
			mu.Unlock()
		}
	})
	defer sub.Cancel()

	dispatchToolRequest(eng, id, "req-6", "write_file")
	settle(t, eng)

	backend.mu.Lock()
	backend.fail = true
	backend.mu.Unlock()

	if err := eng.Approve(id, "req-6", false); err != nil {
		t.Fatalf("approve returned error on transport failure: %v", err)
	}
	// The local transition survives the failed send.
	if got := streamTool(t, eng, id).Status; got != types.ToolRunning {
		t.Fatalf("status = %s, want running", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(warnings) == 0 {
		t.Fatal("no warning note published")
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	eng.Dispatch(&types.Event{
		Type: types.EventWorkflow, SessionID: id,
		Phase: types.WorkflowStarted, WorkflowID: "wf-1", WorkflowName: "refactor", TotalSteps: 2,
	})
	eng.Dispatch(&types.Event{
		Type: types.EventWorkflow, SessionID: id,
		Phase: types.WorkflowStepStarted, WorkflowID: "wf-1", StepName: "scan", StepIndex: 0,
	})
	eng.Dispatch(&types.Event{
		Type: types.EventWorkflow, SessionID: id,
		Phase: types.WorkflowStepCompleted, WorkflowID: "wf-1", StepIndex: 0,
	})
	// A tool call attributed to the workflow, then completion.
	eng.Dispatch(&types.Event{
		Type: types.EventToolRequest, SessionID: id,
		RequestID: "req-7", ToolName: "read_file",
		Source: &types.ToolSource{Type: types.SourceWorkflow, WorkflowID: "wf-1"},
	})
	eng.Dispatch(&types.Event{
		Type: types.EventWorkflow, SessionID: id,
		Phase: types.WorkflowCompleted, WorkflowID: "wf-1",
	})
	settle(t, eng)

	snap := snapshot(t, eng, id)
	if len(snap.Workflows) != 1 {
		t.Fatalf("workflows = %+v", snap.Workflows)
	}
	wf := snap.Workflows[0]
	if len(wf.ToolCalls) != 1 || wf.ToolCalls[0].ID != "req-7" {
		t.Fatalf("workflow tool calls = %+v", wf.ToolCalls)
	}
}

func TestSessionLifecycleEvents(t *testing.T) {
	eng, _ := newTestEngine(t)

	// session_started creates the container.
	eng.Dispatch(&types.Event{
		Type: types.EventLifecycle, SessionID: "sess-ext",
		Kind: types.LifecycleSessionStarted,
	})
	settle(t, eng)
	if _, ok := eng.Registry().Get("sess-ext"); !ok {
		t.Fatal("session not created from lifecycle event")
	}

	eng.Dispatch(&types.Event{
		Type: types.EventLifecycle, SessionID: "sess-ext",
		Kind: types.LifecycleSessionEnded,
	})
	settle(t, eng)
	if _, ok := eng.Registry().Get("sess-ext"); ok {
		t.Fatal("session still open after session_ended")
	}

	// Events after close are silent no-ops.
	eng.Dispatch(&types.Event{Type: types.EventTextDelta, SessionID: "sess-ext", Delta: "late"})
	settle(t, eng)
}

func TestUnknownSessionEventDropped(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Dispatch(&types.Event{Type: types.EventTextDelta, SessionID: "ghost", Delta: "x"})
	settle(t, eng)
}

func TestStreamErrorFinalizesTurn(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	eng.Dispatch(&types.Event{Type: types.EventTextDelta, SessionID: id, Delta: "partial"})
	eng.Dispatch(&types.Event{
		Type: types.EventStreamError, SessionID: id,
		ErrorType: "overloaded", Message: "server busy",
	})
	settle(t, eng)

	snap := snapshot(t, eng, id)
	if len(snap.Timeline) != 1 {
		t.Fatalf("timeline = %+v", snap.Timeline)
	}
	msg := snap.Timeline[0].Message
	if msg.Content != "partial\n[overloaded] server busy" {
		t.Fatalf("content = %q", msg.Content)
	}
	if len(snap.Streaming) != 0 {
		t.Fatal("stream still active after error")
	}
}

// TestConcurrentReadsDuringStream drives a delta flood through the lane while
// another goroutine snapshots, navigates history, toggles collapse, and
// decides an approval. Meaningful under the race detector; the final
// assertions hold either way.
func TestConcurrentReadsDuringStream(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := openSession(t, eng, types.ModeAgent)

	if err := eng.SubmitInput(context.Background(), id, "explain this file"); err != nil {
		t.Fatalf("submit input: %v", err)
	}
	dispatchToolRequest(eng, id, "req-c", "write_file")
	settle(t, eng)

	// A finished command so collapse toggles have a target.
	exit := 0
	eng.Dispatch(&types.Event{Type: types.EventCommandMarker, SessionID: id, Marker: types.MarkerCommandStart})
	eng.Dispatch(&types.Event{
		Type: types.EventCommandMarker, SessionID: id,
		Marker: types.MarkerCommandEnd, ExitCode: &exit,
	})
	settle(t, eng)
	var commandID string
	for _, entry := range snapshot(t, eng, id).Timeline {
		if entry.Type == types.EntryCommand {
			commandID = entry.Command.ID
		}
	}
	if commandID == "" {
		t.Fatal("no command block on timeline")
	}

	const deltas = 1000
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; i < deltas; i++ {
			eng.Dispatch(&types.Event{Type: types.EventTextDelta, SessionID: id, Delta: "x"})
			eng.Dispatch(&types.Event{Type: types.EventThinkingDelta, SessionID: id, Delta: "y"})
		}
	}()

	st, ok := eng.Registry().Get(id)
	if !ok {
		t.Fatal("session not open")
	}
	approved := false
reads:
	for {
		snap := st.Snapshot()
		for _, b := range snap.Streaming {
			_ = b.Content
		}
		st.History.NavigateUp()
		st.History.NavigateDown()
		collapsed := false
		for _, entry := range snap.Timeline {
			if entry.Type == types.EntryCommand {
				collapsed = entry.Command.Collapsed
			}
		}
		if err := st.Timeline.SetCollapsed(commandID, !collapsed); err != nil {
			t.Errorf("set collapsed: %v", err)
			break reads
		}
		if !approved && len(eng.Approvals().Pending(id)) > 0 {
			if err := eng.Approve(id, "req-c", false); err != nil {
				t.Errorf("approve: %v", err)
			}
			approved = true
		}
		select {
		case <-writerDone:
			break reads
		default:
		}
	}
	<-writerDone

	eng.Dispatch(&types.Event{Type: types.EventStreamDone, SessionID: id})
	settle(t, eng)

	if !approved {
		t.Fatal("approval never decided")
	}
	snap := snapshot(t, eng, id)
	// user message + command + assistant message, in ingestion order.
	if len(snap.Timeline) != 3 {
		t.Fatalf("timeline has %d entries", len(snap.Timeline))
	}
	msg := snap.Timeline[2].Message
	if len(msg.Content) != deltas {
		t.Fatalf("content length = %d, want %d", len(msg.Content), deltas)
	}
	if len(msg.ThinkingContent) != deltas {
		t.Fatalf("thinking length = %d, want %d", len(msg.ThinkingContent), deltas)
	}
	var tool *types.ToolCall
	for _, b := range msg.StreamingHistory {
		if b.Type == types.BlockTool {
			tool = b.Tool
		}
	}
	if tool == nil || tool.Status != types.ToolRunning {
		t.Fatalf("tool block = %+v", tool)
	}
}

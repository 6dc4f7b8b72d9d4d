// internal/backend/local.go
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/user/termloom/internal/types"
)

type pendingCall struct {
	sessionID types.SessionID
	tool      string
	args      json.RawMessage
	source    *types.ToolSource
}

// Local is an in-process backend loopback. It has no model attached: tool
// requests are announced by the host program, executed locally once
// approved, and terminal input runs through bash with synthesized command
// markers. Useful for headless operation and tests.
type Local struct {
	sink func(*types.Event)

	mu        sync.Mutex
	executors map[string]Executor
	pending   map[types.RequestID]pendingCall
	workdirs  map[types.SessionID]string
	resolve   func(types.SessionID) string
}

// NewLocal creates a loopback backend that feeds events into sink, normally
// the engine's Dispatch.
func NewLocal(sink func(*types.Event)) *Local {
	return &Local{
		sink:      sink,
		executors: make(map[string]Executor),
		pending:   make(map[types.RequestID]pendingCall),
		workdirs:  make(map[types.SessionID]string),
	}
}

// RegisterExecutor adds a tool executor. Later registrations with the same
// name replace earlier ones.
func (l *Local) RegisterExecutor(ex Executor) {
	l.mu.Lock()
	l.executors[ex.Name()] = ex
	l.mu.Unlock()
}

// SetWorkingDirectory sets the directory terminal commands run in for a
// session.
func (l *Local) SetWorkingDirectory(id types.SessionID, dir string) {
	l.mu.Lock()
	l.workdirs[id] = dir
	l.mu.Unlock()
}

// SetDirResolver installs a fallback used when no directory was set
// explicitly, typically a lookup against the session registry.
func (l *Local) SetDirResolver(fn func(types.SessionID) string) {
	l.mu.Lock()
	l.resolve = fn
	l.mu.Unlock()
}

// AnnounceTool emits a tool_request event and remembers the call until an
// approval response arrives.
func (l *Local) AnnounceTool(id types.SessionID, tool string, args json.RawMessage, source *types.ToolSource) types.RequestID {
	reqID := types.NewRequestID()
	l.mu.Lock()
	l.pending[reqID] = pendingCall{sessionID: id, tool: tool, args: args, source: source}
	l.mu.Unlock()

	l.sink(&types.Event{
		Type:      types.EventToolRequest,
		SessionID: id,
		RequestID: reqID,
		ToolName:  tool,
		Args:      args,
		Source:    source,
	})
	return reqID
}

// RespondApproval executes the pending call when approved and emits the
// tool_result. A denial just forgets the call. Unknown request ids are
// ignored so redelivered responses stay harmless.
func (l *Local) RespondApproval(ctx context.Context, resp types.ApprovalResponse) error {
	l.mu.Lock()
	call, ok := l.pending[resp.RequestID]
	delete(l.pending, resp.RequestID)
	ex := l.executors[call.tool]
	l.mu.Unlock()

	if !ok || !resp.Approved {
		return nil
	}
	if ex == nil {
		l.emitResult(call.sessionID, resp.RequestID, fmt.Sprintf("unknown tool: %s", call.tool), false)
		return nil
	}

	output, err := ex.Execute(ctx, call.args)
	if err != nil {
		l.emitResult(call.sessionID, resp.RequestID, err.Error(), false)
		return nil
	}
	l.emitResult(call.sessionID, resp.RequestID, output, true)
	return nil
}

func (l *Local) emitResult(id types.SessionID, reqID types.RequestID, output string, success bool) {
	result, err := json.Marshal(output)
	if err != nil {
		result = json.RawMessage(`""`)
	}
	l.sink(&types.Event{
		Type:      types.EventToolResult,
		SessionID: id,
		RequestID: reqID,
		Result:    result,
		Success:   success,
	})
}

// SubmitPrompt always fails: the loopback has no model attached.
func (l *Local) SubmitPrompt(_ context.Context, _ types.PromptSubmission) error {
	return errors.New("no agent attached to local backend")
}

// WritePTY runs the submitted line through bash and synthesizes the command
// marker events a PTY integration would produce.
func (l *Local) WritePTY(ctx context.Context, id types.SessionID, data []byte) error {
	command := string(data)
	if n := len(command); n > 0 && command[n-1] == '\n' {
		command = command[:n-1]
	}
	l.mu.Lock()
	dir := l.workdirs[id]
	resolve := l.resolve
	l.mu.Unlock()
	if dir == "" && resolve != nil {
		dir = resolve(id)
	}

	l.sink(&types.Event{
		Type: types.EventCommandMarker, SessionID: id, Marker: types.MarkerCommandStart,
	})

	start := time.Now()
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()

	exit := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exit = exitErr.ExitCode()
		} else {
			exit = 127
			output = append(output, []byte(err.Error()+"\n")...)
		}
	}

	if len(output) > 0 {
		l.sink(&types.Event{
			Type: types.EventTerminalOutput, SessionID: id, Data: string(output),
		})
	}
	l.sink(&types.Event{
		Type: types.EventCommandMarker, SessionID: id, Marker: types.MarkerCommandEnd,
		ExitCode: &exit, DurationMS: time.Since(start).Milliseconds(),
	})
	return nil
}

// ResizePTY is a no-op: the loopback has no real terminal to resize.
func (l *Local) ResizePTY(_ context.Context, _ types.SessionID, _, _ int) error {
	return nil
}

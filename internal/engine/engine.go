// internal/engine/engine.go

// Package engine ingests backend events, routes them through per-session
// serial lanes, and orchestrates the session registry, streaming aggregator,
// approval service, workflow tracker, and timeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/types"
)

// Engine is the session timeline and tool-execution engine. Event-driven
// mutation for a session happens on that session's lane goroutine, in order.
// Public methods that mutate (SubmitInput, Approve, Deny) run on the caller's
// goroutine; they and the lane both go through the per-component locking
// inside the state container, so all are safe to call concurrently.
type Engine struct {
	registry  *session.Registry
	approvals *approval.Service
	backend   types.Backend
	store     types.Store
	lanes     *lanes
	retry     *RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Engine wired to the given collaborators. store may be nil
// when persistence is disabled.
func New(registry *session.Registry, approvals *approval.Service, backend types.Backend, store types.Store, maxConcurrent int64) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	e := &Engine{
		registry:  registry,
		approvals: approvals,
		backend:   backend,
		store:     store,
		lanes:     newLanes(maxConcurrent),
		retry:     DefaultRetryPolicy(),
	}
	e.lanes.processor = e.process
	return e
}

// Registry exposes the session registry for read access and subscriptions.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// Approvals exposes the approval service for read access.
func (e *Engine) Approvals() *approval.Service {
	return e.approvals
}

// Start initialises the engine's context and lanes.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.lanes.start(e.ctx)
}

// Stop cancels the engine context and waits for lane goroutines to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.lanes.stop()
}

// WaitIdle blocks until all queued events have been processed or the timeout
// expires. Intended for tests and shutdown.
func (e *Engine) WaitIdle(timeout time.Duration) bool {
	return e.lanes.waitIdle(timeout)
}

// OpenSession creates a session and persists its record.
func (e *Engine) OpenSession(ctx context.Context, workingDirectory string, mode types.InputMode) (types.Session, error) {
	st, err := e.registry.Open("", workingDirectory, mode)
	if err != nil {
		return types.Session{}, err
	}
	sess := st.Session()
	if e.store != nil {
		if err := e.store.SaveSession(ctx, &sess); err != nil {
			slog.Warn("persist session failed", "session_id", string(sess.ID), "error", err)
		}
	}
	return sess, nil
}

// CloseSession tears down all per-session state synchronously: the lane is
// closed, approval bookkeeping evicted, and the container removed. Any event
// or approval response arriving afterwards is a silent no-op.
func (e *Engine) CloseSession(id types.SessionID) bool {
	e.lanes.closeLane(id)
	e.approvals.EvictSession(id)
	return e.registry.Close(id)
}

// Dispatch enqueues an inbound event onto its session's lane. Events for a
// session that is not open are dropped silently.
func (e *Engine) Dispatch(ev *types.Event) {
	if ev == nil {
		return
	}
	// session_started is the one event allowed to precede the container.
	if ev.Type == types.EventLifecycle && ev.Kind == types.LifecycleSessionStarted {
		if _, ok := e.registry.Get(ev.SessionID); !ok {
			if _, err := e.registry.Open(ev.SessionID, "", types.ModeTerminal); err != nil {
				slog.Warn("open session from lifecycle event failed", "error", err)
				return
			}
		}
	}
	if _, ok := e.registry.Get(ev.SessionID); !ok {
		slog.Debug("event for unknown session dropped",
			"session_id", string(ev.SessionID), "type", string(ev.Type))
		return
	}
	if err := e.lanes.enqueue(ev); err != nil {
		slog.Error("enqueue event failed", "session_id", string(ev.SessionID), "error", err)
	}
}

// process handles one event to completion. It runs on the session's lane
// goroutine; no other event for the same session is interleaved.
func (e *Engine) process(ev *types.Event) {
	st, ok := e.registry.Get(ev.SessionID)
	if !ok {
		// Session closed while the event sat in the lane.
		return
	}

	switch ev.Type {
	case types.EventTerminalOutput:
		st.AppendCommandOutput(ev.Data)
		e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: ev.SessionID})

	case types.EventCommandMarker:
		e.handleCommandMarker(st, ev)

	case types.EventStreamStarted:
		// The first delta opens the stream implicitly; nothing to do.

	case types.EventTextDelta:
		st.Stream.OnTextDelta(ev.Delta)
		e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: ev.SessionID})

	case types.EventThinkingDelta:
		st.Stream.OnThinkingDelta(ev.Delta)
		e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: ev.SessionID})

	case types.EventToolRequest:
		e.handleToolRequest(st, ev)

	case types.EventToolResult:
		st.Stream.OnToolResult(types.ToolCallID(ev.RequestID), ev.Result, ev.Success)
		e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: ev.SessionID})

	case types.EventStreamError:
		// A stream error ends the turn: record it and finalize what we have.
		st.Stream.OnTextDelta(fmt.Sprintf("\n[%s] %s", ev.ErrorType, ev.Message))
		e.finalizeStream(st)
		e.registry.Publish(session.Note{
			Kind: session.NoteWarning, SessionID: ev.SessionID, Message: ev.Message,
		})

	case types.EventStreamDone:
		e.finalizeStream(st)

	case types.EventWorkflow:
		e.handleWorkflow(st, ev)

	case types.EventLifecycle:
		e.handleLifecycle(ev)

	default:
		// DecodeEvent rejects unknown tags, but adapters may construct
		// events directly; drop rather than abort the stream.
		slog.Warn("malformed event dropped",
			"session_id", string(ev.SessionID), "type", string(ev.Type))
	}
}

func (e *Engine) handleCommandMarker(st *session.State, ev *types.Event) {
	switch ev.Marker {
	case types.MarkerPromptStart, types.MarkerPromptEnd:
		// Prompt regions carry no state the engine tracks.

	case types.MarkerCommandStart:
		st.BeginCommand(time.Now())
		e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: ev.SessionID})

	case types.MarkerCommandEnd:
		if ev.ExitCode == nil {
			slog.Warn("command_end without exit code dropped", "session_id", string(ev.SessionID))
			return
		}
		cb := st.FinishCommand(*ev.ExitCode, ev.DurationMS, time.Now())
		if cb == nil {
			slog.Warn("command_end with no open command dropped", "session_id", string(ev.SessionID))
			return
		}
		if err := st.Timeline.AppendCommand(cb); err != nil {
			slog.Error("append command block failed", "session_id", string(ev.SessionID), "error", err)
			return
		}
		e.persistEntry(ev.SessionID, types.TimelineEntry{Type: types.EntryCommand, Command: cb})
		e.registry.Publish(session.Note{Kind: session.NoteTimeline, SessionID: ev.SessionID})

	default:
		slog.Warn("unknown command marker dropped",
			"session_id", string(ev.SessionID), "marker", string(ev.Marker))
	}
}

func (e *Engine) handleToolRequest(st *session.State, ev *types.Event) {
	source := types.MainSource()
	if ev.Source != nil {
		source = *ev.Source
	}
	tc := &types.ToolCall{
		ID:        types.ToolCallID(ev.RequestID),
		Name:      ev.ToolName,
		Args:      ev.Args,
		Status:    types.ToolPending,
		RiskLevel: approval.RiskForTool(ev.ToolName),
		Source:    source,
	}

	auto := e.approvals.Recorder().ShouldAutoApprove(tc.Name)
	if auto {
		tc.Status = types.ToolRunning
	}

	if err := st.Stream.OnToolRequest(tc); err != nil {
		// Duplicate delivery of a tool request already in the stream.
		slog.Debug("tool request dropped", "session_id", string(ev.SessionID), "error", err)
		return
	}
	e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: ev.SessionID})

	if auto {
		e.respond(ev.SessionID, types.ApprovalResponse{
			RequestID: ev.RequestID, Approved: true, Remember: false, AlwaysAllow: false,
		})
		return
	}

	if _, ok := e.approvals.BuildRequest(ev.SessionID, ev.RequestID, tc); !ok {
		// Processed before: suppress re-display of the approval UI.
		return
	}
	e.registry.Publish(session.Note{Kind: session.NoteApproval, SessionID: ev.SessionID})
}

func (e *Engine) handleWorkflow(st *session.State, ev *types.Event) {
	var err error
	switch ev.Phase {
	case types.WorkflowStarted:
		st.Workflows.Start(ev.WorkflowID, ev.WorkflowName, ev.TotalSteps)
	case types.WorkflowStepStarted:
		err = st.Workflows.StepStarted(ev.WorkflowID, ev.StepName, ev.StepIndex)
	case types.WorkflowStepCompleted:
		err = st.Workflows.StepFinished(ev.WorkflowID, ev.StepIndex, false)
	case types.WorkflowStepFailed:
		err = st.Workflows.StepFinished(ev.WorkflowID, ev.StepIndex, true)
	case types.WorkflowCompleted:
		err = st.Workflows.Finish(ev.WorkflowID, "", e.sessionToolCalls(st))
	case types.WorkflowFailed:
		msg := ev.Error
		if msg == "" {
			msg = "workflow failed"
		}
		err = st.Workflows.Finish(ev.WorkflowID, msg, e.sessionToolCalls(st))
	default:
		slog.Warn("unknown workflow phase dropped",
			"session_id", string(ev.SessionID), "phase", string(ev.Phase))
		return
	}
	if err != nil {
		slog.Warn("workflow event dropped", "session_id", string(ev.SessionID), "error", err)
		return
	}
	e.registry.Publish(session.Note{Kind: session.NoteWorkflow, SessionID: ev.SessionID})
}

func (e *Engine) handleLifecycle(ev *types.Event) {
	switch ev.Kind {
	case types.LifecycleSessionStarted:
		// Container created in Dispatch.
		e.registry.Publish(session.Note{Kind: session.NoteSessionOpened, SessionID: ev.SessionID})
	case types.LifecycleSessionEnded:
		e.CloseSession(ev.SessionID)
	default:
		// Patch/artifact lifecycle: subscribers re-fetch sidecar state.
		e.registry.Publish(session.Note{
			Kind: session.NoteSidecar, SessionID: ev.SessionID, Lifecycle: ev.Kind,
		})
	}
}

// finalizeStream seals the in-progress response into an immutable message and
// appends it to the timeline. Finalizing an inactive stream is a no-op.
func (e *Engine) finalizeStream(st *session.State) {
	msg := st.Stream.Finalize()
	if msg == nil {
		return
	}
	sess := st.Session()
	if st.Meter != nil {
		st.Meter.Consume(msg.Content)
		st.Meter.Consume(msg.ThinkingContent)
	}
	if err := st.Timeline.AppendMessage(msg); err != nil {
		slog.Error("append agent message failed", "session_id", string(sess.ID), "error", err)
		return
	}
	e.persistEntry(sess.ID, types.TimelineEntry{Type: types.EntryAgentMessage, Message: msg})
	e.registry.Publish(session.Note{Kind: session.NoteTimeline, SessionID: sess.ID})
}

// sessionToolCalls collects every tool call the session currently knows:
// live stream blocks plus the streaming histories of finalized messages.
func (e *Engine) sessionToolCalls(st *session.State) []*types.ToolCall {
	snap := st.Snapshot()
	var out []*types.ToolCall
	for _, entry := range snap.Timeline {
		if entry.Type != types.EntryAgentMessage {
			continue
		}
		for _, b := range entry.Message.StreamingHistory {
			if b.Type == types.BlockTool {
				out = append(out, b.Tool)
			}
		}
	}
	for _, b := range snap.Streaming {
		if b.Type == types.BlockTool {
			out = append(out, b.Tool)
		}
	}
	return out
}

// SubmitInput routes user input according to the session's mode. Terminal
// input is written to the PTY; agent input is recorded as a user message
// immediately and submitted as a prompt. Either way the input lands in the
// command history.
func (e *Engine) SubmitInput(ctx context.Context, id types.SessionID, text string) error {
	st, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("session not open: %s", id)
	}
	sess := st.Session()

	st.History.Add(text, sess.Mode)
	if e.store != nil {
		entry := types.CommandHistoryEntry{Command: text, Mode: sess.Mode}
		if err := e.store.AppendHistory(ctx, id, entry); err != nil {
			slog.Warn("persist history failed", "session_id", string(id), "error", err)
		}
	}

	switch sess.Mode {
	case types.ModeTerminal:
		st.SetLastInput(text)
		if err := e.backend.WritePTY(ctx, id, []byte(text+"\n")); err != nil {
			return fmt.Errorf("write pty: %w", err)
		}
		return nil

	case types.ModeAgent:
		msg := &types.AgentMessage{
			ID:        types.NewMessageID(),
			Role:      types.RoleUser,
			Content:   text,
			Timestamp: time.Now(),
		}
		if err := st.Timeline.AppendMessage(msg); err != nil {
			return err
		}
		e.persistEntry(id, types.TimelineEntry{Type: types.EntryAgentMessage, Message: msg})
		e.registry.Publish(session.Note{Kind: session.NoteTimeline, SessionID: id})

		if err := e.backend.SubmitPrompt(ctx, types.PromptSubmission{
			Text:             text,
			WorkingDirectory: sess.WorkingDirectory,
			SessionID:        id,
		}); err != nil {
			return fmt.Errorf("submit prompt: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown input mode: %s", sess.Mode)
}

// Approve resolves a pending approval request. The local pending→running
// transition and the pattern update happen first; execution is delegated to
// the backend via the approval response. A transport failure loses only the
// downstream record and surfaces as a warning note.
func (e *Engine) Approve(id types.SessionID, requestID types.RequestID, alwaysAllow bool) error {
	st, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("session not open: %s", id)
	}
	req, ok := e.approvals.Take(id, requestID)
	if !ok {
		return fmt.Errorf("no pending approval request: %s", requestID)
	}

	if err := st.Stream.SetToolStatus(req.ToolCallID, types.ToolRunning); err != nil {
		return fmt.Errorf("apply approval: %w", err)
	}
	if err := e.approvals.Recorder().RecordDecision(req.ToolName, true, alwaysAllow); err != nil {
		slog.Warn("record approval failed", "tool", req.ToolName, "error", err)
	}
	e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: id})

	e.respond(id, types.ApprovalResponse{
		RequestID: requestID, Approved: true, Remember: true, AlwaysAllow: alwaysAllow,
	})
	return nil
}

// Deny resolves a pending approval request negatively. denied is terminal.
func (e *Engine) Deny(id types.SessionID, requestID types.RequestID) error {
	st, ok := e.registry.Get(id)
	if !ok {
		return fmt.Errorf("session not open: %s", id)
	}
	req, ok := e.approvals.Take(id, requestID)
	if !ok {
		return fmt.Errorf("no pending approval request: %s", requestID)
	}

	if err := st.Stream.SetToolStatus(req.ToolCallID, types.ToolDenied); err != nil {
		return fmt.Errorf("apply denial: %w", err)
	}
	if err := e.approvals.Recorder().RecordDecision(req.ToolName, false, false); err != nil {
		slog.Warn("record denial failed", "tool", req.ToolName, "error", err)
	}
	e.registry.Publish(session.Note{Kind: session.NoteStreaming, SessionID: id})

	e.respond(id, types.ApprovalResponse{
		RequestID: requestID, Approved: false, Remember: true, AlwaysAllow: false,
	})
	return nil
}

// respond sends an approval response with retry. Failure is non-fatal: the
// local transition already happened and is not rolled back.
func (e *Engine) respond(id types.SessionID, resp types.ApprovalResponse) {
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	err := e.retry.Execute(func() error {
		return e.backend.RespondApproval(ctx, resp)
	})
	if err != nil {
		slog.Warn("send approval response failed",
			"session_id", string(id), "request_id", string(resp.RequestID), "error", err)
		e.registry.Publish(session.Note{
			Kind:      session.NoteWarning,
			SessionID: id,
			Message:   fmt.Sprintf("approval response not delivered: %v", err),
		})
	}
}

func (e *Engine) persistEntry(id types.SessionID, entry types.TimelineEntry) {
	if e.store == nil {
		return
	}
	if err := e.store.AppendTimelineEntry(context.Background(), id, entry); err != nil {
		slog.Warn("persist timeline entry failed", "session_id", string(id), "error", err)
	}
}

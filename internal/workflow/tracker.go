// internal/workflow/tracker.go

// Package workflow tracks multi-step workflow executions and scopes tool
// calls to their owning steps.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/termloom/internal/types"
)

// Status is the lifecycle state of a workflow.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Step is one named step within a workflow.
type Step struct {
	Name       string     `json:"name"`
	Index      int        `json:"index"`
	Status     StepStatus `json:"status"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

// ActiveWorkflow is the tracked state of one workflow execution. ToolCalls is
// populated only once the workflow reaches a terminal status, as a frozen
// snapshot decoupled from later tool-call churn in the session.
type ActiveWorkflow struct {
	WorkflowID      types.WorkflowID  `json:"workflow_id"`
	WorkflowName    string            `json:"workflow_name"`
	SessionID       types.SessionID   `json:"session_id"`
	Status          Status            `json:"status"`
	Steps           []Step            `json:"steps"`
	CurrentStep     int               `json:"current_step_index"`
	TotalSteps      int               `json:"total_steps"`
	StartedAt       time.Time         `json:"started_at"`
	TotalDurationMS int64             `json:"total_duration_ms,omitempty"`
	Error           string            `json:"error,omitempty"`
	ToolCalls       []*types.ToolCall `json:"tool_calls,omitempty"`

	stepStarted time.Time
}

// clone deep-copies the workflow so readers never share the tracker's
// mutable record.
func (w *ActiveWorkflow) clone() *ActiveWorkflow {
	cp := *w
	cp.Steps = make([]Step, len(w.Steps))
	copy(cp.Steps, w.Steps)
	if w.ToolCalls != nil {
		cp.ToolCalls = make([]*types.ToolCall, len(w.ToolCalls))
		for i, tc := range w.ToolCalls {
			cp.ToolCalls[i] = tc.Clone()
		}
	}
	return &cp
}

// Tracker manages the workflows of one session. Mutations come from the
// session's event lane while reads come from rendering goroutines, so every
// method locks and readers receive deep copies.
type Tracker struct {
	mu        sync.Mutex
	sessionID types.SessionID
	workflows map[types.WorkflowID]*ActiveWorkflow
	order     []types.WorkflowID
	now       func() time.Time
}

// NewTracker creates an empty tracker for a session.
func NewTracker(sessionID types.SessionID) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		workflows: make(map[types.WorkflowID]*ActiveWorkflow),
		now:       time.Now,
	}
}

// Start registers a workflow execution with its step names pending.
func (t *Tracker) Start(id types.WorkflowID, name string, totalSteps int) *ActiveWorkflow {
	t.mu.Lock()
	defer t.mu.Unlock()
	wf := &ActiveWorkflow{
		WorkflowID:   id,
		WorkflowName: name,
		SessionID:    t.sessionID,
		Status:       StatusRunning,
		Steps:        make([]Step, 0, totalSteps),
		CurrentStep:  -1,
		TotalSteps:   totalSteps,
		StartedAt:    t.now(),
	}
	t.workflows[id] = wf
	t.order = append(t.order, id)
	return wf.clone()
}

// StepStarted marks the indexed step running, extending the step list as
// needed when the backend announces steps lazily.
func (t *Tracker) StepStarted(id types.WorkflowID, name string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wf, ok := t.workflows[id]
	if !ok {
		return fmt.Errorf("unknown workflow: %s", id)
	}
	for len(wf.Steps) <= index {
		wf.Steps = append(wf.Steps, Step{Name: "", Index: len(wf.Steps), Status: StepPending})
	}
	wf.Steps[index].Name = name
	wf.Steps[index].Status = StepRunning
	wf.CurrentStep = index
	wf.stepStarted = t.now()
	return nil
}

// StepFinished marks the indexed step completed or errored, recording its
// wall-clock duration at the transition. Durations are never recomputed.
func (t *Tracker) StepFinished(id types.WorkflowID, index int, failed bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wf, ok := t.workflows[id]
	if !ok {
		return fmt.Errorf("unknown workflow: %s", id)
	}
	if index < 0 || index >= len(wf.Steps) {
		return fmt.Errorf("step index out of range: %d", index)
	}
	step := &wf.Steps[index]
	if failed {
		step.Status = StepError
	} else {
		step.Status = StepCompleted
	}
	if !wf.stepStarted.IsZero() {
		step.DurationMS = t.now().Sub(wf.stepStarted).Milliseconds()
	}
	return nil
}

// Finish moves the workflow to a terminal status and snapshots the tool calls
// currently attributed to it. The snapshot is deep-copied so later activity
// in the session cannot alter the historical record.
func (t *Tracker) Finish(id types.WorkflowID, errMsg string, sessionCalls []*types.ToolCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	wf, ok := t.workflows[id]
	if !ok {
		return fmt.Errorf("unknown workflow: %s", id)
	}
	if wf.Status != StatusRunning {
		return fmt.Errorf("workflow already terminal: %s", id)
	}
	if errMsg != "" {
		wf.Status = StatusError
		wf.Error = errMsg
	} else {
		wf.Status = StatusCompleted
	}
	wf.TotalDurationMS = t.now().Sub(wf.StartedAt).Milliseconds()

	attributed := FilterToolCalls(sessionCalls, id)
	wf.ToolCalls = make([]*types.ToolCall, len(attributed))
	for i, tc := range attributed {
		wf.ToolCalls[i] = tc.Clone()
	}
	return nil
}

// Get returns a copy of the tracked workflow, if any.
func (t *Tracker) Get(id types.WorkflowID) (*ActiveWorkflow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wf, ok := t.workflows[id]
	if !ok {
		return nil, false
	}
	return wf.clone(), true
}

// All returns copies of the tracked workflows in start order. The tracker
// keeps mutating its own records; handing out the internal pointers would
// let a render or JSON encode race those mutations.
func (t *Tracker) All() []*ActiveWorkflow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ActiveWorkflow, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.workflows[id].clone())
	}
	return out
}

// FilterToolCalls returns the calls belonging to the given workflow. A call
// belongs iff its source is workflow-typed and names this workflow id; calls
// from the main loop, or pointing at other (possibly nonexistent) workflows,
// are excluded rather than treated as errors.
func FilterToolCalls(calls []*types.ToolCall, id types.WorkflowID) []*types.ToolCall {
	var out []*types.ToolCall
	for _, tc := range calls {
		if tc.Source.Type == types.SourceWorkflow && tc.Source.WorkflowID == id {
			out = append(out, tc)
		}
	}
	return out
}

// FilterStepToolCalls narrows FilterToolCalls to a single step index.
func FilterStepToolCalls(calls []*types.ToolCall, id types.WorkflowID, stepIndex int) []*types.ToolCall {
	var out []*types.ToolCall
	for _, tc := range FilterToolCalls(calls, id) {
		if tc.Source.StepIndex == stepIndex {
			out = append(out, tc)
		}
	}
	return out
}

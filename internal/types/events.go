// internal/types/events.go
package types

import (
	"encoding/json"
	"fmt"
)

// EventType tags an inbound event from the backend process.
type EventType string

const (
	EventTerminalOutput EventType = "terminal_output"
	EventCommandMarker  EventType = "command_block"
	EventStreamStarted  EventType = "stream_started"
	EventTextDelta      EventType = "text_delta"
	EventThinkingDelta  EventType = "thinking_delta"
	EventToolRequest    EventType = "tool_request"
	EventToolResult     EventType = "tool_result"
	EventStreamError    EventType = "error"
	EventStreamDone     EventType = "stream_completed"
	EventWorkflow       EventType = "workflow"
	EventLifecycle      EventType = "lifecycle"
)

// MarkerType is the sub-type of a command_block event, delimiting prompt and
// command regions in the PTY output stream.
type MarkerType string

const (
	MarkerPromptStart  MarkerType = "prompt_start"
	MarkerPromptEnd    MarkerType = "prompt_end"
	MarkerCommandStart MarkerType = "command_start"
	MarkerCommandEnd   MarkerType = "command_end"
)

// WorkflowPhase is the sub-type of a workflow event.
type WorkflowPhase string

const (
	WorkflowStarted       WorkflowPhase = "started"
	WorkflowStepStarted   WorkflowPhase = "step_started"
	WorkflowStepCompleted WorkflowPhase = "step_completed"
	WorkflowStepFailed    WorkflowPhase = "step_failed"
	WorkflowCompleted     WorkflowPhase = "completed"
	WorkflowFailed        WorkflowPhase = "failed"
)

// LifecycleKind enumerates sidecar/session lifecycle notifications. They are
// consumed only to prompt subscribers to re-fetch collaborator state.
type LifecycleKind string

const (
	LifecycleSessionStarted      LifecycleKind = "session_started"
	LifecycleSessionEnded        LifecycleKind = "session_ended"
	LifecyclePatchCreated        LifecycleKind = "patch_created"
	LifecyclePatchApplied        LifecycleKind = "patch_applied"
	LifecyclePatchDiscarded      LifecycleKind = "patch_discarded"
	LifecyclePatchMessageUpdated LifecycleKind = "patch_message_updated"
	LifecycleArtifactCreated     LifecycleKind = "artifact_created"
	LifecycleArtifactApplied     LifecycleKind = "artifact_applied"
	LifecycleArtifactDiscarded   LifecycleKind = "artifact_discarded"
)

// Event is the normalized inbound delta shape consumed by the engine. The
// Type tag selects which payload fields are meaningful.
type Event struct {
	Type      EventType `json:"type"`
	SessionID SessionID `json:"session_id"`

	// terminal_output
	Data string `json:"data,omitempty"`

	// command_block
	Marker     MarkerType `json:"event_type,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`

	// text_delta / thinking_delta / error
	Delta     string `json:"delta,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`

	// tool_request / tool_result
	RequestID RequestID       `json:"request_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Source    *ToolSource     `json:"source,omitempty"`

	// workflow
	Phase        WorkflowPhase `json:"phase,omitempty"`
	WorkflowID   WorkflowID    `json:"workflow_id,omitempty"`
	WorkflowName string        `json:"workflow_name,omitempty"`
	StepName     string        `json:"step_name,omitempty"`
	StepIndex    int           `json:"step_index,omitempty"`
	TotalSteps   int           `json:"total_steps,omitempty"`
	Error        string        `json:"error,omitempty"`

	// lifecycle
	Kind LifecycleKind `json:"kind,omitempty"`
}

// knownEventTypes is the closed set of event shapes the engine accepts.
var knownEventTypes = map[EventType]bool{
	EventTerminalOutput: true,
	EventCommandMarker:  true,
	EventStreamStarted:  true,
	EventTextDelta:      true,
	EventThinkingDelta:  true,
	EventToolRequest:    true,
	EventToolResult:     true,
	EventStreamError:    true,
	EventStreamDone:     true,
	EventWorkflow:       true,
	EventLifecycle:      true,
}

// DecodeEvent parses a wire event. A payload with an unknown or missing type
// tag is rejected so the caller can drop and log it without aborting the
// stream.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if !knownEventTypes[ev.Type] {
		return nil, fmt.Errorf("unknown event type: %q", ev.Type)
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("event missing session_id")
	}
	return &ev, nil
}

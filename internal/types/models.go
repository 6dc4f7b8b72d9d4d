// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// InputMode selects how submitted text is interpreted: raw shell input or a
// natural-language request to the agent.
type InputMode string

const (
	ModeTerminal InputMode = "terminal"
	ModeAgent    InputMode = "agent"
)

// Session is one terminal+agent workspace instance.
type Session struct {
	ID               SessionID `json:"id"`
	WorkingDirectory string    `json:"working_directory"`
	Mode             InputMode `json:"mode"`
	CreatedAt        time.Time `json:"created_at"`
}

// CommandBlock records one completed shell invocation. It is immutable once
// ExitCode is set; Collapsed is the only field that may change afterwards.
type CommandBlock struct {
	ID         string `json:"id"`
	Command    string `json:"command"`
	Output     string `json:"output"`
	ExitCode   *int   `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Collapsed  bool   `json:"collapsed"`
}

// Role identifies the author of an agent message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// AgentMessage is a finalized message on the timeline. StreamingHistory
// preserves the block sequence accumulated while the response streamed.
type AgentMessage struct {
	ID               MessageID `json:"id"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	ThinkingContent  string    `json:"thinking_content,omitempty"`
	StreamingHistory []Block   `json:"streaming_history,omitempty"`
}

// BlockType discriminates the Block union.
type BlockType string

const (
	BlockText BlockType = "text"
	BlockTool BlockType = "tool"
)

// Block is a unit of streamed content: a text segment or a tool call.
// Exactly one of Content/Tool is meaningful, selected by Type.
type Block struct {
	Type    BlockType `json:"type"`
	Content string    `json:"content,omitempty"`
	Tool    *ToolCall `json:"tool,omitempty"`
}

// TextBlock constructs a text block.
func TextBlock(content string) Block {
	return Block{Type: BlockText, Content: content}
}

// ToolBlock constructs a tool block.
func ToolBlock(tc *ToolCall) Block {
	return Block{Type: BlockTool, Tool: tc}
}

// ToolStatus is the lifecycle state of a tool call. Transitions are
// monotonic: see CanTransition.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolApproved  ToolStatus = "approved"
	ToolDenied    ToolStatus = "denied"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// CanTransition reports whether moving from s to next is a legal step in the
// tool-call lifecycle. Terminal states (denied, completed, error) admit no
// further transitions, and no transition moves backward.
func (s ToolStatus) CanTransition(next ToolStatus) bool {
	switch s {
	case ToolPending:
		return next == ToolApproved || next == ToolDenied || next == ToolRunning
	case ToolApproved:
		return next == ToolRunning
	case ToolRunning:
		return next == ToolCompleted || next == ToolError
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s ToolStatus) Terminal() bool {
	return s == ToolDenied || s == ToolCompleted || s == ToolError
}

// RiskLevel classifies how dangerous a tool operation is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SourceType discriminates ToolSource.
type SourceType string

const (
	SourceMain     SourceType = "main"
	SourceWorkflow SourceType = "workflow"
)

// ToolSource records where a tool call originated. Workflow-sourced calls
// carry the owning workflow and step so the tracker can attribute them.
type ToolSource struct {
	Type         SourceType `json:"type"`
	WorkflowID   WorkflowID `json:"workflow_id,omitempty"`
	WorkflowName string     `json:"workflow_name,omitempty"`
	StepName     string     `json:"step_name,omitempty"`
	StepIndex    int        `json:"step_index,omitempty"`
}

// MainSource returns the source for tool calls issued by the main agent loop.
func MainSource() ToolSource {
	return ToolSource{Type: SourceMain}
}

// ToolCall is a discrete action requested by the agent, subject to approval
// and execution-status tracking.
type ToolCall struct {
	ID        ToolCallID      `json:"id"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args,omitempty"`
	Status    ToolStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	RiskLevel RiskLevel       `json:"risk_level,omitempty"`
	Source    ToolSource      `json:"source"`
}

// Clone returns a deep copy so snapshots are unaffected by later mutation.
func (tc *ToolCall) Clone() *ToolCall {
	if tc == nil {
		return nil
	}
	cp := *tc
	if tc.Args != nil {
		cp.Args = append(json.RawMessage(nil), tc.Args...)
	}
	if tc.Result != nil {
		cp.Result = append(json.RawMessage(nil), tc.Result...)
	}
	return &cp
}

// EntryType discriminates the TimelineEntry union.
type EntryType string

const (
	EntryCommand      EntryType = "command"
	EntryAgentMessage EntryType = "agent_message"
)

// TimelineEntry is one finalized item on the session timeline. Exactly one of
// Command/Message is set, selected by Type. Entries are append-only and never
// mutated after insertion, except the Collapsed toggle on CommandBlock.
type TimelineEntry struct {
	Type    EntryType     `json:"type"`
	Command *CommandBlock `json:"command,omitempty"`
	Message *AgentMessage `json:"message,omitempty"`
}

// CommandHistoryEntry is one submitted input, tagged with the mode it was
// submitted under.
type CommandHistoryEntry struct {
	Command string    `json:"command"`
	Mode    InputMode `json:"mode"`
}

// internal/types/interfaces.go
package types

import (
	"context"
)

// ApprovalResponse is the outbound reply to a tool approval request.
type ApprovalResponse struct {
	RequestID   RequestID `json:"request_id"`
	Approved    bool      `json:"approved"`
	Remember    bool      `json:"remember"`
	AlwaysAllow bool      `json:"always_allow"`
}

// PromptSubmission is an outbound natural-language request to the agent.
type PromptSubmission struct {
	Text             string    `json:"text"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	SessionID        SessionID `json:"session_id,omitempty"`
}

// Backend is the external process that owns the PTY, the model invocation,
// and tool execution. The engine only records intent locally; the backend's
// events resolve it.
type Backend interface {
	RespondApproval(ctx context.Context, resp ApprovalResponse) error
	SubmitPrompt(ctx context.Context, sub PromptSubmission) error
	WritePTY(ctx context.Context, id SessionID, data []byte) error
	ResizePTY(ctx context.Context, id SessionID, rows, cols int) error
}

// Store is the session-storage collaborator. Persistence is delegated here;
// the engine never depends on its format.
type Store interface {
	SaveSession(ctx context.Context, sess *Session) error
	DeleteSession(ctx context.Context, id SessionID) error
	ListSessions(ctx context.Context) ([]*Session, error)
	AppendHistory(ctx context.Context, id SessionID, entry CommandHistoryEntry) error
	ListHistory(ctx context.Context, id SessionID) ([]CommandHistoryEntry, error)
	AppendTimelineEntry(ctx context.Context, id SessionID, entry TimelineEntry) error
	ListTimeline(ctx context.Context, id SessionID) ([]TimelineEntry, error)
}

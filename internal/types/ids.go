// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type MessageID string
type ToolCallID string
type RequestID string
type WorkflowID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewToolCallID() ToolCallID {
	return ToolCallID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.New().String())
}

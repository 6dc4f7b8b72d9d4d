// internal/backend/executor.go

// Package backend provides implementations of the engine's Backend
// collaborator: a local loopback that executes tools and shell commands in
// process, and an HTTP client for a remote agent sidecar.
package backend

import (
	"context"
	"encoding/json"
)

// Executor runs one tool locally. Output is plain text for the agent to
// consume.
type Executor interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

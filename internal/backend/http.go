// internal/backend/http.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/termloom/internal/types"
)

// HTTPBackend talks to a remote agent sidecar over its JSON API. The sidecar
// delivers its events back through the engine's ingestion endpoint.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a backend client for the sidecar at baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTPBackend) RespondApproval(ctx context.Context, resp types.ApprovalResponse) error {
	return h.post(ctx, "/approvals", resp)
}

func (h *HTTPBackend) SubmitPrompt(ctx context.Context, sub types.PromptSubmission) error {
	return h.post(ctx, "/prompts", sub)
}

func (h *HTTPBackend) WritePTY(ctx context.Context, id types.SessionID, data []byte) error {
	return h.post(ctx, "/pty/write", map[string]any{
		"session_id": id,
		"data":       string(data),
	})
}

func (h *HTTPBackend) ResizePTY(ctx context.Context, id types.SessionID, rows, cols int) error {
	return h.post(ctx, "/pty/resize", map[string]any{
		"session_id": id,
		"rows":       rows,
		"cols":       cols,
	})
}

func (h *HTTPBackend) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(msg))
	}
	return nil
}

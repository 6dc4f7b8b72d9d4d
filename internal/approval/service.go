// internal/approval/service.go
package approval

import (
	"encoding/json"
	"sync"

	"github.com/user/termloom/internal/types"
)

// Request is a pending approval surfaced to the user. Stats and Suggestion
// are advisory; gating is only ever the explicit approve/deny decision.
type Request struct {
	RequestID  types.RequestID  `json:"request_id"`
	SessionID  types.SessionID  `json:"session_id"`
	ToolCallID types.ToolCallID `json:"tool_call_id"`
	ToolName   string           `json:"tool_name"`
	Args       json.RawMessage  `json:"args,omitempty"`
	Risk       types.RiskLevel  `json:"risk_level"`
	Dangerous  bool             `json:"dangerous"`
	Stats      *Pattern         `json:"stats,omitempty"`
	Suggestion string           `json:"suggestion,omitempty"`
	CanLearn   bool             `json:"can_learn"`
}

// sessionKey scopes processed-request ids so eviction on session close is a
// single map delete.
type sessionKey struct {
	session types.SessionID
	request types.RequestID
}

// Service combines the pattern recorder with per-session request dedup and
// pending-request lookup.
type Service struct {
	recorder *Recorder

	mu        sync.Mutex
	processed map[sessionKey]bool
	pending   map[sessionKey]*Request
}

// NewService creates an approval service backed by the given recorder.
func NewService(recorder *Recorder) *Service {
	return &Service{
		recorder:  recorder,
		processed: make(map[sessionKey]bool),
		pending:   make(map[sessionKey]*Request),
	}
}

// Recorder exposes the underlying pattern recorder.
func (s *Service) Recorder() *Recorder {
	return s.recorder
}

// BuildRequest classifies the tool call and assembles an approval request.
// A request id already seen for this session (duplicate delivery from the
// adapter) returns ok=false so the approval UI is not re-displayed.
func (s *Service) BuildRequest(sessionID types.SessionID, requestID types.RequestID, tc *types.ToolCall) (*Request, bool) {
	key := sessionKey{session: sessionID, request: requestID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[key] {
		return nil, false
	}

	risk := RiskForTool(tc.Name)
	req := &Request{
		RequestID:  requestID,
		SessionID:  sessionID,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Args:       tc.Args,
		Risk:       risk,
		Dangerous:  IsDangerous(tc.Name, risk),
		Stats:      s.recorder.Pattern(tc.Name),
		Suggestion: s.recorder.Suggestion(tc.Name),
		CanLearn:   s.recorder.CanLearn(tc.Name),
	}
	s.pending[key] = req
	return req, true
}

// Take resolves a pending request by id, marks it processed, and removes it.
// Returns ok=false when the id is unknown or already decided.
func (s *Service) Take(sessionID types.SessionID, requestID types.RequestID) (*Request, bool) {
	key := sessionKey{session: sessionID, request: requestID}

	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[key]
	if !ok {
		return nil, false
	}
	delete(s.pending, key)
	s.processed[key] = true
	return req, true
}

// Pending returns the pending requests for a session.
func (s *Service) Pending(sessionID types.SessionID) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for key, req := range s.pending {
		if key.session == sessionID {
			out = append(out, req)
		}
	}
	return out
}

// EvictSession discards pending requests and the processed-id set for a
// closed session, bounding retention.
func (s *Service) EvictSession(sessionID types.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.pending {
		if key.session == sessionID {
			delete(s.pending, key)
		}
	}
	for key := range s.processed {
		if key.session == sessionID {
			delete(s.processed, key)
		}
	}
}

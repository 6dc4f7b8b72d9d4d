// internal/server/server.go

// Package server exposes the engine over HTTP: event ingestion from the
// backend process, input and approval endpoints for frontends, and a read
// API over sessions and timelines.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/user/termloom/internal/engine"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/types"
)

// Server is a lightweight HTTP handler over the engine.
type Server struct {
	engine *engine.Engine
	mux    *http.ServeMux
}

// NewServer creates the HTTP surface for the given engine.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /events", s.handleEvents)
	s.mux.HandleFunc("POST /sessions", s.handleOpenSession)
	s.mux.HandleFunc("DELETE /sessions/", s.handleCloseSession)
	s.mux.HandleFunc("POST /sessions/", s.handleSessionAction)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/", s.handleSessionRead)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleEvents ingests one wire event from the backend process. Malformed
// payloads are rejected; valid events are accepted asynchronously.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"read body failed"}`, http.StatusBadRequest)
		return
	}
	ev, err := types.DecodeEvent(body)
	if err != nil {
		slog.Warn("malformed event rejected", "error", err)
		http.Error(w, `{"error":"malformed event"}`, http.StatusBadRequest)
		return
	}
	s.engine.Dispatch(ev)
	w.WriteHeader(http.StatusAccepted)
}

type openSessionRequest struct {
	WorkingDirectory string          `json:"working_directory"`
	Mode             types.InputMode `json:"mode"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = types.ModeTerminal
	}
	sess, err := s.engine.OpenSession(r.Context(), req.WorkingDirectory, req.Mode)
	if err != nil {
		slog.Error("open session failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := types.SessionID(strings.TrimPrefix(r.URL.Path, "/sessions/"))
	if id == "" {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}
	if !s.engine.CloseSession(id) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inputRequest struct {
	Text string `json:"text"`
}

type modeRequest struct {
	Mode types.InputMode `json:"mode"`
}

type approvalDecisionRequest struct {
	RequestID   types.RequestID `json:"request_id"`
	Approved    bool            `json:"approved"`
	AlwaysAllow bool            `json:"always_allow"`
}

type collapseRequest struct {
	CommandID string `json:"command_id"`
	Collapsed bool   `json:"collapsed"`
}

// handleSessionAction routes POST /sessions/{id}/{action}.
func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, `{"error":"session id and action required"}`, http.StatusBadRequest)
		return
	}
	id := types.SessionID(parts[0])
	st, ok := s.engine.Registry().Get(id)
	if !ok {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "input":
		var req inputRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
			return
		}
		if err := s.engine.SubmitInput(r.Context(), id, req.Text); err != nil {
			slog.Error("submit input failed", "session_id", string(id), "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)

	case "mode":
		var req modeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
		if req.Mode != types.ModeTerminal && req.Mode != types.ModeAgent {
			http.Error(w, `{"error":"unknown mode"}`, http.StatusBadRequest)
			return
		}
		st.SetMode(req.Mode)
		s.engine.Registry().Publish(session.Note{Kind: session.NoteModeChanged, SessionID: id})
		w.WriteHeader(http.StatusNoContent)

	case "approvals":
		var req approvalDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID == "" {
			http.Error(w, `{"error":"request_id is required"}`, http.StatusBadRequest)
			return
		}
		var err error
		if req.Approved {
			err = s.engine.Approve(id, req.RequestID, req.AlwaysAllow)
		} else {
			err = s.engine.Deny(id, req.RequestID)
		}
		if err != nil {
			http.Error(w, `{"error":"no pending approval request"}`, http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "collapse":
		var req collapseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CommandID == "" {
			http.Error(w, `{"error":"command_id is required"}`, http.StatusBadRequest)
			return
		}
		if err := st.Timeline.SetCollapsed(req.CommandID, req.Collapsed); err != nil {
			http.Error(w, `{"error":"command not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, `{"error":"unknown action"}`, http.StatusNotFound)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Registry().List())
}

// snapshotResponse is the read-API view of one session.
type snapshotResponse struct {
	Session     types.Session         `json:"session"`
	Timeline    []types.TimelineEntry `json:"timeline"`
	Streaming   []types.Block         `json:"streaming,omitempty"`
	Thinking    string                `json:"thinking,omitempty"`
	LiveCommand *types.CommandBlock   `json:"live_command,omitempty"`
	TokensUsed  int                   `json:"tokens_used"`
	TokensMax   int                   `json:"tokens_max"`
}

// handleSessionRead routes GET /api/sessions/{id}/{view}.
func (s *Server) handleSessionRead(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}
	id := types.SessionID(parts[0])
	st, ok := s.engine.Registry().Get(id)
	if !ok {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	view := "timeline"
	if len(parts) == 2 && parts[1] != "" {
		view = parts[1]
	}

	w.Header().Set("Content-Type", "application/json")
	switch view {
	case "timeline":
		snap := st.Snapshot()
		json.NewEncoder(w).Encode(snapshotResponse{
			Session:     snap.Session,
			Timeline:    snap.Timeline,
			Streaming:   snap.Streaming,
			Thinking:    snap.Thinking,
			LiveCommand: snap.LiveCommand,
			TokensUsed:  snap.TokensUsed,
			TokensMax:   snap.TokensMax,
		})
	case "history":
		json.NewEncoder(w).Encode(st.History.Entries())
	case "approvals":
		json.NewEncoder(w).Encode(s.engine.Approvals().Pending(id))
	case "workflows":
		json.NewEncoder(w).Encode(st.Snapshot().Workflows)
	default:
		http.Error(w, `{"error":"unknown view"}`, http.StatusNotFound)
	}
}

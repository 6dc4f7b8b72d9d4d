// internal/types/models_test.go
package types

import (
	"encoding/json"
	"testing"
)

func TestToolStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to ToolStatus
	}{
		{ToolPending, ToolApproved},
		{ToolPending, ToolDenied},
		{ToolPending, ToolRunning},
		{ToolApproved, ToolRunning},
		{ToolRunning, ToolCompleted},
		{ToolRunning, ToolError},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct {
		from, to ToolStatus
	}{
		{ToolCompleted, ToolRunning},
		{ToolDenied, ToolApproved},
		{ToolError, ToolRunning},
		{ToolRunning, ToolPending},
		{ToolApproved, ToolPending},
		{ToolPending, ToolCompleted},
	}
	for _, tc := range forbidden {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("expected %s -> %s to be forbidden", tc.from, tc.to)
		}
	}
}

func TestToolStatusTerminal(t *testing.T) {
	for _, s := range []ToolStatus{ToolDenied, ToolCompleted, ToolError} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []ToolStatus{ToolPending, ToolApproved, ToolRunning} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestToolCallClone(t *testing.T) {
	tc := &ToolCall{
		ID:     NewToolCallID(),
		Name:   "write_file",
		Args:   json.RawMessage(`{"path":"a.txt"}`),
		Status: ToolRunning,
		Source: MainSource(),
	}
	cp := tc.Clone()
	cp.Status = ToolCompleted
	cp.Args[2] = 'x'

	if tc.Status != ToolRunning {
		t.Error("clone mutation affected original status")
	}
	if string(tc.Args) != `{"path":"a.txt"}` {
		t.Error("clone mutation affected original args")
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"text_delta","session_id":"s1","delta":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != EventTextDelta || ev.Delta != "hi" {
		t.Errorf("unexpected event: %+v", ev)
	}

	if _, err := DecodeEvent([]byte(`{"type":"bogus","session_id":"s1"}`)); err == nil {
		t.Error("expected error for unknown event type")
	}
	if _, err := DecodeEvent([]byte(`{"type":"text_delta"}`)); err == nil {
		t.Error("expected error for missing session_id")
	}
	if _, err := DecodeEvent([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

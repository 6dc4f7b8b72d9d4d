// internal/ui/render_test.go
package ui

import (
	"strings"
	"testing"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/types"
)

func newRenderer() renderer {
	return renderer{st: newStyles()}
}

func intPtr(v int) *int { return &v }

func TestRenderCommandShowsExitFailure(t *testing.T) {
	r := newRenderer()
	out := r.renderCommand(&types.CommandBlock{
		ID: "cb", Command: "make test", Output: "FAIL\n", ExitCode: intPtr(2),
	})
	if !strings.Contains(out, "make test") || !strings.Contains(out, "exit 2") {
		t.Fatalf("render = %q", out)
	}
	if !strings.Contains(out, "FAIL") {
		t.Fatalf("output missing: %q", out)
	}
}

func TestRenderCommandCollapsed(t *testing.T) {
	r := newRenderer()
	out := r.renderCommand(&types.CommandBlock{
		ID: "cb", Command: "ls", Output: "big output", ExitCode: intPtr(0), Collapsed: true,
	})
	if strings.Contains(out, "big output") {
		t.Fatalf("collapsed output still rendered: %q", out)
	}
	if !strings.Contains(out, "collapsed") {
		t.Fatalf("no collapse marker: %q", out)
	}
}

func TestRenderBlocksGroupsTools(t *testing.T) {
	r := newRenderer()
	blocks := []types.Block{
		types.ToolBlock(&types.ToolCall{ID: "1", Name: "read_file", Status: types.ToolCompleted, Source: types.MainSource()}),
		types.ToolBlock(&types.ToolCall{ID: "2", Name: "read_file", Status: types.ToolCompleted, Source: types.MainSource()}),
		types.TextBlock("now writing"),
		types.ToolBlock(&types.ToolCall{ID: "3", Name: "write_file", Status: types.ToolRunning, Source: types.MainSource()}),
	}
	out := r.renderBlocks(blocks)
	if !strings.Contains(out, "read_file (x2)") {
		t.Fatalf("group header missing: %q", out)
	}
	if !strings.Contains(out, "now writing") || !strings.Contains(out, "write_file") {
		t.Fatalf("render = %q", out)
	}
}

func TestRenderTimelineKeepsOverlayAfterEntries(t *testing.T) {
	r := newRenderer()
	snap := session.Snapshot{
		Session: types.Session{ID: "s", Mode: types.ModeAgent},
		Timeline: []types.TimelineEntry{
			{Type: types.EntryCommand, Command: &types.CommandBlock{
				ID: "cb", Command: "ls", Output: "a b\n", ExitCode: intPtr(0),
			}},
		},
		Streaming: []types.Block{types.TextBlock("partial answer")},
		Thinking:  "working",
	}
	out := r.renderTimeline(snap)
	cmdIdx := strings.Index(out, "ls")
	streamIdx := strings.Index(out, "partial answer")
	if cmdIdx < 0 || streamIdx < 0 || streamIdx < cmdIdx {
		t.Fatalf("overlay not after timeline: %q", out)
	}
	if !strings.Contains(out, "thinking: working") {
		t.Fatalf("thinking missing: %q", out)
	}
}

func TestRenderApproval(t *testing.T) {
	r := newRenderer()
	req := &approval.Request{
		RequestID: "req", ToolName: "delete_file",
		Risk: types.RiskCritical, Dangerous: true,
		Stats:      &approval.Pattern{ToolName: "delete_file", TotalRequests: 4, Approvals: 3, Denials: 1},
		Suggestion: "Consider enabling auto-approval for delete_file",
		CanLearn:   true,
	}
	out := r.renderApproval(req)
	for _, want := range []string{"delete_file", "critical", "DANGEROUS", "3 approvals", "[a] always allow"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

// internal/ui/render.go
package ui

import (
	"fmt"
	"strings"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/stream"
	"github.com/user/termloom/internal/types"
	"github.com/user/termloom/internal/workflow"
)

func statusIcon(s types.ToolStatus) string {
	switch s {
	case types.ToolPending:
		return "?"
	case types.ToolApproved:
		return "~"
	case types.ToolRunning:
		return "*"
	case types.ToolCompleted:
		return "+"
	case types.ToolDenied:
		return "x"
	case types.ToolError:
		return "!"
	}
	return " "
}

func (r renderer) toolLine(tc *types.ToolCall) string {
	line := fmt.Sprintf("  [%s] %s", statusIcon(tc.Status), tc.Name)
	if tc.Source.Type == types.SourceWorkflow {
		line += fmt.Sprintf(" (workflow: %s)", tc.Source.WorkflowName)
	}
	return r.st.tool.Render(line)
}

type renderer struct {
	st styles
}

// renderBlocks renders a block sequence with consecutive same-tool runs
// collapsed.
func (r renderer) renderBlocks(blocks []types.Block) string {
	var b strings.Builder
	for _, g := range stream.GroupConsecutiveTools(blocks) {
		switch g.Kind {
		case stream.GroupedText:
			b.WriteString(r.st.assistant.Render(g.Content))
			b.WriteString("\n")
		case stream.GroupedTool:
			b.WriteString(r.toolLine(g.Tool))
			b.WriteString("\n")
		case stream.GroupedGroup:
			b.WriteString(r.st.toolGroup.Render(
				fmt.Sprintf("  %s (x%d)", g.ToolName, len(g.Calls))))
			b.WriteString("\n")
			for _, tc := range g.Calls {
				b.WriteString(r.toolLine(tc))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func (r renderer) renderCommand(cb *types.CommandBlock) string {
	var b strings.Builder
	style := r.st.command
	if cb.ExitCode != nil && *cb.ExitCode != 0 {
		style = r.st.commandFail
	}
	header := "$ " + cb.Command
	if cb.ExitCode != nil && *cb.ExitCode != 0 {
		header += fmt.Sprintf("  (exit %d)", *cb.ExitCode)
	}
	b.WriteString(style.Render(header))
	b.WriteString("\n")
	if cb.Collapsed {
		b.WriteString(r.st.status.Render("  [output collapsed]"))
		b.WriteString("\n")
	} else if cb.Output != "" {
		b.WriteString(r.st.output.Render(strings.TrimRight(cb.Output, "\n")))
		b.WriteString("\n")
	}
	return b.String()
}

func (r renderer) renderMessage(msg *types.AgentMessage) string {
	var b strings.Builder
	switch msg.Role {
	case types.RoleUser:
		b.WriteString(r.st.user.Render("you> " + msg.Content))
		b.WriteString("\n")
	default:
		if len(msg.StreamingHistory) > 0 {
			b.WriteString(r.renderBlocks(msg.StreamingHistory))
		} else if msg.Content != "" {
			b.WriteString(r.st.assistant.Render(msg.Content))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderTimeline renders the full scrollback: finalized entries first, then
// the live overlay (in-progress command or stream) clearly below them.
func (r renderer) renderTimeline(snap session.Snapshot) string {
	var b strings.Builder
	for _, entry := range snap.Timeline {
		switch entry.Type {
		case types.EntryCommand:
			b.WriteString(r.renderCommand(entry.Command))
		case types.EntryAgentMessage:
			b.WriteString(r.renderMessage(entry.Message))
		}
		b.WriteString("\n")
	}

	if snap.LiveCommand != nil {
		b.WriteString(r.st.command.Render("$ " + snap.LiveCommand.Command))
		b.WriteString("\n")
		if snap.LiveCommand.Output != "" {
			b.WriteString(r.st.output.Render(strings.TrimRight(snap.LiveCommand.Output, "\n")))
			b.WriteString("\n")
		}
	}
	if snap.Thinking != "" {
		b.WriteString(r.st.thinking.Render("thinking: " + snap.Thinking))
		b.WriteString("\n")
	}
	if len(snap.Streaming) > 0 {
		b.WriteString(r.renderBlocks(snap.Streaming))
	}
	return b.String()
}

// renderApproval renders one pending approval request with its risk badge
// and learned-pattern context.
func (r renderer) renderApproval(req *approval.Request) string {
	var b strings.Builder
	riskStyle, ok := r.st.risk[string(req.Risk)]
	if !ok {
		riskStyle = r.st.approval
	}
	b.WriteString(r.st.approval.Render(fmt.Sprintf("approve %s?", req.ToolName)))
	b.WriteString("  ")
	b.WriteString(riskStyle.Render("risk: " + string(req.Risk)))
	if req.Dangerous {
		b.WriteString("  ")
		b.WriteString(r.st.approval.Render("DANGEROUS"))
	}
	b.WriteString("\n")
	if req.Stats != nil && req.Stats.TotalRequests > 0 {
		b.WriteString(r.st.status.Render(fmt.Sprintf(
			"  history: %d approvals, %d denials (%.0f%% approved)",
			req.Stats.Approvals, req.Stats.Denials, req.Stats.Rate()*100)))
		b.WriteString("\n")
	}
	if req.Suggestion != "" {
		b.WriteString(r.st.status.Render("  " + req.Suggestion))
		b.WriteString("\n")
	}
	keys := "  [y] approve  [n] deny"
	if req.CanLearn {
		keys += "  [a] always allow"
	}
	b.WriteString(r.st.footer.Render(keys))
	b.WriteString("\n")
	return b.String()
}

// renderWorkflows renders active workflow progress lines.
func (r renderer) renderWorkflows(snap session.Snapshot) string {
	var b strings.Builder
	for _, wf := range snap.Workflows {
		done := 0
		for _, step := range wf.Steps {
			if step.Status == workflow.StepCompleted {
				done++
			}
		}
		b.WriteString(r.st.header.Render(
			fmt.Sprintf("workflow %s: %d/%d steps (%s)", wf.WorkflowName, done, wf.TotalSteps, wf.Status)))
		b.WriteString("\n")
	}
	return b.String()
}

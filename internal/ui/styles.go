// internal/ui/styles.go

// Package ui renders session timelines in the terminal: a scrollback
// viewport over the unified timeline, a live streaming overlay, an input
// line with history navigation, and inline approval prompts.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	header      lipgloss.Style
	command     lipgloss.Style
	commandFail lipgloss.Style
	output      lipgloss.Style
	user        lipgloss.Style
	assistant   lipgloss.Style
	thinking    lipgloss.Style
	tool        lipgloss.Style
	toolGroup   lipgloss.Style
	approval    lipgloss.Style
	risk        map[string]lipgloss.Style
	status      lipgloss.Style
	footer      lipgloss.Style
}

func newStyles() styles {
	var (
		mint  = lipgloss.Color("#8ef2c0")
		blue  = lipgloss.Color("#7aa2f7")
		pink  = lipgloss.Color("#f7768e")
		amber = lipgloss.Color("#ffd166")
		muted = lipgloss.Color("#565f89")
	)
	return styles{
		header:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		command:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		commandFail: lipgloss.NewStyle().Foreground(pink).Bold(true),
		output:      lipgloss.NewStyle().Foreground(lipgloss.Color("#c0caf5")),
		user:        lipgloss.NewStyle().Foreground(mint).Bold(true),
		assistant:   lipgloss.NewStyle().Foreground(blue),
		thinking:    lipgloss.NewStyle().Foreground(muted).Italic(true),
		tool:        lipgloss.NewStyle().Foreground(amber),
		toolGroup:   lipgloss.NewStyle().Foreground(amber).Bold(true),
		approval:    lipgloss.NewStyle().Foreground(pink).Bold(true),
		risk: map[string]lipgloss.Style{
			"low":      lipgloss.NewStyle().Foreground(mint),
			"medium":   lipgloss.NewStyle().Foreground(amber),
			"high":     lipgloss.NewStyle().Foreground(pink),
			"critical": lipgloss.NewStyle().Foreground(pink).Bold(true).Underline(true),
		},
		status: lipgloss.NewStyle().Foreground(muted),
		footer: lipgloss.NewStyle().Foreground(muted),
	}
}

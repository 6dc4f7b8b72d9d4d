// internal/ui/model.go
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/engine"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/types"
)

// noteMsg carries a registry note into the tea update loop.
type noteMsg session.Note

// Model is the interactive frontend over one session.
type Model struct {
	eng       *engine.Engine
	sessionID types.SessionID
	st        styles
	render    renderer

	timeline viewport.Model
	input    textinput.Model
	spin     spinner.Model

	notes  chan session.Note
	sub    *session.Subscription
	ready  bool
	status string
	errMsg string
}

// NewModel creates the UI model for an already-open session.
func NewModel(eng *engine.Engine, sessionID types.SessionID) *Model {
	st := newStyles()
	input := textinput.New()
	input.Prompt = "> "
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	m := &Model{
		eng:       eng,
		sessionID: sessionID,
		st:        st,
		render:    renderer{st: st},
		input:     input,
		spin:      sp,
		notes:     make(chan session.Note, 64),
	}
	m.sub = eng.Registry().Subscribe(func(note session.Note) {
		if note.SessionID != sessionID {
			return
		}
		select {
		case m.notes <- note:
		default:
		}
	})
	return m
}

// Close cancels the registry subscription.
func (m *Model) Close() {
	if m.sub != nil {
		m.sub.Cancel()
	}
}

func (m *Model) waitNote() tea.Cmd {
	return func() tea.Msg {
		return noteMsg(<-m.notes)
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitNote())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.timeline = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.timeline.Width = msg.Width
			m.timeline.Height = msg.Height - 4
		}
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case noteMsg:
		switch session.Note(msg).Kind {
		case session.NoteWarning:
			m.errMsg = session.Note(msg).Message
		case session.NoteSessionClosed:
			return m, tea.Quit
		}
		m.refresh()
		cmds = append(cmds, m.waitNote())

	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey covers bindings the text input must not consume. A nil return
// lets the key fall through to the input field.
func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	st, ok := m.eng.Registry().Get(m.sessionID)
	if !ok {
		return tea.Quit
	}

	switch msg.String() {
	case "ctrl+c":
		m.Close()
		return tea.Quit

	case "ctrl+t":
		mode := types.ModeAgent
		if st.Session().Mode == types.ModeAgent {
			mode = types.ModeTerminal
		}
		st.SetMode(mode)
		m.status = "mode: " + string(mode)
		m.refresh()
		return func() tea.Msg { return nil }

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return func() tea.Msg { return nil }
		}
		m.input.Reset()
		st.History.Reset()
		if err := m.eng.SubmitInput(context.Background(), m.sessionID, text); err != nil {
			m.errMsg = err.Error()
		}
		m.refresh()
		return func() tea.Msg { return nil }

	case "up":
		if entry := st.History.NavigateUp(); entry != nil {
			m.input.SetValue(entry.Command)
			m.input.CursorEnd()
		}
		return func() tea.Msg { return nil }

	case "down":
		if entry := st.History.NavigateDown(); entry != nil {
			m.input.SetValue(entry.Command)
			m.input.CursorEnd()
		} else {
			m.input.Reset()
		}
		return func() tea.Msg { return nil }

	case "y", "n", "a":
		if req := m.firstPending(); req != nil && m.input.Value() == "" {
			m.decide(req, msg.String())
			return func() tea.Msg { return nil }
		}
	}
	return nil
}

func (m *Model) firstPending() *approval.Request {
	pending := m.eng.Approvals().Pending(m.sessionID)
	if len(pending) == 0 {
		return nil
	}
	return pending[0]
}

func (m *Model) decide(req *approval.Request, key string) {
	var err error
	switch key {
	case "y":
		err = m.eng.Approve(m.sessionID, req.RequestID, false)
	case "a":
		err = m.eng.Approve(m.sessionID, req.RequestID, true)
	case "n":
		err = m.eng.Deny(m.sessionID, req.RequestID)
	}
	if err != nil {
		m.errMsg = err.Error()
	}
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	st, ok := m.eng.Registry().Get(m.sessionID)
	if !ok {
		return
	}
	snap := st.Snapshot()

	var b strings.Builder
	b.WriteString(m.render.renderTimeline(snap))
	b.WriteString(m.render.renderWorkflows(snap))
	for _, req := range m.eng.Approvals().Pending(m.sessionID) {
		b.WriteString(m.render.renderApproval(req))
	}
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(b.String())
	if atBottom {
		m.timeline.GotoBottom()
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	st, ok := m.eng.Registry().Get(m.sessionID)
	if !ok {
		return "session closed"
	}
	snap := st.Snapshot()

	header := m.st.header.Render(fmt.Sprintf(
		"termloom  %s  [%s]", snap.Session.ID, snap.Session.Mode))
	if snap.TokensMax > 0 {
		header += m.st.status.Render(fmt.Sprintf(
			"  tokens %d/%d", snap.TokensUsed, snap.TokensMax))
	}
	if len(snap.Streaming) > 0 || snap.LiveCommand != nil {
		header += "  " + m.spin.View()
	}

	footer := m.st.footer.Render("enter send | up/down history | ctrl+t mode | ctrl+c quit")
	if m.errMsg != "" {
		footer = m.st.approval.Render(m.errMsg) + "\n" + footer
	}
	if m.status != "" {
		footer = m.st.status.Render(m.status) + "\n" + footer
	}

	return header + "\n" + m.timeline.View() + "\n" + m.input.View() + "\n" + footer
}

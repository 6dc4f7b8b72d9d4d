// internal/notify/notify.go

// Package notify pushes out-of-band nudges to Telegram: approval requests
// that sit unanswered past a threshold, and engine warnings. It keeps the
// operator reachable when the terminal is not in front of them.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/termloom/internal/approval"
	"github.com/user/termloom/internal/session"
	"github.com/user/termloom/internal/types"
)

const maxTelegramMessage = 4096

// DefaultNudgeAfter is how long an approval request may sit unanswered
// before a nudge is sent.
const DefaultNudgeAfter = 2 * time.Minute

// Sender delivers one notification message.
type Sender interface {
	Send(text string) error
}

// Notifier watches registry notes and nudges the operator.
type Notifier struct {
	registry   *session.Registry
	approvals  *approval.Service
	sender     Sender
	nudgeAfter time.Duration

	mu     sync.Mutex
	timers map[types.SessionID]*time.Timer
	sub    *session.Subscription
}

// New creates a notifier. nudgeAfter <= 0 falls back to DefaultNudgeAfter.
func New(registry *session.Registry, approvals *approval.Service, sender Sender, nudgeAfter time.Duration) *Notifier {
	if nudgeAfter <= 0 {
		nudgeAfter = DefaultNudgeAfter
	}
	return &Notifier{
		registry:   registry,
		approvals:  approvals,
		sender:     sender,
		nudgeAfter: nudgeAfter,
		timers:     make(map[types.SessionID]*time.Timer),
	}
}

// Start subscribes to registry notes.
func (n *Notifier) Start() {
	n.sub = n.registry.Subscribe(n.onNote)
}

// Stop cancels the subscription and any armed nudge timers.
func (n *Notifier) Stop() {
	if n.sub != nil {
		n.sub.Cancel()
	}
	n.mu.Lock()
	for id, timer := range n.timers {
		timer.Stop()
		delete(n.timers, id)
	}
	n.mu.Unlock()
}

func (n *Notifier) onNote(note session.Note) {
	switch note.Kind {
	case session.NoteApproval:
		n.armNudge(note.SessionID)
	case session.NoteWarning:
		if note.Message != "" {
			n.deliver(fmt.Sprintf("termloom warning (session %s):\n%s", note.SessionID, note.Message))
		}
	case session.NoteSessionClosed:
		n.disarm(note.SessionID)
	}
}

// armNudge schedules a check for the session. An already-armed timer is left
// running so a burst of requests produces one nudge.
func (n *Notifier) armNudge(id types.SessionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, armed := n.timers[id]; armed {
		return
	}
	n.timers[id] = time.AfterFunc(n.nudgeAfter, func() {
		n.mu.Lock()
		delete(n.timers, id)
		n.mu.Unlock()
		n.nudge(id)
	})
}

func (n *Notifier) disarm(id types.SessionID) {
	n.mu.Lock()
	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}
	n.mu.Unlock()
}

func (n *Notifier) nudge(id types.SessionID) {
	pending := n.approvals.Pending(id)
	if len(pending) == 0 {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "termloom: %d tool approval(s) waiting in session %s\n", len(pending), id)
	for _, req := range pending {
		fmt.Fprintf(&b, "- %s (risk: %s)\n", req.ToolName, req.Risk)
	}
	n.deliver(b.String())
}

func (n *Notifier) deliver(text string) {
	if err := n.sender.Send(text); err != nil {
		slog.Warn("send notification failed", "error", err)
	}
}

// TelegramSender delivers messages to one chat via the Telegram bot API.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSender creates a sender for the given bot token and chat.
func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSender) Send(text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

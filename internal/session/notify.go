// internal/session/notify.go
package session

import (
	"sync"

	"github.com/user/termloom/internal/types"
)

// NoteKind tags a change notification.
type NoteKind string

const (
	NoteSessionOpened NoteKind = "session_opened"
	NoteSessionClosed NoteKind = "session_closed"
	NoteModeChanged   NoteKind = "mode_changed"
	NoteTimeline      NoteKind = "timeline"
	NoteStreaming     NoteKind = "streaming"
	NoteApproval      NoteKind = "approval"
	NoteWorkflow      NoteKind = "workflow"
	NoteSidecar       NoteKind = "sidecar"
	NoteWarning       NoteKind = "warning"
)

// Note announces a state change to subscribers. Warning notes carry a
// human-readable message; sidecar notes carry the lifecycle kind so the
// subscriber knows what collaborator state to re-fetch.
type Note struct {
	Kind      NoteKind
	SessionID types.SessionID
	Message   string
	Lifecycle types.LifecycleKind
}

// Subscription is a cancellable handle on the registry's notification feed.
// Cancel is idempotent and guarantees no callbacks after it returns.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel detaches the subscriber.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// notifier fans a Note out to subscribers. Callbacks run synchronously on
// the notifying goroutine; subscribers must not block.
type notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Note)
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]func(Note))}
}

func (n *notifier) subscribe(fn func(Note)) *Subscription {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return &Subscription{cancel: func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}}
}

func (n *notifier) publish(note Note) {
	n.mu.RLock()
	fns := make([]func(Note), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(note)
	}
}

// internal/session/registry.go

// Package session owns the per-session state containers and their lifecycle.
// Creation and teardown are explicit calls on the Registry, and interested
// parties observe changes through cancellable subscriptions.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/termloom/internal/history"
	"github.com/user/termloom/internal/stream"
	"github.com/user/termloom/internal/timeline"
	"github.com/user/termloom/internal/tokens"
	"github.com/user/termloom/internal/types"
	"github.com/user/termloom/internal/workflow"
)

// State is the explicit per-session container: the session record plus every
// piece of live and finalized per-session state. Event-driven mutation is
// serialized on the engine's lane for the session, but approvals, collapse
// toggles, and rendering reads arrive from other goroutines, so each
// component (stream, timeline, history, workflows, meter) locks internally
// and State.mu guards the fields held here directly. Readers take copies via
// Snapshot.
type State struct {
	mu sync.Mutex

	sess      types.Session
	Stream    *stream.Aggregator
	History   *history.Cursor
	Timeline  *timeline.Timeline
	Workflows *workflow.Tracker
	Meter     *tokens.Meter

	command      *commandAssembler
	lastInput    string
	streamActive bool
}

// Snapshot is a read-only view of a session for rendering: the immutable
// timeline plus the ephemeral live overlay, structurally distinct so a
// consumer that only reads Timeline can never see in-progress state.
type Snapshot struct {
	Session     types.Session
	Timeline    []types.TimelineEntry
	Streaming   []types.Block
	Thinking    string
	LiveCommand *types.CommandBlock
	Workflows   []*workflow.ActiveWorkflow
	TokensUsed  int
	TokensMax   int
}

// Session returns a copy of the session record.
func (s *State) Session() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// SetMode switches the input mode. Mode toggles are the only permitted
// mutation of the session record.
func (s *State) SetMode(mode types.InputMode) {
	s.mu.Lock()
	s.sess.Mode = mode
	s.mu.Unlock()
}

// SetLastInput remembers the most recent terminal submission so the next
// command_start marker can attach the command text.
func (s *State) SetLastInput(text string) {
	s.mu.Lock()
	s.lastInput = text
	s.mu.Unlock()
}

// LastInput returns the most recent terminal submission.
func (s *State) LastInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

// BeginCommand opens a live command region for the stored input.
func (s *State) BeginCommand(now time.Time) {
	s.mu.Lock()
	s.command.begin(s.lastInput, now)
	s.mu.Unlock()
}

// AppendCommandOutput feeds terminal output into the live command.
func (s *State) AppendCommandOutput(data string) {
	s.mu.Lock()
	s.command.appendOutput(data)
	s.mu.Unlock()
}

// FinishCommand seals the live command, or returns nil when none is open.
func (s *State) FinishCommand(exitCode int, durationMS int64, now time.Time) *types.CommandBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.command.finish(exitCode, durationMS, now)
}

// Snapshot assembles the rendering view.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Session:     s.sess,
		Timeline:    s.Timeline.Entries(),
		Streaming:   s.Stream.Blocks(),
		Thinking:    s.Stream.Thinking(),
		LiveCommand: s.command.live(),
		Workflows:   s.Workflows.All(),
	}
	if s.Meter != nil {
		snap.TokensUsed = s.Meter.Used()
		snap.TokensMax = s.Meter.Max()
	}
	return snap
}

// Registry owns one State per open session and is the lifecycle root for all
// per-session components.
type Registry struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]*State
	notes    *notifier
	meter    func() *tokens.Meter
}

// NewRegistry creates an empty registry. meterFactory may be nil when token
// accounting is disabled.
func NewRegistry(meterFactory func() *tokens.Meter) *Registry {
	return &Registry{
		sessions: make(map[types.SessionID]*State),
		notes:    newNotifier(),
		meter:    meterFactory,
	}
}

// Subscribe registers an observer for all session notifications. The returned
// handle must be cancelled to detach; closing a session does not cancel
// subscriptions, it only stops producing notes for that session.
func (r *Registry) Subscribe(fn func(Note)) *Subscription {
	return r.notes.subscribe(fn)
}

// Publish emits a notification to all subscribers.
func (r *Registry) Publish(note Note) {
	r.notes.publish(note)
}

// Open creates the state container for a new session. An empty id allocates
// one. Opening an id that is already open is an error: session ids are unique
// for the registry's lifetime.
func (r *Registry) Open(id types.SessionID, workingDirectory string, mode types.InputMode) (*State, error) {
	if id == "" {
		id = types.NewSessionID()
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session already open: %s", id)
	}

	st := &State{
		sess: types.Session{
			ID:               id,
			WorkingDirectory: workingDirectory,
			Mode:             mode,
			CreatedAt:        time.Now(),
		},
		Stream:    stream.NewAggregator(id),
		History:   history.NewCursor(),
		Timeline:  timeline.New(),
		Workflows: workflow.NewTracker(id),
		command:   newCommandAssembler(),
	}
	if r.meter != nil {
		st.Meter = r.meter()
	}
	r.sessions[id] = st
	r.mu.Unlock()

	r.notes.publish(Note{Kind: NoteSessionOpened, SessionID: id})
	return st, nil
}

// Get returns the state container for an open session.
func (r *Registry) Get(id types.SessionID) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[id]
	return st, ok
}

// List returns the session records of all open sessions.
func (r *Registry) List() []types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Session, 0, len(r.sessions))
	for _, st := range r.sessions {
		out = append(out, st.Session())
	}
	return out
}

// Close tears down a session's state synchronously. Events arriving for the
// id afterwards find no container and are dropped by the engine.
func (r *Registry) Close(id types.SessionID) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		r.notes.publish(Note{Kind: NoteSessionClosed, SessionID: id})
	}
	return ok
}

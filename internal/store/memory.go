// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/user/termloom/internal/types"
)

// MemoryStore implements types.Store in process memory. Used when
// persistence is disabled and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[types.SessionID]types.Session
	order    []types.SessionID
	history  map[types.SessionID][]types.CommandHistoryEntry
	timeline map[types.SessionID][]types.TimelineEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[types.SessionID]types.Session),
		history:  make(map[types.SessionID][]types.CommandHistoryEntry),
		timeline: make(map[types.SessionID][]types.TimelineEntry),
	}
}

func (s *MemoryStore) SaveSession(_ context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; !exists {
		s.order = append(s.order, sess.ID)
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	delete(s.history, id)
	delete(s.timeline, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Session, 0, len(s.order))
	for _, id := range s.order {
		sess := s.sessions[id]
		out = append(out, &sess)
	}
	return out, nil
}

func (s *MemoryStore) AppendHistory(_ context.Context, id types.SessionID, entry types.CommandHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[id] = append(s.history[id], entry)
	return nil
}

func (s *MemoryStore) ListHistory(_ context.Context, id types.SessionID) ([]types.CommandHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]types.CommandHistoryEntry(nil), s.history[id]...), nil
}

func (s *MemoryStore) AppendTimelineEntry(_ context.Context, id types.SessionID, entry types.TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeline[id] = append(s.timeline[id], entry)
	return nil
}

func (s *MemoryStore) ListTimeline(_ context.Context, id types.SessionID) ([]types.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]types.TimelineEntry(nil), s.timeline[id]...), nil
}

// internal/engine/lanes.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/termloom/internal/types"
)

// lanes gives every session its own FIFO channel drained by one goroutine,
// so a session's events are processed to completion in arrival order, while
// a global semaphore caps how many sessions process simultaneously. Sessions
// never contend over shared mutable state.
type lanes struct {
	chans     map[types.SessionID]chan *types.Event
	semaphore *semaphore.Weighted
	processor func(*types.Event)
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func newLanes(maxConcurrent int64) *lanes {
	return &lanes{
		chans:     make(map[types.SessionID]chan *types.Event),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// start initialises the lane context. Must be called before enqueue.
func (l *lanes) start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// stop cancels the lane context, closes all lanes, and waits for in-flight
// processing to finish.
func (l *lanes) stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Lock()
	for id, ch := range l.chans {
		close(ch)
		delete(l.chans, id)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

// enqueue adds an event to its session's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (l *lanes) enqueue(ev *types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, exists := l.chans[ev.SessionID]
	if !exists {
		ch = make(chan *types.Event, 256)
		l.chans[ev.SessionID] = ch
		l.wg.Add(1)
		go l.drain(ch)
	}

	select {
	case ch <- ev:
		return nil
	default:
		return fmt.Errorf("event lane full for session %s", ev.SessionID)
	}
}

// closeLane shuts the session's lane; queued events are still drained.
func (l *lanes) closeLane(id types.SessionID) {
	l.mu.Lock()
	if ch, ok := l.chans[id]; ok {
		close(ch)
		delete(l.chans, id)
	}
	l.mu.Unlock()
}

func (l *lanes) drain(ch chan *types.Event) {
	defer l.wg.Done()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := l.semaphore.Acquire(l.ctx, 1); err != nil {
				return
			}
			if l.processor != nil {
				l.active.Add(1)
				l.processor(ev)
				l.active.Add(-1)
			}
			l.semaphore.Release(1)
		case <-l.ctx.Done():
			return
		}
	}
}

// waitIdle blocks until no events are being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (l *lanes) waitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if l.active.Load() == 0 && l.empty() {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (l *lanes) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.chans {
		if len(ch) > 0 {
			return false
		}
	}
	return true
}

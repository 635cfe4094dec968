package engine

import (
	"sync"
	"time"

	"github.com/ducktracker/ducktracker/internal/model"
)

// Subscriber is one live stream. The hub enqueues changes into the outbound
// queue; the stream's own goroutine drains it via Hub.NextUpdate.
//
// visible and knownPublic are owned by the hub and guarded by the hub lock.
// The queue has its own mutex so publishers never block on a slow stream.
type Subscriber struct {
	ID          string
	User        string
	Selected    map[model.Tag]struct{} // empty means "all public"
	ConnectedAt time.Time

	visible     map[model.FetchID]struct{}
	knownPublic map[model.Tag]struct{}

	mu           sync.Mutex
	queue        []model.Change
	needSnapshot bool
	lastActivity time.Time
	closed       bool

	maxQueue int
	notify   chan struct{}
	done     chan struct{}
}

func newSubscriber(id, user string, selected map[model.Tag]struct{}, maxQueue int, now time.Time) *Subscriber {
	return &Subscriber{
		ID:           id,
		User:         user,
		Selected:     selected,
		ConnectedAt:  now,
		visible:      make(map[model.FetchID]struct{}),
		knownPublic:  make(map[model.Tag]struct{}),
		lastActivity: now,
		maxQueue:     maxQueue,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Notify signals that the outbound queue may have pending changes.
func (s *Subscriber) Notify() <-chan struct{} { return s.notify }

// Done is closed when the hub removes the subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Touch records stream activity; idle eviction keys off this.
func (s *Subscriber) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Subscriber) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// enqueue appends a change, applying the overflow policy: drop the oldest
// AddPoints first, and if the queue is still over its bound, throw the whole
// queue away and fall back to a snapshot rebuild on the next drain.
func (s *Subscriber) enqueue(c model.Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.needSnapshot {
		// Everything queued now is subsumed by the pending snapshot.
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, c)
	if len(s.queue) > s.maxQueue {
		s.dropOldestPointsLocked()
	}
	if len(s.queue) > s.maxQueue {
		s.queue = nil
		s.needSnapshot = true
	}
	s.mu.Unlock()
	s.wake()
}

// markSnapshot schedules a full Reset + snapshot on the next drain.
func (s *Subscriber) markSnapshot() {
	s.mu.Lock()
	s.queue = nil
	s.needSnapshot = true
	s.mu.Unlock()
	s.wake()
}

// take removes all pending changes. The boolean reports whether the drain
// must rebuild from a snapshot instead of applying the returned changes.
func (s *Subscriber) take() ([]model.Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := s.queue
	snapshot := s.needSnapshot
	s.queue = nil
	s.needSnapshot = false
	return changes, snapshot
}

func (s *Subscriber) dropOldestPointsLocked() {
	kept := s.queue[:0]
	dropped := false
	for _, c := range s.queue {
		if !dropped && c.AddPoints != nil {
			dropped = true
			continue
		}
		kept = append(kept, c)
	}
	s.queue = kept
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

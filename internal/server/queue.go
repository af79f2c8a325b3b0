package server

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/mdximport/internal/shared"
)

// JobQueue holds sessions waiting for the single worker, in arrival order. Every change to the order
// is broadcast to subscribers.
type JobQueue struct {
	mu    sync.Mutex
	items []*Session
	size  int
	wake  chan struct{}
	subs  map[chan []string]struct{}
}

func NewJobQueue(size int) *JobQueue {
	if size < 1 {
		size = 1
	}
	return &JobQueue{
		size: size,
		wake: make(chan struct{}, 1),
		subs: map[chan []string]struct{}{},
	}
}

// Enqueue appends a session and returns its 1-based position.
func (q *JobQueue) Enqueue(s *Session) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.size {
		return 0, fmt.Errorf("%w: %d sessions waiting", shared.ErrQueueFull, len(q.items))
	}
	q.items = append(q.items, s)
	q.broadcastLocked()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return len(q.items), nil
}

// Remove drops a waiting session, reporting whether it was still queued.
func (q *JobQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.items, func(s *Session) bool { return s.ID == id })
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.broadcastLocked()
	return true
}

// Next blocks until a session is waiting, then removes it from the front of the queue.
func (q *JobQueue) Next(ctx context.Context) (*Session, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items = slices.Delete(q.items, 0, 1)
			q.broadcastLocked()
			q.mu.Unlock()
			return s, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Position is the 1-based place of id in the queue, 0 when it is not waiting, and the queue length.
func (q *JobQueue) Position(id string) (position, queued int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := slices.IndexFunc(q.items, func(s *Session) bool { return s.ID == id })
	return i + 1, len(q.items)
}

// Order returns the waiting session ids, front first.
func (q *JobQueue) Order() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.orderLocked()
}

// Subscribe registers for order changes. The returned snapshot is the order at registration time; a
// slow subscriber only ever sees the latest order.
func (q *JobQueue) Subscribe() (<-chan []string, []string, func()) {
	ch := make(chan []string, 1)

	q.mu.Lock()
	q.subs[ch] = struct{}{}
	initial := q.orderLocked()
	q.mu.Unlock()

	unsubscribe := func() {
		q.mu.Lock()
		delete(q.subs, ch)
		q.mu.Unlock()
	}
	return ch, initial, unsubscribe
}

func (q *JobQueue) orderLocked() []string {
	order := make([]string, len(q.items))
	for i, s := range q.items {
		order[i] = s.ID
	}
	return order
}

func (q *JobQueue) broadcastLocked() {
	order := q.orderLocked()
	for ch := range q.subs {
		select {
		case <-ch:
		default:
		}
		ch <- order
	}
}

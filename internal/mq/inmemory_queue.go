package mq

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// InMemoryDelayQueue implements DelayQueue in process memory.
// It has the same membership rules as the Redis queue and is safe for concurrent use,
// but entries are lost with the process, which the durable store recovers from.
type InMemoryDelayQueue struct {
	mu      sync.Mutex
	delayed delayHeap
	index   map[string]*delayEntry // delayed entries by message ID
	ready   []string
	inReady map[string]struct{}
	signal  chan struct{} // closed and replaced on every push to ready
	now     func() time.Time
}

type delayEntry struct {
	messageID string
	dueAt     time.Time
	pos       int
}

// delayHeap is a min-heap on due time
type delayHeap []*delayEntry

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].dueAt.Before(h[j].dueAt) }
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *delayHeap) Push(x any) {
	e := x.(*delayEntry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// NewInMemoryDelayQueue creates an empty in-memory delay queue
func NewInMemoryDelayQueue() *InMemoryDelayQueue {
	return &InMemoryDelayQueue{
		index:   make(map[string]*delayEntry),
		inReady: make(map[string]struct{}),
		signal:  make(chan struct{}),
		now:     time.Now,
	}
}

// Schedule inserts or re-schedules a message
func (q *InMemoryDelayQueue) Schedule(ctx context.Context, messageID string, dueAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !dueAt.After(q.now()) {
		q.removeDelayedLocked(messageID)
		q.pushReadyLocked(messageID)
		return nil
	}

	if _, ready := q.inReady[messageID]; ready {
		return nil
	}

	if e, ok := q.index[messageID]; ok {
		e.dueAt = dueAt
		heap.Fix(&q.delayed, e.pos)
		return nil
	}

	e := &delayEntry{messageID: messageID, dueAt: dueAt}
	heap.Push(&q.delayed, e)
	q.index[messageID] = e
	return nil
}

// PromoteDue moves every entry due at or before now to the ready stage
func (q *InMemoryDelayQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := 0
	for q.delayed.Len() > 0 && !q.delayed[0].dueAt.After(now) {
		e := heap.Pop(&q.delayed).(*delayEntry)
		delete(q.index, e.messageID)
		q.pushReadyLocked(e.messageID)
		moved++
	}
	return moved, nil
}

// PopReady waits at most timeout for a ready entry
func (q *InMemoryDelayQueue) PopReady(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			id := q.ready[0]
			q.ready = q.ready[1:]
			delete(q.inReady, id)
			q.mu.Unlock()
			return id, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", ErrNoMessage
		case <-signal:
		}
	}
}

// PushReady appends a message to the ready stage unless already present
func (q *InMemoryDelayQueue) PushReady(ctx context.Context, messageID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeDelayedLocked(messageID)
	return q.pushReadyLocked(messageID), nil
}

// Contains reports membership in either stage
func (q *InMemoryDelayQueue) Contains(ctx context.Context, messageID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.index[messageID]; ok {
		return true, nil
	}
	_, ok := q.inReady[messageID]
	return ok, nil
}

// Remove drops a message from both stages
func (q *InMemoryDelayQueue) Remove(ctx context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeDelayedLocked(messageID)
	if _, ok := q.inReady[messageID]; ok {
		delete(q.inReady, messageID)
		for i, id := range q.ready {
			if id == messageID {
				q.ready = append(q.ready[:i], q.ready[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Size returns the depth of both stages
func (q *InMemoryDelayQueue) Size(ctx context.Context) (QueueSize, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueSize{Delayed: int64(q.delayed.Len()), Ready: int64(len(q.ready))}, nil
}

// Clear drops every entry, simulating the loss of queue state in a crash
func (q *InMemoryDelayQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.delayed = nil
	q.index = make(map[string]*delayEntry)
	q.ready = nil
	q.inReady = make(map[string]struct{})
	return nil
}

func (q *InMemoryDelayQueue) removeDelayedLocked(messageID string) {
	if e, ok := q.index[messageID]; ok {
		heap.Remove(&q.delayed, e.pos)
		delete(q.index, messageID)
	}
}

func (q *InMemoryDelayQueue) pushReadyLocked(messageID string) bool {
	if _, ok := q.inReady[messageID]; ok {
		return false
	}
	q.ready = append(q.ready, messageID)
	q.inReady[messageID] = struct{}{}

	// Wake waiting consumers
	close(q.signal)
	q.signal = make(chan struct{})
	return true
}

package refresh

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/linabrihoum/microcap-trader/internal/domain"
)

// Task is one pending refresh of a symbol
type Task struct {
	Symbol      string
	UseCase     domain.UseCase
	Priority    domain.Priority
	RetryCount  int
	ErrorCount  int
	CreatedAt   time.Time
	LastAttempt time.Time

	// NotBefore delays a retried task without blocking the worker: the
	// task sits in the queue but is not handed out until this instant.
	// Zero means immediately eligible.
	NotBefore time.Time
}

// taskLess is the explicit ordering rule for ready tasks: higher priority
// weight first, then older tasks first within the same priority.
func taskLess(a, b *Task) bool {
	if aw, bw := a.Priority.Weight(), b.Priority.Weight(); aw != bw {
		return aw > bw
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// readyHeap orders eligible tasks by taskLess
type readyHeap []*Task

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return taskLess(h[i], h[j]) }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// parkedHeap orders delayed tasks by when they become eligible
type parkedHeap []*Task

func (h parkedHeap) Len() int            { return len(h) }
func (h parkedHeap) Less(i, j int) bool  { return h[i].NotBefore.Before(h[j].NotBefore) }
func (h parkedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *parkedHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }
func (h *parkedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Queue is a bounded, concurrency-safe priority queue of refresh tasks.
// Ready tasks are handed out by priority then age; tasks with a future
// NotBefore are parked and promoted once their delay elapses, so a retry
// backoff never stalls the rest of the queue.
type Queue struct {
	mu      sync.Mutex
	maxSize int
	ready   readyHeap
	parked  parkedHeap
	notify  chan struct{}
}

// NewQueue creates a queue holding at most maxSize tasks
func NewQueue(maxSize int) *Queue {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Queue{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Push inserts a task. It reports false when the queue is full: queued
// work is never evicted to make room, producers back off instead.
func (q *Queue) Push(t *Task) bool {
	q.mu.Lock()
	if len(q.ready)+len(q.parked) >= q.maxSize {
		q.mu.Unlock()
		return false
	}
	if t.NotBefore.After(time.Now()) {
		heap.Push(&q.parked, t)
	} else {
		heap.Push(&q.ready, t)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes and returns the highest-priority eligible task, waiting up
// to wait for one to appear. It returns false when the wait window passes
// with nothing eligible or the context is canceled.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (*Task, bool) {
	deadline := time.Now().Add(wait)

	for {
		now := time.Now()

		q.mu.Lock()
		q.promoteLocked(now)
		if len(q.ready) > 0 {
			t := heap.Pop(&q.ready).(*Task)
			q.mu.Unlock()
			return t, true
		}
		sleep := deadline.Sub(now)
		if len(q.parked) > 0 {
			if until := q.parked[0].NotBefore.Sub(now); until < sleep {
				sleep = until
			}
		}
		q.mu.Unlock()

		if now.After(deadline) {
			return nil, false
		}
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len returns the total number of queued tasks, parked ones included
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.parked)
}

// promoteLocked moves parked tasks whose delay has elapsed into the ready
// heap. Caller must hold q.mu.
func (q *Queue) promoteLocked(now time.Time) {
	for len(q.parked) > 0 && !q.parked[0].NotBefore.After(now) {
		t := heap.Pop(&q.parked).(*Task)
		heap.Push(&q.ready, t)
	}
}

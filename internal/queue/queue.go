// Package queue implements the in-process priority queue: three FIFO bands
// (P0, P1, P2) checked highest-first, consulting the dependency graph so a
// blocked task is never dequeued.
package queue

import (
	"sync"
	"time"

	"github.com/dean0x/claudine-sub000/internal/depgraph"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// entry wraps a queued task with the time it was enqueued, so ties within
// a priority band break FIFO.
type entry struct {
	task       *task.Task
	enqueuedAt time.Time
}

// Queue is the priority-ordered, dependency-aware task queue.
type Queue struct {
	mu    sync.Mutex
	bands map[task.Priority][]*entry
	graph *depgraph.Graph
}

var priorityOrder = []task.Priority{task.P0, task.P1, task.P2}

// New creates an empty queue consulting graph for blocking decisions.
func New(graph *depgraph.Graph) *Queue {
	return &Queue{
		bands: map[task.Priority][]*entry{
			task.P0: {},
			task.P1: {},
			task.P2: {},
		},
		graph: graph,
	}
}

// Enqueue appends t to the back of its priority band.
func (q *Queue) Enqueue(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bands[t.Priority] = append(q.bands[t.Priority], &entry{task: t, enqueuedAt: time.Now().UTC()})
}

// EnqueueFront puts t at the head of its priority band, used by RequeueTask
// so a task that failed to spawn is retried before newer arrivals.
func (q *Queue) EnqueueFront(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := &entry{task: t, enqueuedAt: time.Now().UTC()}
	q.bands[t.Priority] = append([]*entry{e}, q.bands[t.Priority]...)
}

// Dequeue removes and returns the highest-priority, earliest-enqueued,
// unblocked task. Returns nil if no eligible task exists.
func (q *Queue) Dequeue() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		band := q.bands[p]
		for i, e := range band {
			if q.graph != nil && q.graph.IsBlocked(e.task.ID) {
				continue
			}
			q.bands[p] = append(band[:i:i], band[i+1:]...)
			return e.task
		}
	}
	return nil
}

// Peek returns the task Dequeue would return, without removing it.
func (q *Queue) Peek() *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		for _, e := range q.bands[p] {
			if q.graph != nil && q.graph.IsBlocked(e.task.ID) {
				continue
			}
			return e.task
		}
	}
	return nil
}

// Remove deletes a task from whichever band holds it.
func (q *Queue) Remove(id task.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		band := q.bands[p]
		for i, e := range band {
			if e.task.ID == id {
				q.bands[p] = append(band[:i:i], band[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Size returns the total number of queued tasks across all bands,
// including ones currently blocked.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, band := range q.bands {
		total += len(band)
	}
	return total
}

// SizeByPriority returns the queued count for one priority band.
func (q *Queue) SizeByPriority(p task.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bands[p])
}

// IsEmpty reports whether every band is empty.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Contains reports whether id is currently queued.
func (q *Queue) Contains(id task.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, band := range q.bands {
		for _, e := range band {
			if e.task.ID == id {
				return true
			}
		}
	}
	return false
}

// Clear empties every band.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := range q.bands {
		q.bands[p] = nil
	}
}

// Package repository provides the in-memory, point-in-time-consistent store
// of Task records that the persistence handler writes through.
package repository

import (
	"sort"
	"sync"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/task"
)

const defaultFindAllLimit = 100

// writeLocks serializes writes per task id without serializing reads or
// writes to unrelated ids, matching the "writes serialized per id" contract.
type writeLocks struct {
	mu    sync.Mutex
	locks map[task.ID]*sync.Mutex
}

func newWriteLocks() *writeLocks {
	return &writeLocks{locks: make(map[task.ID]*sync.Mutex)}
}

func (w *writeLocks) lockFor(id task.ID) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.locks[id]
	if !ok {
		l = &sync.Mutex{}
		w.locks[id] = l
	}
	return l
}

// Repository is a durable store of Task records keyed by task id.
type Repository struct {
	mu      sync.RWMutex
	tasks   map[task.ID]*task.Task
	writers *writeLocks
}

// New creates an empty repository.
func New() *Repository {
	return &Repository{
		tasks:   make(map[task.ID]*task.Task),
		writers: newWriteLocks(),
	}
}

// Save upserts a task. Save is idempotent: calling it twice with the same
// id and content leaves the store unchanged.
func (r *Repository) Save(t *task.Task) error {
	if t == nil {
		return errs.New(errs.InvalidInput, "task must not be nil")
	}

	lock := r.writers.lockFor(t.ID)
	lock.Lock()
	defer lock.Unlock()

	clone := t.Clone()

	r.mu.Lock()
	r.tasks[t.ID] = clone
	r.mu.Unlock()

	return nil
}

// Update mutates fields on the stored task via patch, under the per-id write
// lock, and persists the result.
func (r *Repository) Update(id task.ID, patch func(t *task.Task)) (*task.Task, error) {
	lock := r.writers.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	existing, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.TaskNotFound, "task not found").WithContext(map[string]any{"taskId": id})
	}

	updated := existing.Clone()
	patch(updated)

	r.mu.Lock()
	r.tasks[id] = updated
	r.mu.Unlock()

	return updated.Clone(), nil
}

// FindByID returns a snapshot of the task, or a TaskNotFound error.
func (r *Repository) FindByID(id task.ID) (*task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, errs.New(errs.TaskNotFound, "task not found").WithContext(map[string]any{"taskId": id})
	}
	return t.Clone(), nil
}

// FindAll returns a point-in-time-consistent page ordered by createdAt
// descending. limit<=0 defaults to, and is capped at, 100.
func (r *Repository) FindAll(limit, offset int) ([]*task.Task, error) {
	if limit <= 0 || limit > defaultFindAllLimit {
		limit = defaultFindAllLimit
	}
	if offset < 0 {
		offset = 0
	}

	all := r.snapshotSorted()

	if offset >= len(all) {
		return []*task.Task{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// FindAllUnbounded returns every task ordered by createdAt descending,
// bypassing the 100-row page cap. Callers must be certain of the cost.
func (r *Repository) FindAllUnbounded() ([]*task.Task, error) {
	return r.snapshotSorted(), nil
}

// FindByStatus returns every task in the given status, createdAt descending.
func (r *Repository) FindByStatus(status task.Status) ([]*task.Task, error) {
	all := r.snapshotSorted()
	matched := make([]*task.Task, 0, len(all))
	for _, t := range all {
		if t.Status == status {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// Count returns the total number of stored tasks.
func (r *Repository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks), nil
}

// Delete removes one task. Deleting an unknown id is not an error.
func (r *Repository) Delete(id task.ID) error {
	lock := r.writers.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
	return nil
}

// DeleteAll clears the store.
func (r *Repository) DeleteAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = make(map[task.ID]*task.Task)
	return nil
}

func (r *Repository) snapshotSorted() []*task.Task {
	r.mu.RLock()
	all := make([]*task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		all = append(all, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

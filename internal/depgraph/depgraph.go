// Package depgraph tracks inter-task dependency edges and answers
// blocking/unblocking queries for the dependency handler and the queue.
package depgraph

import (
	"sync"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// Resolution is the outcome recorded against a dependency edge once its
// `to` task reaches a terminal status.
type Resolution struct {
	To     task.ID
	Status task.Status
}

// Graph is a DAG of "from depends on to" edges: to must resolve before
// from may run. It is safe for concurrent use; callers that need an
// atomic add-then-query sequence should serialize externally (the
// Dependency Handler owns all mutation in the running system).
type Graph struct {
	mu sync.Mutex

	// dependencies[from][to] is true once the edge from->to has resolved.
	dependencies map[task.ID]map[task.ID]bool
	// dependents[to] is the set of froms that depend on to.
	dependents map[task.ID]map[task.ID]struct{}
	// resolutions[from][to] records the terminal status to resolved as,
	// once known.
	resolutions map[task.ID]map[task.ID]task.Status
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{
		dependencies: make(map[task.ID]map[task.ID]bool),
		dependents:   make(map[task.ID]map[task.ID]struct{}),
		resolutions:  make(map[task.ID]map[task.ID]task.Status),
	}
}

// AddEdge records that from depends on to. toExists reflects whether the
// caller (the Dependency Handler, consulting the repository) has already
// confirmed the to task exists; when false, AddEdge rejects the edge
// without mutating the graph so the caller can emit TaskDependencyFailed.
func (g *Graph) AddEdge(from, to task.ID, toExists bool) error {
	if from == to {
		return errs.New(errs.InvalidOperation, "a task cannot depend on itself").
			WithContext(map[string]any{"taskId": from})
	}
	if !toExists {
		return errs.New(errs.TaskNotFound, "dependency target does not exist").
			WithContext(map[string]any{"from": from, "to": to})
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reaches(to, from) {
		return errs.New(errs.InvalidOperation, "edge would introduce a cycle").
			WithContext(map[string]any{"from": from, "to": to})
	}

	if g.dependencies[from] == nil {
		g.dependencies[from] = make(map[task.ID]bool)
	}
	g.dependencies[from][to] = false

	if g.dependents[to] == nil {
		g.dependents[to] = make(map[task.ID]struct{})
	}
	g.dependents[to][from] = struct{}{}

	return nil
}

// reaches reports whether a DFS starting at start can reach target,
// following "depends on" edges. Must be called with g.mu held.
func (g *Graph) reaches(start, target task.ID) bool {
	if start == target {
		return true
	}
	visited := make(map[task.ID]struct{})
	var visit func(task.ID) bool
	visit = func(id task.ID) bool {
		if id == target {
			return true
		}
		if _, seen := visited[id]; seen {
			return false
		}
		visited[id] = struct{}{}
		for to := range g.dependencies[id] {
			if visit(to) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

// GetDependencies returns the ids that from depends on.
func (g *Graph) GetDependencies(from task.ID) []task.ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	deps := g.dependencies[from]
	out := make([]task.ID, 0, len(deps))
	for to := range deps {
		out = append(out, to)
	}
	return out
}

// GetDependents returns the ids that depend on to.
func (g *Graph) GetDependents(to task.ID) []task.ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	froms := g.dependents[to]
	out := make([]task.ID, 0, len(froms))
	for from := range froms {
		out = append(out, from)
	}
	return out
}

// IsBlocked reports whether from has at least one unresolved dependency.
// A task with no recorded dependencies is never blocked.
func (g *Graph) IsBlocked(from task.ID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, resolved := range g.dependencies[from] {
		if !resolved {
			return true
		}
	}
	return false
}

// ResolveDependency marks the from->to edge resolved with the given
// terminal status. It returns whether from has just become fully
// unblocked (all its edges resolved) and whether any resolved dependency
// was non-COMPLETED (signalling the dependent should fail).
func (g *Graph) ResolveDependency(from, to task.ID, status task.Status) (unblocked bool, anyFailed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dependencies[from] == nil {
		return false, false
	}
	if _, ok := g.dependencies[from][to]; !ok {
		return false, false
	}

	g.dependencies[from][to] = true
	if g.resolutions[from] == nil {
		g.resolutions[from] = make(map[task.ID]task.Status)
	}
	g.resolutions[from][to] = status

	allResolved := true
	anyNonCompleted := false
	for dep, resolved := range g.dependencies[from] {
		if !resolved {
			allResolved = false
			break
		}
		if st, ok := g.resolutions[from][dep]; ok && st != task.Completed {
			anyNonCompleted = true
		}
	}

	return allResolved, allResolved && anyNonCompleted
}

// RemoveTask purges every edge that references id, as either endpoint.
// After RemoveTask returns, no query observes an edge touching id.
func (g *Graph) RemoveTask(id task.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for to := range g.dependencies[id] {
		delete(g.dependents[to], id)
	}
	delete(g.dependencies, id)
	delete(g.resolutions, id)

	for from := range g.dependents[id] {
		delete(g.dependencies[from], id)
		delete(g.resolutions[from], id)
	}
	delete(g.dependents, id)
}

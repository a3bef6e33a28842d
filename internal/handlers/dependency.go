package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/depgraph"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// DependencyHandler wires a newly delegated task's dependsOn set into the
// graph and, on every terminal event, resolves the outgoing edges of
// whichever dependents are waiting on that task.
type DependencyHandler struct {
	bus   *bus.Bus
	graph *depgraph.Graph
	repo  *repository.Repository
	log   zerolog.Logger
}

// NewDependencyHandler builds a DependencyHandler.
func NewDependencyHandler(b *bus.Bus, graph *depgraph.Graph, repo *repository.Repository, log zerolog.Logger) *DependencyHandler {
	return &DependencyHandler{bus: b, graph: graph, repo: repo, log: log.With().Str("handler", "dependency").Logger()}
}

// Register subscribes this handler's traffic on b. Dependency-edge
// registration is deliberately NOT wired to TaskDelegated here: Emit fans a
// single event out to every subscriber concurrently, so a
// persistence-handler sibling racing this handler's edge-add could let
// queue.onPersisted observe a not-yet-blocked dependent before the edge
// exists. RegisterDependencies is instead called synchronously by the
// orchestrator before TaskDelegated is emitted at all, so every edge is in
// the graph before any subscriber can see the task.
func (h *DependencyHandler) Register() error {
	subs := []struct {
		evtType bus.EventType
		handler bus.Handler
	}{
		{events.TaskCompleted, h.onCompleted},
		{events.TaskFailed, h.onFailed},
		{events.TaskCancelled, h.onCancelled},
	}
	for _, s := range subs {
		if _, err := h.bus.Subscribe(s.evtType, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDependencies adds t's dependsOn edges to the graph. Callers must
// invoke this and let it return before the task becomes visible to any
// other handler (i.e. before emitting TaskDelegated), so that a dependent's
// blocked/unblocked state is never observed mid-registration.
func (h *DependencyHandler) RegisterDependencies(ctx context.Context, t *task.Task) error {
	for depID := range t.DependsOn {
		_, err := h.repo.FindByID(depID)
		exists := err == nil
		if addErr := h.graph.AddEdge(t.ID, depID, exists); addErr != nil {
			if !exists {
				_ = h.bus.Emit(ctx, events.TaskDependencyFailed, events.TaskDependencyFailedPayload{
					TaskID:       t.ID,
					DependencyID: depID,
					Reason:       "dependency task does not exist",
				})
			} else {
				h.log.Warn().Err(addErr).Str("taskId", t.ID.String()).Str("dependsOn", depID.String()).Msg("rejected dependency edge")
			}
		}
	}
	return nil
}

func (h *DependencyHandler) onCompleted(ctx context.Context, payload any) error {
	return h.resolve(ctx, payload.(events.TaskCompletedPayload).TaskID, task.Completed)
}

func (h *DependencyHandler) onFailed(ctx context.Context, payload any) error {
	return h.resolve(ctx, payload.(events.TaskFailedPayload).TaskID, task.Failed)
}

func (h *DependencyHandler) onCancelled(ctx context.Context, payload any) error {
	return h.resolve(ctx, payload.(events.TaskCancelledPayload).TaskID, task.Cancelled)
}

// resolve marks id's status against every dependent waiting on it, emitting
// TaskUnblocked for dependents whose every dependency is now resolved
// cleanly, or TaskFailed(dependency_failed) for those poisoned by this or
// an earlier failing dependency.
func (h *DependencyHandler) resolve(ctx context.Context, id task.ID, status task.Status) error {
	dependents := h.graph.GetDependents(id)
	for _, depID := range dependents {
		unblocked, anyFailed := h.graph.ResolveDependency(depID, id, status)
		if !unblocked {
			continue
		}
		if anyFailed {
			_ = h.bus.Emit(ctx, events.TaskFailed, events.TaskFailedPayload{
				TaskID:   depID,
				ExitCode: -1,
				Cause:    "dependency_failed",
			})
			continue
		}
		t, err := h.repo.FindByID(depID)
		if err != nil {
			if errs.Is(err, errs.TaskNotFound) {
				continue
			}
			return err
		}
		_ = h.bus.Emit(ctx, events.TaskUnblocked, events.TaskUnblockedPayload{TaskID: depID, Task: t})
	}
	return nil
}

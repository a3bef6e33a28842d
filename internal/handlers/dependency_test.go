package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/depgraph"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/task"
)

func TestDependencyHandler_RegisterDependencies_AddsEdgeForExistingDependency(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	graph := depgraph.New()
	repo := repository.New()
	h := NewDependencyHandler(b, graph, repo, zerolog.Nop())
	require.NoError(t, h.Register())

	dep := newTestTask(t)
	require.NoError(t, repo.Save(dep))

	tk := newTestTask(t)
	tk.DependsOn = map[task.ID]struct{}{dep.ID: {}}

	// RegisterDependencies is called synchronously by the orchestrator
	// before TaskDelegated is ever emitted, so the edge exists before any
	// subscriber (queue.onPersisted in particular) can observe the task.
	require.NoError(t, h.RegisterDependencies(context.Background(), tk))

	assert.True(t, graph.IsBlocked(tk.ID))
	assert.Contains(t, graph.GetDependencies(tk.ID), dep.ID)
}

func TestDependencyHandler_RegisterDependencies_EmitsDependencyFailedForMissingDependency(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	graph := depgraph.New()
	repo := repository.New()
	h := NewDependencyHandler(b, graph, repo, zerolog.Nop())
	require.NoError(t, h.Register())

	missing := task.NewID()
	tk := newTestTask(t)
	tk.DependsOn = map[task.ID]struct{}{missing: {}}

	failedCh := make(chan events.TaskDependencyFailedPayload, 1)
	_, err := b.Subscribe(events.TaskDependencyFailed, func(ctx context.Context, payload any) error {
		failedCh <- payload.(events.TaskDependencyFailedPayload)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, h.RegisterDependencies(context.Background(), tk))

	select {
	case got := <-failedCh:
		assert.Equal(t, tk.ID, got.TaskID)
		assert.Equal(t, missing, got.DependencyID)
	case <-time.After(time.Second):
		t.Fatal("expected TaskDependencyFailed")
	}
}

func TestDependencyHandler_Resolve_EmitsUnblockedWhenAllDependenciesSucceed(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	graph := depgraph.New()
	repo := repository.New()
	h := NewDependencyHandler(b, graph, repo, zerolog.Nop())
	require.NoError(t, h.Register())

	dep := newTestTask(t)
	require.NoError(t, repo.Save(dep))
	tk := newTestTask(t)
	require.NoError(t, repo.Save(tk))
	require.NoError(t, graph.AddEdge(tk.ID, dep.ID, true))

	unblockedCh := make(chan events.TaskUnblockedPayload, 1)
	_, err := b.Subscribe(events.TaskUnblocked, func(ctx context.Context, payload any) error {
		unblockedCh <- payload.(events.TaskUnblockedPayload)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), events.TaskCompleted, events.TaskCompletedPayload{TaskID: dep.ID, ExitCode: 0}))

	select {
	case got := <-unblockedCh:
		assert.Equal(t, tk.ID, got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("expected TaskUnblocked")
	}
}

func TestDependencyHandler_Resolve_PropagatesFailureToDependent(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	graph := depgraph.New()
	repo := repository.New()
	h := NewDependencyHandler(b, graph, repo, zerolog.Nop())
	require.NoError(t, h.Register())

	dep := newTestTask(t)
	require.NoError(t, repo.Save(dep))
	tk := newTestTask(t)
	require.NoError(t, repo.Save(tk))
	require.NoError(t, graph.AddEdge(tk.ID, dep.ID, true))

	failedCh := make(chan events.TaskFailedPayload, 2)
	_, err := b.Subscribe(events.TaskFailed, func(ctx context.Context, payload any) error {
		failedCh <- payload.(events.TaskFailedPayload)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(context.Background(), events.TaskFailed, events.TaskFailedPayload{TaskID: dep.ID, ExitCode: 1, Cause: "boom"}))

	deadline := time.After(time.Second)
	for {
		select {
		case got := <-failedCh:
			if got.TaskID == tk.ID {
				assert.Equal(t, "dependency_failed", got.Cause)
				return
			}
		case <-deadline:
			t.Fatal("expected propagated TaskFailed")
		}
	}
}

package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/depgraph"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/queue"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/resource"
	"github.com/dean0x/claudine-sub000/internal/task"
	"github.com/dean0x/claudine-sub000/internal/worker"
)

type fakeSampler struct {
	load1, load5, load15  float64
	available, total      int64
}

func (f fakeSampler) LoadAverage() (float64, float64, float64, error) { return f.load1, f.load5, f.load15, nil }
func (f fakeSampler) Memory() (int64, int64, error)                   { return f.available, f.total, nil }

func newAdmittingMonitor() *resource.Monitor {
	return resource.New(resource.WithSampler(fakeSampler{load1: 0.1, available: 8 << 30, total: 16 << 30}))
}

// harness wires WorkerHandler to a real worker.Pool, a real queue.Queue and
// a minimal QueueHandler so NextTaskQuery has an answer, matching how the
// orchestrator assembles the mesh.
func newWorkerHarness(t *testing.T, rm *resource.Monitor, minSpawnDelay, spawnBackoff time.Duration) (*WorkerHandler, *queue.Queue, *worker.Pool) {
	t.Helper()
	b := newTestBus()
	t.Cleanup(b.Dispose)

	graph := depgraph.New()
	q := queue.New(graph)
	qh := NewQueueHandler(b, q, graph, zerolog.Nop())
	require.NoError(t, qh.Register())

	capture := output.New()
	var wh *WorkerHandler
	pool := worker.New(capture, zerolog.Nop(), worker.WithCallbacks(
		func(taskID task.ID, workerID string, exitCode int) { wh.HandleWorkerComplete(taskID, workerID, exitCode) },
		func(taskID task.ID, workerID string, err error) { wh.HandleWorkerTimeout(taskID, workerID, err) },
	))

	wh = NewWorkerHandler(b, rm, pool, q, minSpawnDelay, spawnBackoff, time.Second, zerolog.Nop())
	require.NoError(t, wh.Register())

	return wh, q, pool
}

func TestWorkerHandler_SpawnsOnTaskQueued(t *testing.T) {
	rm := newAdmittingMonitor()
	wh, q, pool := newWorkerHarness(t, rm, 0, time.Millisecond)
	_ = wh

	tk := newTestTask(t)
	tk.Prompt = "echo hello"
	q.Enqueue(tk)

	startedCh := make(chan events.TaskStartedPayload, 1)
	_, err := wh.bus.Subscribe(events.TaskStarted, func(ctx context.Context, payload any) error {
		startedCh <- payload.(events.TaskStartedPayload)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, wh.bus.Emit(context.Background(), events.TaskQueued, events.TaskQueuedPayload{Task: tk}))

	select {
	case got := <-startedCh:
		assert.Equal(t, tk.ID, got.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected TaskStarted")
	}
	assert.Equal(t, 1, pool.GetWorkerCount())
}

func TestWorkerHandler_ResourceGateDeniesAndReschedules(t *testing.T) {
	denyingMonitor := resource.New(resource.WithSampler(fakeSampler{load1: 999, available: 8 << 30, total: 16 << 30}))
	wh, q, _ := newWorkerHarness(t, denyingMonitor, 0, 30*time.Millisecond)

	tk := newTestTask(t)
	q.Enqueue(tk)

	wh.processNextTask(context.Background())
	// Denied: task is still sitting in the queue, nothing was dequeued.
	assert.True(t, q.Contains(tk.ID))
}

func TestWorkerHandler_SpawnDelayGateDefersSecondSpawn(t *testing.T) {
	rm := newAdmittingMonitor()
	wh, q, pool := newWorkerHarness(t, rm, 200*time.Millisecond, time.Millisecond)

	first := newTestTask(t)
	first.Prompt = "sleep 0.3"
	second := newTestTask(t)
	second.Prompt = "true"
	q.Enqueue(first)
	q.Enqueue(second)

	wh.processNextTask(context.Background())
	require.Eventually(t, func() bool { return pool.GetWorkerCount() >= 1 }, time.Second, 10*time.Millisecond)

	wh.processNextTask(context.Background())
	// Still blocked by the spawn-delay gate immediately after; the second
	// task must still be sitting in the queue.
	assert.True(t, q.Contains(second.ID))

	require.Eventually(t, func() bool { return !q.Contains(second.ID) }, 2*time.Second, 20*time.Millisecond)
}

func TestWorkerHandler_CancellationRequested_TaskNotFound(t *testing.T) {
	rm := newAdmittingMonitor()
	wh, _, _ := newWorkerHarness(t, rm, 0, time.Millisecond)

	qh := NewQueryHandler(wh.bus, repository.New(), output.New(), zerolog.Nop())
	require.NoError(t, qh.Register())

	_, err := wh.bus.Request(context.Background(), events.TaskCancellationRequested, events.TaskCancellationRequestedPayload{TaskID: task.NewID()}, time.Second)
	require.Error(t, err)
	assert.Equal(t, errs.TaskNotFound, errs.KindOf(err))
}

func TestWorkerHandler_CancellationRequested_CannotCancelCompleted(t *testing.T) {
	rm := newAdmittingMonitor()
	wh, _, _ := newWorkerHarness(t, rm, 0, time.Millisecond)

	repo := repository.New()
	tk := newTestTask(t)
	require.NoError(t, repo.Save(tk))
	_, err := repo.Update(tk.ID, func(t *task.Task) {
		_ = task.NewStateMachine(t).Start("w1")
		_ = task.NewStateMachine(t).Complete(0)
	})
	require.NoError(t, err)

	qh := NewQueryHandler(wh.bus, repo, output.New(), zerolog.Nop())
	require.NoError(t, qh.Register())

	_, reqErr := wh.bus.Request(context.Background(), events.TaskCancellationRequested, events.TaskCancellationRequestedPayload{TaskID: tk.ID}, time.Second)
	require.Error(t, reqErr)
	assert.Equal(t, errs.TaskCannotCancel, errs.KindOf(reqErr))
}

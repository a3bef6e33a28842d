package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/metrics"
	"github.com/dean0x/claudine-sub000/internal/queue"
	"github.com/dean0x/claudine-sub000/internal/resource"
	"github.com/dean0x/claudine-sub000/internal/task"
	"github.com/dean0x/claudine-sub000/internal/worker"
)

// WorkerHandler is the hardest single piece of the mesh: it is the only
// component allowed to pull a task off the queue and turn it into a live
// process, and it must never let two pulls overlap. processNextTask holds a
// single-slot lock across the whole pipeline; a gate that isn't ready
// releases the lock and reschedules itself with time.AfterFunc rather than
// sleeping inside the critical section, so a later TaskQueued delivery is
// never blocked behind a timer.
type WorkerHandler struct {
	mu sync.Mutex

	bus      *bus.Bus
	resource *resource.Monitor
	pool     *worker.Pool
	q        *queue.Queue
	log      zerolog.Logger

	minSpawnDelay  time.Duration
	spawnBackoff   time.Duration
	requestTimeout time.Duration

	cancelled sync.Map // task.ID -> struct{}, set just before a deliberate kill
}

// NewWorkerHandler builds a WorkerHandler. minSpawnDelay enforces the
// minimum interval between successful spawns; spawnBackoff is the retry
// interval after a resource-gate denial.
func NewWorkerHandler(b *bus.Bus, rm *resource.Monitor, pool *worker.Pool, q *queue.Queue, minSpawnDelay, spawnBackoff, requestTimeout time.Duration, log zerolog.Logger) *WorkerHandler {
	return &WorkerHandler{
		bus:            b,
		resource:       rm,
		pool:           pool,
		q:              q,
		minSpawnDelay:  minSpawnDelay,
		spawnBackoff:   spawnBackoff,
		requestTimeout: requestTimeout,
		log:            log.With().Str("handler", "worker").Logger(),
	}
}

// Register subscribes this handler's traffic on b. The worker pool's own
// completion/timeout callbacks must separately be wired to
// HandleWorkerComplete/HandleWorkerTimeout by the orchestrator at
// construction time (the pool has no bus dependency of its own).
func (h *WorkerHandler) Register() error {
	if _, err := h.bus.Subscribe(events.TaskQueued, h.onTaskQueued); err != nil {
		return err
	}
	if _, err := h.bus.Subscribe(events.TaskCancellationRequested, h.onCancellationRequested); err != nil {
		return err
	}
	return nil
}

func (h *WorkerHandler) onTaskQueued(ctx context.Context, payload any) error {
	h.processNextTask(ctx)
	return nil
}

// processNextTask runs the pinned pipeline: spawn-delay gate, resource
// gate, task fetch, TaskStarting emit, spawn, record success. Any gate
// failure or fetch-empty returns without side effects other than
// rescheduling itself.
func (h *WorkerHandler) processNextTask(ctx context.Context) {
	h.mu.Lock()

	if last := h.resource.LastSpawnTime(); !last.IsZero() {
		if elapsed := time.Since(last); elapsed < h.minSpawnDelay {
			remaining := h.minSpawnDelay - elapsed
			h.mu.Unlock()
			metrics.RecordSpawnGateDenied("spawn_delay")
			time.AfterFunc(remaining, func() { h.processNextTask(ctx) })
			return
		}
	}

	if !h.resource.CanSpawnWorker() {
		h.mu.Unlock()
		metrics.RecordSpawnGateDenied("resource")
		time.AfterFunc(h.spawnBackoff, func() { h.processNextTask(ctx) })
		return
	}

	result, err := h.bus.Request(ctx, events.NextTaskQuery, nil, h.requestTimeout)
	if err != nil {
		h.mu.Unlock()
		h.log.Warn().Err(err).Msg("NextTaskQuery request failed")
		return
	}
	t, _ := result.(*task.Task)
	if t == nil {
		h.mu.Unlock()
		return
	}

	if err := h.bus.Emit(ctx, events.TaskStarting, events.TaskStartingPayload{Task: t}); err != nil {
		// A TaskStarting subscriber vetoed or failed: the task goes back
		// to the queue, but this is not itself a task failure.
		h.bus.Emit(ctx, events.RequeueTask, events.RequeueTaskPayload{Task: t})
		h.mu.Unlock()
		return
	}

	w, spawnErr := h.pool.Spawn(t)
	if spawnErr != nil {
		h.bus.Emit(ctx, events.RequeueTask, events.RequeueTaskPayload{Task: t})
		h.bus.Emit(ctx, events.TaskFailed, events.TaskFailedPayload{TaskID: t.ID, ExitCode: 1, Cause: spawnErr.Error()})
		h.mu.Unlock()
		return
	}

	h.resource.RecordSpawn()
	h.resource.IncrementWorkerCount()
	h.mu.Unlock()

	h.bus.Emit(ctx, events.WorkerSpawned, events.WorkerSpawnedPayload{WorkerID: w.ID, TaskID: t.ID})
	h.bus.Emit(ctx, events.TaskStarted, events.TaskStartedPayload{TaskID: t.ID, WorkerID: w.ID})
}

func (h *WorkerHandler) onCancellationRequested(ctx context.Context, payload any) error {
	env, ok := requestEnvelope(payload)
	if !ok {
		return errs.New(errs.InvalidOperation, "TaskCancellationRequested delivered outside a request")
	}
	req := env.Payload.(events.TaskCancellationRequestedPayload)

	result, err := h.bus.Request(ctx, events.TaskStatusQuery, events.TaskStatusQueryPayload{TaskID: &req.TaskID}, h.requestTimeout)
	if err != nil {
		h.bus.RespondError(env.CorrelationID, errs.New(errs.TaskNotFound, "task not found").WithContext(map[string]any{"taskId": req.TaskID.String()}))
		return nil
	}
	t, _ := result.(*task.Task)
	if t == nil {
		h.bus.RespondError(env.CorrelationID, errs.New(errs.TaskNotFound, "task not found"))
		return nil
	}

	if t.Status != task.Queued && t.Status != task.Running {
		h.bus.RespondError(env.CorrelationID, errs.New(errs.TaskCannotCancel, "task is not queued or running").
			WithContext(map[string]any{"status": t.Status.String()}))
		return nil
	}

	if t.Status == task.Queued {
		h.q.Remove(req.TaskID)
		_ = h.bus.Emit(ctx, events.TaskCancelled, events.TaskCancelledPayload{TaskID: req.TaskID, Reason: req.Reason})
		h.bus.Respond(env.CorrelationID, nil)
		return nil
	}

	w, found := h.pool.GetWorkerForTask(req.TaskID)
	if !found {
		// RUNNING with no live worker: nothing to kill, let recovery or
		// the next timeout settle it. Report success so the caller isn't
		// blocked on a process that no longer exists.
		h.bus.Respond(env.CorrelationID, nil)
		return nil
	}
	h.cancelled.Store(req.TaskID, struct{}{})
	if err := h.pool.Kill(w.ID); err != nil {
		h.cancelled.Delete(req.TaskID)
		h.bus.RespondError(env.CorrelationID, err)
		return nil
	}
	_ = h.bus.Emit(ctx, events.WorkerKilled, events.WorkerKilledPayload{WorkerID: w.ID, TaskID: req.TaskID})
	h.bus.Respond(env.CorrelationID, nil)
	return nil
}

// HandleWorkerComplete is wired as the worker pool's OnComplete callback.
// It distinguishes a deliberate cancellation kill from a natural exit so
// exactly one terminal event fires per worker.
func (h *WorkerHandler) HandleWorkerComplete(taskID task.ID, workerID string, exitCode int) {
	h.resource.DecrementWorkerCount()
	ctx := background()

	if _, wasCancelled := h.cancelled.LoadAndDelete(taskID); wasCancelled {
		h.bus.Emit(ctx, events.TaskCancelled, events.TaskCancelledPayload{TaskID: taskID, Reason: "cancelled"})
		return
	}

	if exitCode == 0 {
		h.bus.Emit(ctx, events.TaskCompleted, events.TaskCompletedPayload{TaskID: taskID, ExitCode: exitCode})
		return
	}
	h.bus.Emit(ctx, events.TaskFailed, events.TaskFailedPayload{TaskID: taskID, ExitCode: exitCode, Cause: "nonzero_exit"})
}

// HandleWorkerTimeout is wired as the worker pool's OnTimeout callback. The
// process has already been killed by its timeout context when this runs,
// and the pool never separately calls HandleWorkerComplete for the same exit.
func (h *WorkerHandler) HandleWorkerTimeout(taskID task.ID, workerID string, _ error) {
	h.resource.DecrementWorkerCount()
	h.bus.Emit(background(), events.TaskTimeout, events.TaskTimeoutPayload{TaskID: taskID})
}

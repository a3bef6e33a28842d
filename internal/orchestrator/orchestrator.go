// Package orchestrator assembles every subsystem package into the handler
// mesh and exposes the supervisor's external command surface: Delegate,
// Status, Logs, Cancel, Retry. Wiring order mirrors the teacher's
// cmd/api-server/main.go + cmd/worker/main.go boot sequence (config,
// logger, storage, pool, server, leaf-first); shutdown sequencing is
// ygrebnov-workers' lifecycleCoordinator idiom generalized from "close
// exactly once" to "shut the mesh down exactly once, in order".
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/config"
	"github.com/dean0x/claudine-sub000/internal/container"
	"github.com/dean0x/claudine-sub000/internal/depgraph"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/handlers"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/queue"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/resource"
	"github.com/dean0x/claudine-sub000/internal/task"
	"github.com/dean0x/claudine-sub000/internal/worker"
)

// Orchestrator owns the assembled component graph. internal/api talks to
// nothing else.
type Orchestrator struct {
	cfg *config.Config
	log zerolog.Logger

	container *container.Container

	bus      *bus.Bus
	repo     *repository.Repository
	capture  *output.Capture
	graph    *depgraph.Graph
	q        *queue.Queue
	resource *resource.Monitor
	pool     *worker.Pool
	bridge   events.Bridge

	checkpoints   *handlers.CheckpointStore
	workerHandler *handlers.WorkerHandler
	depHandler    *handlers.DependencyHandler

	bridgeSubs []string
}

// New builds and wires the full component graph via the DI container and
// runs boot-time recovery. bridge may be nil; when non-nil every
// broadcast-style lifecycle event is additionally fanned out through it
// (e.g. to Redis Pub/Sub for an external dashboard process).
func New(cfg *config.Config, log zerolog.Logger, bridge events.Bridge) (*Orchestrator, error) {
	c := container.New()
	o := &Orchestrator{cfg: cfg, log: log, container: c, bridge: bridge}

	c.RegisterSingleton("bus", func(*container.Container) (any, error) {
		busCfg := bus.Config{
			MaxListenersPerEvent:  cfg.Bus.MaxListenersPerEvent,
			MaxTotalSubscriptions: cfg.Bus.MaxTotalSubscriptions,
			DefaultRequestTimeout: cfg.Bus.RequestTimeout,
			GCInterval:            cfg.Bus.CleanupInterval / 2,
			StaleRequestAge:       cfg.Bus.CleanupInterval,
		}
		return bus.New(busCfg, log.With().Str("component", "bus").Logger()), nil
	})
	c.RegisterSingleton("repository", func(*container.Container) (any, error) {
		return repository.New(), nil
	})
	c.RegisterSingleton("capture", func(*container.Container) (any, error) {
		return output.New(
			output.WithMaxOutputBuffer(cfg.Output.MaxOutputBuffer),
			output.WithFileStorageThreshold(cfg.Output.FileStorageThresholdBytes),
			output.WithFilesystem(afero.NewOsFs(), "./supervisor-output"),
		), nil
	})
	c.RegisterSingleton("depgraph", func(*container.Container) (any, error) {
		return depgraph.New(), nil
	})
	c.RegisterSingleton("queue", func(c *container.Container) (any, error) {
		g, err := resolveAs[*depgraph.Graph](c, "depgraph")
		if err != nil {
			return nil, err
		}
		return queue.New(g), nil
	})
	c.RegisterSingleton("resource", func(*container.Container) (any, error) {
		return resource.New(
			resource.WithReservedCapacity(cfg.Resource.CPUCoresReserved, cfg.Resource.MemoryReserve),
			resource.WithThresholds(resource.Thresholds{
				MaxCPUPercent:  cfg.Resource.MaxCPUPercent,
				MinMemoryBytes: cfg.Resource.MinMemoryBytes,
			}),
		), nil
	})

	var err error
	if o.bus, err = resolveAs[*bus.Bus](c, "bus"); err != nil {
		return nil, err
	}
	if o.repo, err = resolveAs[*repository.Repository](c, "repository"); err != nil {
		return nil, err
	}
	if o.capture, err = resolveAs[*output.Capture](c, "capture"); err != nil {
		return nil, err
	}
	if o.graph, err = resolveAs[*depgraph.Graph](c, "depgraph"); err != nil {
		return nil, err
	}
	if o.q, err = resolveAs[*queue.Queue](c, "queue"); err != nil {
		return nil, err
	}
	if o.resource, err = resolveAs[*resource.Monitor](c, "resource"); err != nil {
		return nil, err
	}

	o.checkpoints = handlers.NewCheckpointStore()

	// worker.Pool's callbacks must close over the WorkerHandler, but the
	// WorkerHandler needs the Pool instance to construct. Forward-declare
	// and assign after both exist, same two-phase trick the worker handler's
	// own test harness uses: the callbacks never fire before this function
	// returns.
	var wh *handlers.WorkerHandler
	o.pool = worker.New(o.capture, log.With().Str("component", "worker-pool").Logger(),
		worker.WithKillGracePeriod(cfg.Worker.KillGracePeriod),
		worker.WithCallbacks(
			func(taskID task.ID, workerID string, exitCode int) { wh.HandleWorkerComplete(taskID, workerID, exitCode) },
			func(taskID task.ID, workerID string, err error) { wh.HandleWorkerTimeout(taskID, workerID, err) },
		),
	)
	wh = handlers.NewWorkerHandler(o.bus, o.resource, o.pool, o.q,
		cfg.Worker.MinSpawnDelay, cfg.Worker.SpawnBackoff, cfg.Bus.RequestTimeout,
		log.With().Str("handler", "worker").Logger())
	o.workerHandler = wh

	o.depHandler = handlers.NewDependencyHandler(o.bus, o.graph, o.repo, log.With().Str("handler", "dependency").Logger())

	mesh := []interface {
		Register() error
	}{
		handlers.NewPersistenceHandler(o.bus, o.repo, log.With().Str("handler", "persistence").Logger()),
		handlers.NewQueryHandler(o.bus, o.repo, o.capture, log.With().Str("handler", "query").Logger()),
		handlers.NewQueueHandler(o.bus, o.q, o.graph, log.With().Str("handler", "queue").Logger()),
		o.depHandler,
		handlers.NewCheckpointHandler(o.bus, o.checkpoints, o.capture, log.With().Str("handler", "checkpoint").Logger()),
		handlers.NewOutputHandler(o.bus, log.With().Str("handler", "output").Logger()),
		o.workerHandler,
	}
	for _, h := range mesh {
		if err := h.Register(); err != nil {
			return nil, fmt.Errorf("registering handler: %w", err)
		}
	}

	if bridge != nil {
		o.wireBridge()
	}

	recovery := handlers.NewRecoveryHandler(o.bus, o.repo, log.With().Str("handler", "recovery").Logger())
	if err := recovery.Run(context.Background()); err != nil {
		return nil, fmt.Errorf("boot recovery: %w", err)
	}

	return o, nil
}

// resolveAs resolves name from c and type-asserts it to T, collapsing the
// container's `any` contract back down to a concrete type at each call
// site instead of scattering assertions through the wiring code above.
func resolveAs[T any](c *container.Container, name string) (T, error) {
	var zero T
	inst, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	t, ok := inst.(T)
	if !ok {
		return zero, errs.New(errs.DependencyInjectionFailed, fmt.Sprintf("component %q has unexpected type", name))
	}
	return t, nil
}

// wireBridge subscribes a forwarding handler for every broadcast event
// type, fanning each one out through o.bridge. Runs after the handler
// mesh's own subscriptions so its own listener slot never displaces a
// Request-style responder (BroadcastEventTypes excludes those anyway).
func (o *Orchestrator) wireBridge() {
	for _, et := range events.BroadcastEventTypes {
		evtType := et
		id, err := o.bus.Subscribe(evtType, func(ctx context.Context, payload any) error {
			if err := o.bridge.Publish(evtType, payload); err != nil {
				o.log.Warn().Err(err).Str("eventType", string(evtType)).Msg("bridge publish failed")
			}
			return nil
		})
		if err != nil {
			o.log.Warn().Err(err).Str("eventType", string(evtType)).Msg("failed to subscribe bridge forwarder")
			continue
		}
		o.bridgeSubs = append(o.bridgeSubs, id)
	}
}

// Bus returns the underlying event bus, for internal/api's websocket hub
// to subscribe against directly.
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Resource exposes the resource monitor for a health endpoint.
func (o *Orchestrator) Resource() *resource.Monitor { return o.resource }

// Pool exposes the worker pool for a health endpoint.
func (o *Orchestrator) Pool() *worker.Pool { return o.pool }

// Repository exposes the task repository for a health endpoint.
func (o *Orchestrator) Repository() *repository.Repository { return o.repo }

// Delegate validates and admits a new task, persisting it and queuing it
// (subject to dependency blocking) before returning. Dependency edges are
// registered before TaskDelegated is emitted so the queue handler never
// observes a dependent as unblocked ahead of its edges existing.
func (o *Orchestrator) Delegate(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	t, err := task.New(req, o.cfg.Output.MaxOutputBuffer)
	if err != nil {
		return nil, err
	}
	if err := o.depHandler.RegisterDependencies(ctx, t); err != nil {
		return nil, err
	}
	if err := o.bus.Emit(ctx, events.TaskDelegated, events.TaskDelegatedPayload{Task: t}); err != nil {
		return nil, err
	}
	return t, nil
}

// Status returns one task's current snapshot, or every task (newest first,
// capped per internal/repository) when id is nil.
func (o *Orchestrator) Status(ctx context.Context, id *task.ID) (any, error) {
	return o.bus.Request(ctx, events.TaskStatusQuery, events.TaskStatusQueryPayload{TaskID: id}, 0)
}

// Logs returns the captured stdout/stderr for a task, tail-bounded.
func (o *Orchestrator) Logs(ctx context.Context, id task.ID, tail int) (output.Snapshot, error) {
	res, err := o.bus.Request(ctx, events.TaskLogsQuery, events.TaskLogsQueryPayload{TaskID: id, Tail: tail}, 0)
	if err != nil {
		return output.Snapshot{}, err
	}
	return res.(output.Snapshot), nil
}

// Cancel requests cancellation of a queued or running task.
func (o *Orchestrator) Cancel(ctx context.Context, id task.ID, reason string) error {
	_, err := o.bus.Request(ctx, events.TaskCancellationRequested, events.TaskCancellationRequestedPayload{TaskID: id, Reason: reason}, 0)
	return err
}

// Retry re-delegates a terminal task as a fresh QUEUED task, carrying
// forward its command, priority, working directory, timeout and
// dependencies, with parentTaskId set to the original and retryCount
// incremented. Only a task that has reached a terminal status may be
// retried.
func (o *Orchestrator) Retry(ctx context.Context, id task.ID) (*task.Task, error) {
	res, err := o.bus.Request(ctx, events.TaskStatusQuery, events.TaskStatusQueryPayload{TaskID: &id}, 0)
	if err != nil {
		return nil, err
	}
	original := res.(*task.Task)
	if !original.Status.IsTerminal() {
		return nil, errs.New(errs.InvalidOperation, "only a task in a terminal status may be retried").
			WithContext(map[string]any{"taskId": id, "status": original.Status.String()})
	}

	deps := make([]task.ID, 0, len(original.DependsOn))
	for d := range original.DependsOn {
		deps = append(deps, d)
	}

	retried, err := task.New(task.CreateRequest{
		Prompt:           original.Prompt,
		Priority:         original.Priority,
		WorkingDirectory: original.WorkingDirectory,
		Timeout:          original.Timeout,
		MaxOutputBuffer:  original.MaxOutputBuffer,
		DependsOn:        deps,
		ParentTaskID:     original.ID,
	}, o.cfg.Output.MaxOutputBuffer)
	if err != nil {
		return nil, err
	}
	retried.RetryCount = original.RetryCount + 1

	if err := o.depHandler.RegisterDependencies(ctx, retried); err != nil {
		return nil, err
	}
	if err := o.bus.Emit(ctx, events.TaskDelegated, events.TaskDelegatedPayload{Task: retried}); err != nil {
		return nil, err
	}
	return retried, nil
}

// Shutdown drains the worker pool and tears the bus down, in the order
// ygrebnov-workers' lifecycleCoordinator uses for its own exactly-once
// shutdown: signal intent, kill every live worker, wait (up to
// drainTimeout) for the pool to empty, then release shared resources. New
// spawns are not blocked while it drains. Safe to call once.
func (o *Orchestrator) Shutdown(ctx context.Context, drainTimeout time.Duration) error {
	_ = o.bus.Emit(ctx, events.ShutdownInitiated, nil)

	o.pool.KillAll()

	deadline := time.Now().Add(drainTimeout)
	for o.pool.GetWorkerCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	_ = o.bus.Emit(ctx, events.ShutdownComplete, nil)

	for _, id := range o.bridgeSubs {
		_ = o.bus.Unsubscribe(id)
	}
	if o.bridge != nil {
		_ = o.bridge.Close()
	}
	if err := o.capture.Cleanup(); err != nil {
		o.log.Warn().Err(err).Msg("output capture cleanup failed during shutdown")
	}
	o.bus.Dispose()
	return nil
}

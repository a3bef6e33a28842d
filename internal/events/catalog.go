// Package events defines the lifecycle event catalog the handler mesh
// communicates over, plus an optional bridge that fans bus events out to
// Redis Pub/Sub for other processes to observe.
package events

import (
	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// Lifecycle and coordination events exchanged over the bus. Names mirror
// the request surface the handler mesh agrees on; payload shapes are
// documented alongside each constant.
const (
	// TaskDelegated carries TaskDelegatedPayload.
	TaskDelegated bus.EventType = "TaskDelegated"
	// TaskQueued carries TaskQueuedPayload.
	TaskQueued bus.EventType = "TaskQueued"
	// TaskStarting carries TaskStartingPayload.
	TaskStarting bus.EventType = "TaskStarting"
	// TaskStarted carries TaskStartedPayload.
	TaskStarted bus.EventType = "TaskStarted"
	// TaskCompleted carries TaskCompletedPayload.
	TaskCompleted bus.EventType = "TaskCompleted"
	// TaskFailed carries TaskFailedPayload.
	TaskFailed bus.EventType = "TaskFailed"
	// TaskCancelled carries TaskCancelledPayload.
	TaskCancelled bus.EventType = "TaskCancelled"
	// TaskTimeout carries TaskTimeoutPayload.
	TaskTimeout bus.EventType = "TaskTimeout"
	// TaskPersisted carries TaskPersistedPayload.
	TaskPersisted bus.EventType = "TaskPersisted"
	// TaskUnblocked carries TaskUnblockedPayload.
	TaskUnblocked bus.EventType = "TaskUnblocked"
	// TaskDependencyFailed carries TaskDependencyFailedPayload.
	TaskDependencyFailed bus.EventType = "TaskDependencyFailed"

	// TaskStatusQuery is a bus.Request carrying TaskStatusQueryPayload.
	TaskStatusQuery bus.EventType = "TaskStatusQuery"
	// TaskLogsQuery is a bus.Request carrying TaskLogsQueryPayload.
	TaskLogsQuery bus.EventType = "TaskLogsQuery"
	// LogsRequested carries TaskLogsQueryPayload; forwarded to the query path.
	LogsRequested bus.EventType = "LogsRequested"
	// NextTaskQuery is a bus.Request carrying no payload; responds with
	// *task.Task or nil.
	NextTaskQuery bus.EventType = "NextTaskQuery"
	// RequeueTask carries RequeueTaskPayload.
	RequeueTask bus.EventType = "RequeueTask"
	// TaskCancellationRequested carries TaskCancellationRequestedPayload.
	TaskCancellationRequested bus.EventType = "TaskCancellationRequested"

	// WorkerSpawned carries WorkerSpawnedPayload.
	WorkerSpawned bus.EventType = "WorkerSpawned"
	// WorkerKilled carries WorkerKilledPayload.
	WorkerKilled bus.EventType = "WorkerKilled"

	// RecoveryStarted carries no payload.
	RecoveryStarted bus.EventType = "RecoveryStarted"
	// RecoveryCompleted carries RecoveryCompletedPayload.
	RecoveryCompleted bus.EventType = "RecoveryCompleted"

	// ShutdownInitiated carries no payload.
	ShutdownInitiated bus.EventType = "ShutdownInitiated"
	// ShutdownComplete carries no payload.
	ShutdownComplete bus.EventType = "ShutdownComplete"
)

// BroadcastEventTypes lists every fan-out (Emit) lifecycle event, in the
// order an external observer would find most useful. Excludes the
// Request-style query/command events (TaskStatusQuery, NextTaskQuery, ...)
// since those have exactly one handler and bridging them would steal that
// slot from the real responder.
var BroadcastEventTypes = []bus.EventType{
	TaskDelegated, TaskQueued, TaskStarting, TaskStarted,
	TaskCompleted, TaskFailed, TaskCancelled, TaskTimeout,
	TaskPersisted, TaskUnblocked, TaskDependencyFailed,
	WorkerSpawned, WorkerKilled,
	RecoveryStarted, RecoveryCompleted,
	ShutdownInitiated, ShutdownComplete,
}

type TaskDelegatedPayload struct {
	Task *task.Task
}

type TaskQueuedPayload struct {
	Task *task.Task
}

type TaskStartingPayload struct {
	Task *task.Task
}

type TaskStartedPayload struct {
	TaskID   task.ID
	WorkerID string
}

type TaskCompletedPayload struct {
	TaskID   task.ID
	ExitCode int
}

type TaskFailedPayload struct {
	TaskID   task.ID
	ExitCode int
	Cause    string
}

type TaskCancelledPayload struct {
	TaskID task.ID
	Reason string
}

type TaskTimeoutPayload struct {
	TaskID task.ID
}

type TaskPersistedPayload struct {
	TaskID task.ID
	Task   *task.Task
}

type TaskUnblockedPayload struct {
	TaskID task.ID
	Task   *task.Task
}

type TaskDependencyFailedPayload struct {
	TaskID       task.ID
	DependencyID task.ID
	Reason       string
}

type TaskStatusQueryPayload struct {
	TaskID *task.ID // nil means "all tasks"
}

type TaskLogsQueryPayload struct {
	TaskID task.ID
	Tail   int
}

type RequeueTaskPayload struct {
	Task *task.Task
}

type TaskCancellationRequestedPayload struct {
	TaskID task.ID
	Reason string
}

type WorkerSpawnedPayload struct {
	WorkerID string
	TaskID   task.ID
}

type WorkerKilledPayload struct {
	WorkerID string
	TaskID   task.ID
}

type RecoveryCompletedPayload struct {
	TasksRecovered    int
	TasksMarkedFailed int
}

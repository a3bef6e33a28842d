package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/metrics"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// RecoveryHandler reconciles the repository against reality once at boot:
// a RUNNING task can only mean the previous process died mid-flight (there
// is no live worker to resume into), so it is marked FAILED; a QUEUED task
// simply never got a worker and is safe to re-enqueue as-is.
type RecoveryHandler struct {
	bus  *bus.Bus
	repo *repository.Repository
	log  zerolog.Logger
}

// NewRecoveryHandler builds a RecoveryHandler.
func NewRecoveryHandler(b *bus.Bus, repo *repository.Repository, log zerolog.Logger) *RecoveryHandler {
	return &RecoveryHandler{bus: b, repo: repo, log: log.With().Str("handler", "recovery").Logger()}
}

// Run performs one reconciliation pass. It is invoked once by the
// orchestrator before the handler mesh starts accepting new delegations.
func (h *RecoveryHandler) Run(ctx context.Context) error {
	if err := h.bus.Emit(ctx, events.RecoveryStarted, nil); err != nil {
		h.log.Warn().Err(err).Msg("RecoveryStarted fan-out reported a handler failure")
	}

	var recovered, markedFailed int

	running, err := h.repo.FindByStatus(task.Running)
	if err != nil {
		return err
	}
	for _, t := range running {
		updated, err := h.repo.Update(t.ID, func(t *task.Task) {
			_ = task.NewStateMachine(t).Fail(-1, "process_not_found_on_recovery")
		})
		if err != nil {
			h.log.Error().Err(err).Str("taskId", t.ID.String()).Msg("failed to mark orphaned running task as failed")
			continue
		}
		markedFailed++
		_ = h.bus.Emit(ctx, events.TaskFailed, events.TaskFailedPayload{TaskID: updated.ID, ExitCode: -1, Cause: "process_not_found_on_recovery"})
	}

	queued, err := h.repo.FindByStatus(task.Queued)
	if err != nil {
		return err
	}
	for _, t := range queued {
		recovered++
		// Re-enter through TaskPersisted so the queue handler applies its
		// usual blocked-check before enqueuing, rather than re-deriving
		// that logic here.
		_ = h.bus.Emit(ctx, events.TaskPersisted, events.TaskPersistedPayload{TaskID: t.ID, Task: t})
	}

	metrics.RecordRecovery(recovered, markedFailed)
	return h.bus.Emit(ctx, events.RecoveryCompleted, events.RecoveryCompletedPayload{
		TasksRecovered:    recovered,
		TasksMarkedFailed: markedFailed,
	})
}

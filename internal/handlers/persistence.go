package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// PersistenceHandler writes every lifecycle transition through to the
// repository and re-emits TaskPersisted once a freshly delegated task has
// actually landed in the store, so the queue handler never races a task
// that hasn't been saved yet.
type PersistenceHandler struct {
	bus  *bus.Bus
	repo *repository.Repository
	log  zerolog.Logger
}

// NewPersistenceHandler builds a PersistenceHandler over repo.
func NewPersistenceHandler(b *bus.Bus, repo *repository.Repository, log zerolog.Logger) *PersistenceHandler {
	return &PersistenceHandler{bus: b, repo: repo, log: log.With().Str("handler", "persistence").Logger()}
}

// Register subscribes every handled event type on b.
func (h *PersistenceHandler) Register() error {
	subs := []struct {
		evtType bus.EventType
		handler bus.Handler
	}{
		{events.TaskDelegated, h.onDelegated},
		{events.TaskStarted, h.onStarted},
		{events.TaskCompleted, h.onCompleted},
		{events.TaskFailed, h.onFailed},
		{events.TaskCancelled, h.onCancelled},
		{events.TaskTimeout, h.onTimeout},
	}
	for _, s := range subs {
		if _, err := h.bus.Subscribe(s.evtType, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *PersistenceHandler) onDelegated(ctx context.Context, payload any) error {
	p := payload.(events.TaskDelegatedPayload)
	if err := h.repo.Save(p.Task); err != nil {
		h.log.Error().Err(err).Str("taskId", p.Task.ID.String()).Msg("failed to persist delegated task")
		return err
	}
	return h.bus.Emit(ctx, events.TaskPersisted, events.TaskPersistedPayload{TaskID: p.Task.ID, Task: p.Task})
}

func (h *PersistenceHandler) onStarted(ctx context.Context, payload any) error {
	p := payload.(events.TaskStartedPayload)
	_, err := h.repo.Update(p.TaskID, func(t *task.Task) {
		_ = task.NewStateMachine(t).Start(p.WorkerID)
	})
	return err
}

func (h *PersistenceHandler) onCompleted(ctx context.Context, payload any) error {
	p := payload.(events.TaskCompletedPayload)
	_, err := h.repo.Update(p.TaskID, func(t *task.Task) {
		_ = task.NewStateMachine(t).Complete(p.ExitCode)
	})
	return err
}

func (h *PersistenceHandler) onFailed(ctx context.Context, payload any) error {
	p := payload.(events.TaskFailedPayload)
	_, err := h.repo.Update(p.TaskID, func(t *task.Task) {
		_ = task.NewStateMachine(t).Fail(p.ExitCode, p.Cause)
	})
	return err
}

func (h *PersistenceHandler) onCancelled(ctx context.Context, payload any) error {
	p := payload.(events.TaskCancelledPayload)
	_, err := h.repo.Update(p.TaskID, func(t *task.Task) {
		_ = task.NewStateMachine(t).Cancel(p.Reason)
	})
	return err
}

// onTimeout converts a TaskTimeout notification into a FAILED record; the
// worker pool kills the process itself and reports completion separately
// only for natural exits, so this is the sole writer for the timeout path.
func (h *PersistenceHandler) onTimeout(ctx context.Context, payload any) error {
	p := payload.(events.TaskTimeoutPayload)
	_, err := h.repo.Update(p.TaskID, func(t *task.Task) {
		_ = task.NewStateMachine(t).Fail(-1, "task_timeout")
	})
	return err
}

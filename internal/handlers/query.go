package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/repository"
)

// QueryHandler answers TaskStatusQuery and TaskLogsQuery requests by reading
// the repository and output capture directly; it never mutates state.
type QueryHandler struct {
	bus     *bus.Bus
	repo    *repository.Repository
	capture *output.Capture
	log     zerolog.Logger
}

// NewQueryHandler builds a QueryHandler.
func NewQueryHandler(b *bus.Bus, repo *repository.Repository, capture *output.Capture, log zerolog.Logger) *QueryHandler {
	return &QueryHandler{bus: b, repo: repo, capture: capture, log: log.With().Str("handler", "query").Logger()}
}

// Register subscribes the request-style query events on b.
func (h *QueryHandler) Register() error {
	if _, err := h.bus.Subscribe(events.TaskStatusQuery, h.onStatusQuery); err != nil {
		return err
	}
	if _, err := h.bus.Subscribe(events.TaskLogsQuery, h.onLogsQuery); err != nil {
		return err
	}
	return nil
}

func (h *QueryHandler) onStatusQuery(ctx context.Context, payload any) error {
	env, ok := requestEnvelope(payload)
	if !ok {
		return errs.New(errs.InvalidOperation, "TaskStatusQuery delivered outside a request")
	}
	req := env.Payload.(events.TaskStatusQueryPayload)

	if req.TaskID != nil {
		t, err := h.repo.FindByID(*req.TaskID)
		if err != nil {
			h.bus.RespondError(env.CorrelationID, err)
			return nil
		}
		h.bus.Respond(env.CorrelationID, t)
		return nil
	}

	all, err := h.repo.FindAll(0, 0)
	if err != nil {
		h.bus.RespondError(env.CorrelationID, err)
		return nil
	}
	h.bus.Respond(env.CorrelationID, all)
	return nil
}

func (h *QueryHandler) onLogsQuery(ctx context.Context, payload any) error {
	env, ok := requestEnvelope(payload)
	if !ok {
		return errs.New(errs.InvalidOperation, "TaskLogsQuery delivered outside a request")
	}
	req := env.Payload.(events.TaskLogsQueryPayload)

	if _, err := h.repo.FindByID(req.TaskID); err != nil {
		h.bus.RespondError(env.CorrelationID, err)
		return nil
	}

	snap, err := h.capture.GetOutput(req.TaskID, req.Tail)
	if err != nil {
		h.bus.RespondError(env.CorrelationID, err)
		return nil
	}
	h.bus.Respond(env.CorrelationID, snap)
	return nil
}

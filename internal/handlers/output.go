package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
)

// OutputHandler services LogsRequested by delegating to the query handler's
// TaskLogsQuery. Stream chunks themselves are wired directly from the
// worker pool into output.Capture (a per-byte bus round trip bought nothing
// but latency); this handler only covers the request surface external
// callers use.
type OutputHandler struct {
	bus *bus.Bus
	log zerolog.Logger
}

// NewOutputHandler builds an OutputHandler.
func NewOutputHandler(b *bus.Bus, log zerolog.Logger) *OutputHandler {
	return &OutputHandler{bus: b, log: log.With().Str("handler", "output").Logger()}
}

// Register subscribes LogsRequested on b.
func (h *OutputHandler) Register() error {
	_, err := h.bus.Subscribe(events.LogsRequested, h.onLogsRequested)
	return err
}

func (h *OutputHandler) onLogsRequested(ctx context.Context, payload any) error {
	env, ok := requestEnvelope(payload)
	if !ok {
		return errs.New(errs.InvalidOperation, "LogsRequested delivered outside a request")
	}
	req := env.Payload.(events.TaskLogsQueryPayload)

	result, err := h.bus.Request(ctx, events.TaskLogsQuery, req, 0)
	if err != nil {
		h.bus.RespondError(env.CorrelationID, err)
		return nil
	}
	h.bus.Respond(env.CorrelationID, result)
	return nil
}

package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/depgraph"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/metrics"
	"github.com/dean0x/claudine-sub000/internal/queue"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// QueueHandler is the sole writer of the priority queue: it enqueues tasks
// once they are both persisted and unblocked, and answers NextTaskQuery /
// RequeueTask on behalf of the worker handler.
type QueueHandler struct {
	bus   *bus.Bus
	q     *queue.Queue
	graph *depgraph.Graph
	log   zerolog.Logger
}

// NewQueueHandler builds a QueueHandler.
func NewQueueHandler(b *bus.Bus, q *queue.Queue, graph *depgraph.Graph, log zerolog.Logger) *QueueHandler {
	return &QueueHandler{bus: b, q: q, graph: graph, log: log.With().Str("handler", "queue").Logger()}
}

// Register subscribes this handler's traffic on b.
func (h *QueueHandler) Register() error {
	subs := []struct {
		evtType bus.EventType
		handler bus.Handler
	}{
		{events.TaskPersisted, h.onPersisted},
		{events.TaskUnblocked, h.onUnblocked},
		{events.NextTaskQuery, h.onNextTaskQuery},
		{events.RequeueTask, h.onRequeue},
	}
	for _, s := range subs {
		if _, err := h.bus.Subscribe(s.evtType, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *QueueHandler) onPersisted(ctx context.Context, payload any) error {
	p := payload.(events.TaskPersistedPayload)
	if h.graph.IsBlocked(p.TaskID) {
		return nil
	}
	h.enqueue(ctx, p.Task)
	return nil
}

func (h *QueueHandler) onUnblocked(ctx context.Context, payload any) error {
	p := payload.(events.TaskUnblockedPayload)
	h.enqueue(ctx, p.Task)
	return nil
}

func (h *QueueHandler) enqueue(ctx context.Context, t *task.Task) {
	h.q.Enqueue(t)
	metrics.SetQueueDepth(t.Priority.String(), float64(h.q.SizeByPriority(t.Priority)))
	if err := h.bus.Emit(ctx, events.TaskQueued, events.TaskQueuedPayload{Task: t}); err != nil {
		h.log.Warn().Err(err).Str("taskId", t.ID.String()).Msg("TaskQueued fan-out reported a handler failure")
	}
}

func (h *QueueHandler) onNextTaskQuery(ctx context.Context, payload any) error {
	env, ok := requestEnvelope(payload)
	if !ok {
		return nil
	}
	t := h.q.Dequeue()
	h.bus.Respond(env.CorrelationID, t)
	return nil
}

func (h *QueueHandler) onRequeue(ctx context.Context, payload any) error {
	p := payload.(events.RequeueTaskPayload)
	h.q.EnqueueFront(p.Task)
	return nil
}

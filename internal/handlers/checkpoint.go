package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/task"
)

// checkpointTailLines is how much trailing output a checkpoint retains;
// enough to diagnose a failure without re-reading the full capture buffer.
const checkpointTailLines = 50

// Checkpoint is a terse post-mortem snapshot taken the moment a task
// reaches a terminal state: advisory only, never read back by any
// scheduling decision (an Open Question resolved in DESIGN.md).
type Checkpoint struct {
	TaskID     task.ID
	Status     task.Status
	Reason     string
	Stdout     []string
	Stderr     []string
	CapturedAt time.Time
}

// CheckpointStore holds the latest checkpoint per task.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[task.ID]Checkpoint
}

// NewCheckpointStore builds an empty store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[task.ID]Checkpoint)}
}

func (s *CheckpointStore) put(c Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[c.TaskID] = c
}

// Get returns the checkpoint recorded for id, if any.
func (s *CheckpointStore) Get(id task.ID) (Checkpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkpoints[id]
	return c, ok
}

// CheckpointHandler records a Checkpoint whenever a task reaches a terminal
// state, for operators to inspect after the fact.
type CheckpointHandler struct {
	bus     *bus.Bus
	store   *CheckpointStore
	capture *output.Capture
	log     zerolog.Logger
}

// NewCheckpointHandler builds a CheckpointHandler writing into store.
func NewCheckpointHandler(b *bus.Bus, store *CheckpointStore, capture *output.Capture, log zerolog.Logger) *CheckpointHandler {
	return &CheckpointHandler{bus: b, store: store, capture: capture, log: log.With().Str("handler", "checkpoint").Logger()}
}

// Register subscribes every terminal event on b.
func (h *CheckpointHandler) Register() error {
	subs := []struct {
		evtType bus.EventType
		handler bus.Handler
	}{
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

func (h *CheckpointHandler) capturePayload(id task.ID) ([]string, []string) {
	snap, err := h.capture.GetOutput(id, checkpointTailLines)
	if err != nil {
		return nil, nil
	}
	return snap.Stdout, snap.Stderr
}

func (h *CheckpointHandler) onCompleted(ctx context.Context, payload any) error {
	p := payload.(events.TaskCompletedPayload)
	stdout, stderr := h.capturePayload(p.TaskID)
	h.store.put(Checkpoint{TaskID: p.TaskID, Status: task.Completed, Stdout: stdout, Stderr: stderr, CapturedAt: time.Now().UTC()})
	return nil
}

func (h *CheckpointHandler) onFailed(ctx context.Context, payload any) error {
	p := payload.(events.TaskFailedPayload)
	stdout, stderr := h.capturePayload(p.TaskID)
	h.store.put(Checkpoint{TaskID: p.TaskID, Status: task.Failed, Reason: p.Cause, Stdout: stdout, Stderr: stderr, CapturedAt: time.Now().UTC()})
	return nil
}

func (h *CheckpointHandler) onCancelled(ctx context.Context, payload any) error {
	p := payload.(events.TaskCancelledPayload)
	stdout, stderr := h.capturePayload(p.TaskID)
	h.store.put(Checkpoint{TaskID: p.TaskID, Status: task.Cancelled, Reason: p.Reason, Stdout: stdout, Stderr: stderr, CapturedAt: time.Now().UTC()})
	return nil
}

func (h *CheckpointHandler) onTimeout(ctx context.Context, payload any) error {
	p := payload.(events.TaskTimeoutPayload)
	stdout, stderr := h.capturePayload(p.TaskID)
	h.store.put(Checkpoint{TaskID: p.TaskID, Status: task.Failed, Reason: "task_timeout", Stdout: stdout, Stderr: stderr, CapturedAt: time.Now().UTC()})
	return nil
}

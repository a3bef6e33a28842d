package task

import (
	"time"

	"github.com/dean0x/claudine-sub000/internal/errs"
)

// Status is the task lifecycle state.
type Status int

const (
	Queued Status = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is an absorbing state.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// validTransitions is the complete transition table: QUEUED→RUNNING,
// QUEUED→CANCELLED, QUEUED→FAILED (a failure before any spawn),
// RUNNING→{COMPLETED,FAILED,CANCELLED}. All others are errors.
var validTransitions = map[Status][]Status{
	Queued:  {Running, Cancelled, Failed},
	Running: {Completed, Failed, Cancelled},
}

// CanTransitionTo reports whether s → target is a legal transition.
func (s Status) CanTransitionTo(target Status) bool {
	for _, v := range validTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// StateMachine mutates a Task's status field under the transition table,
// stamping the timestamps and invariants the transition requires.
type StateMachine struct {
	task *Task
}

// NewStateMachine wraps t for guarded transitions.
func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{task: t}
}

func (sm *StateMachine) transition(target Status) error {
	if !sm.task.Status.CanTransitionTo(target) {
		return errs.New(errs.InvalidOperation, "invalid state transition").
			WithContext(map[string]any{"from": sm.task.Status.String(), "to": target.String()})
	}
	sm.task.Status = target
	return nil
}

// Start transitions QUEUED→RUNNING, stamping startedAt and workerId per the
// invariant `status = RUNNING ⇒ startedAt ≠ ⊥ ∧ workerId ≠ ⊥`.
func (sm *StateMachine) Start(workerID string) error {
	if err := sm.transition(Running); err != nil {
		return err
	}
	now := time.Now().UTC()
	sm.task.StartedAt = &now
	sm.task.WorkerID = workerID
	return nil
}

// Complete transitions RUNNING→COMPLETED, recording exitCode.
func (sm *StateMachine) Complete(exitCode int) error {
	if err := sm.transition(Completed); err != nil {
		return err
	}
	sm.stampCompletion(exitCode, "")
	return nil
}

// Fail transitions RUNNING (or QUEUED, for pre-spawn failures) →FAILED.
func (sm *StateMachine) Fail(exitCode int, cause string) error {
	if err := sm.transition(Failed); err != nil {
		return err
	}
	sm.stampCompletion(exitCode, cause)
	return nil
}

// Cancel transitions QUEUED or RUNNING →CANCELLED.
func (sm *StateMachine) Cancel(reason string) error {
	if err := sm.transition(Cancelled); err != nil {
		return err
	}
	sm.stampCompletion(-1, reason)
	return nil
}

func (sm *StateMachine) stampCompletion(exitCode int, cause string) {
	now := time.Now().UTC()
	sm.task.CompletedAt = &now
	if sm.task.StartedAt != nil {
		d := now.Sub(*sm.task.StartedAt)
		sm.task.Duration = &d
	}
	if exitCode >= 0 {
		sm.task.ExitCode = &exitCode
	}
	sm.task.FailureCause = cause
}

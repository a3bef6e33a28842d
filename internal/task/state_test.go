package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{Queued, "QUEUED"},
		{Running, "RUNNING"},
		{Completed, "COMPLETED"},
		{Failed, "FAILED"},
		{Cancelled, "CANCELLED"},
		{Status(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{Completed, Failed, Cancelled}
	nonTerminal := []Status{Queued, Running}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to not be terminal", s)
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{Queued, Running, true},
		{Queued, Cancelled, true},
		{Queued, Completed, false},
		{Queued, Failed, true},
		{Running, Completed, true},
		{Running, Failed, true},
		{Running, Cancelled, true},
		{Running, Queued, false},
		{Completed, Running, false},
		{Cancelled, Queued, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func newTestTask(t *testing.T) *Task {
	t.Helper()
	tk, err := New(CreateRequest{Prompt: "echo hi", Priority: P1}, 1<<20)
	require.NoError(t, err)
	return tk
}

func TestStateMachine_Start(t *testing.T) {
	tk := newTestTask(t)
	sm := NewStateMachine(tk)

	require.NoError(t, sm.Start("worker-1"))
	assert.Equal(t, Running, tk.Status)
	assert.Equal(t, "worker-1", tk.WorkerID)
	require.NotNil(t, tk.StartedAt)
}

func TestStateMachine_Complete(t *testing.T) {
	tk := newTestTask(t)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Start("worker-1"))

	require.NoError(t, sm.Complete(0))
	assert.Equal(t, Completed, tk.Status)
	require.NotNil(t, tk.ExitCode)
	assert.Equal(t, 0, *tk.ExitCode)
	require.NotNil(t, tk.CompletedAt)
	assert.True(t, !tk.CompletedAt.Before(*tk.StartedAt))
	require.NotNil(t, tk.Duration)
}

func TestStateMachine_Fail(t *testing.T) {
	tk := newTestTask(t)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Start("worker-1"))

	require.NoError(t, sm.Fail(1, "nonzero exit"))
	assert.Equal(t, Failed, tk.Status)
	assert.Equal(t, "nonzero exit", tk.FailureCause)
}

func TestStateMachine_Cancel_QueuedOrRunning(t *testing.T) {
	tk := newTestTask(t)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Cancel("user requested"))
	assert.Equal(t, Cancelled, tk.Status)
}

func TestStateMachine_Cancel_TwiceFails(t *testing.T) {
	tk := newTestTask(t)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Cancel("user requested"))

	err := sm.Cancel("again")
	require.Error(t, err)
}

func TestStateMachine_InvalidTransition(t *testing.T) {
	tk := newTestTask(t)
	sm := NewStateMachine(tk)
	err := sm.Complete(0)
	require.Error(t, err)
	assert.Equal(t, Queued, tk.Status)
}

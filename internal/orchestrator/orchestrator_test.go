package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/config"
	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/task"
)

func testConfig() *config.Config {
	return &config.Config{
		Bus: config.BusConfig{
			MaxListenersPerEvent:  100,
			MaxTotalSubscriptions: 1000,
			RequestTimeout:        time.Second,
			CleanupInterval:       time.Hour,
		},
		Resource: config.ResourceConfig{
			MaxCPUPercent:  95,
			MinMemoryBytes: 1,
		},
		Worker: config.WorkerConfig{
			KillGracePeriod: 2 * time.Second,
			MinSpawnDelay:   0,
			SpawnBackoff:    time.Millisecond,
		},
		Output: config.OutputConfig{
			MaxOutputBuffer:           1 << 20,
			FileStorageThresholdBytes: 1 << 20,
		},
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(testConfig(), zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx, time.Second)
	})
	return o
}

func TestOrchestrator_DelegateAndStatus_RoundTrips(t *testing.T) {
	o := newTestOrchestrator(t)

	tk, err := o.Delegate(context.Background(), task.CreateRequest{Prompt: "echo hello"})
	require.NoError(t, err)

	res, err := o.Status(context.Background(), &tk.ID)
	require.NoError(t, err)
	got := res.(*task.Task)
	assert.Equal(t, tk.ID, got.ID)
}

func TestOrchestrator_Delegate_RunsTaskToCompletion(t *testing.T) {
	o := newTestOrchestrator(t)

	tk, err := o.Delegate(context.Background(), task.CreateRequest{Prompt: "echo hello", Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := o.Status(context.Background(), &tk.ID)
		if err != nil {
			return false
		}
		return res.(*task.Task).Status == task.Completed
	}, 3*time.Second, 20*time.Millisecond)

	snap, err := o.Logs(context.Background(), tk.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, snap.Stdout)
}

func TestOrchestrator_Cancel_QueuedTask(t *testing.T) {
	o := newTestOrchestrator(t)

	tk, err := o.Delegate(context.Background(), task.CreateRequest{Prompt: "sleep 5"})
	require.NoError(t, err)

	err = o.Cancel(context.Background(), tk.ID, "operator requested")
	if err != nil {
		// Cancel reports an error for an existing task only once it is
		// already terminal, and that error is TaskCannotCancel.
		assert.Equal(t, errs.TaskCannotCancel, errs.KindOf(err))
		return
	}

	// The task may already be running; its worker is then killed and the
	// CANCELLED record lands once the process exits.
	require.Eventually(t, func() bool {
		res, statusErr := o.Status(context.Background(), &tk.ID)
		return statusErr == nil && res.(*task.Task).Status == task.Cancelled
	}, 3*time.Second, 20*time.Millisecond)
}

func TestOrchestrator_Retry_RequiresTerminalStatus(t *testing.T) {
	o := newTestOrchestrator(t)

	tk, err := o.Delegate(context.Background(), task.CreateRequest{Prompt: "sleep 5"})
	require.NoError(t, err)

	_, err = o.Retry(context.Background(), tk.ID)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidOperation, errs.KindOf(err))
}

func TestOrchestrator_Retry_AfterFailureCreatesLinkedTask(t *testing.T) {
	o := newTestOrchestrator(t)

	tk, err := o.Delegate(context.Background(), task.CreateRequest{Prompt: "false", Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := o.Status(context.Background(), &tk.ID)
		if err != nil {
			return false
		}
		return res.(*task.Task).Status == task.Failed
	}, 3*time.Second, 20*time.Millisecond)

	retried, err := o.Retry(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, retried.ParentTaskID)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, task.Queued, retried.Status)
}

func TestOrchestrator_Status_UnknownTask(t *testing.T) {
	o := newTestOrchestrator(t)

	id := task.NewID()
	_, err := o.Status(context.Background(), &id)
	require.Error(t, err)
	assert.Equal(t, errs.TaskNotFound, errs.KindOf(err))
}

package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/errs"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/repository"
	"github.com/dean0x/claudine-sub000/internal/task"
)

func TestQueryHandler_StatusQuery_ByID(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	repo := repository.New()
	tk := newTestTask(t)
	require.NoError(t, repo.Save(tk))

	h := NewQueryHandler(b, repo, output.New(), zerolog.Nop())
	require.NoError(t, h.Register())

	result, err := b.Request(context.Background(), events.TaskStatusQuery, events.TaskStatusQueryPayload{TaskID: &tk.ID}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, result.(*task.Task).ID)
}

func TestQueryHandler_StatusQuery_UnknownID(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	repo := repository.New()

	h := NewQueryHandler(b, repo, output.New(), zerolog.Nop())
	require.NoError(t, h.Register())

	missing := task.NewID()
	_, err := b.Request(context.Background(), events.TaskStatusQuery, events.TaskStatusQueryPayload{TaskID: &missing}, time.Second)
	require.Error(t, err)
	assert.Equal(t, errs.TaskNotFound, errs.KindOf(err))
}

func TestQueryHandler_StatusQuery_AllTasks(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	repo := repository.New()
	require.NoError(t, repo.Save(newTestTask(t)))
	require.NoError(t, repo.Save(newTestTask(t)))

	h := NewQueryHandler(b, repo, output.New(), zerolog.Nop())
	require.NoError(t, h.Register())

	result, err := b.Request(context.Background(), events.TaskStatusQuery, events.TaskStatusQueryPayload{}, time.Second)
	require.NoError(t, err)
	assert.Len(t, result.([]*task.Task), 2)
}

func TestQueryHandler_LogsQuery(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	repo := repository.New()
	tk := newTestTask(t)
	require.NoError(t, repo.Save(tk))

	capture := output.New()
	require.NoError(t, capture.Capture(tk.ID, output.Stdout, []byte("line1\nline2\n")))

	h := NewQueryHandler(b, repo, capture, zerolog.Nop())
	require.NoError(t, h.Register())

	result, err := b.Request(context.Background(), events.TaskLogsQuery, events.TaskLogsQueryPayload{TaskID: tk.ID}, time.Second)
	require.NoError(t, err)
	snap := result.(output.Snapshot)
	assert.Equal(t, []string{"line1", "line2"}, snap.Stdout)
}

func TestQueryHandler_LogsQuery_UnknownTask(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	repo := repository.New()

	h := NewQueryHandler(b, repo, output.New(), zerolog.Nop())
	require.NoError(t, h.Register())

	_, err := b.Request(context.Background(), events.TaskLogsQuery, events.TaskLogsQueryPayload{TaskID: task.NewID()}, time.Second)
	require.Error(t, err)
}

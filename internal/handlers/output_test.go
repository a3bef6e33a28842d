package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/output"
	"github.com/dean0x/claudine-sub000/internal/repository"
)

func TestOutputHandler_LogsRequested_DelegatesToLogsQuery(t *testing.T) {
	b := newTestBus()
	defer b.Dispose()
	repo := repository.New()
	capture := output.New()
	tk := newTestTask(t)
	require.NoError(t, repo.Save(tk))
	require.NoError(t, capture.Capture(tk.ID, output.Stdout, []byte("hello\n")))

	require.NoError(t, NewQueryHandler(b, repo, capture, zerolog.Nop()).Register())
	require.NoError(t, NewOutputHandler(b, zerolog.Nop()).Register())

	result, err := b.Request(context.Background(), events.LogsRequested, events.TaskLogsQueryPayload{TaskID: tk.ID}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, result.(output.Snapshot).Stdout)
}

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dean0x/claudine-sub000/internal/task"
)

func TestNewEnvelope_RoundTrips(t *testing.T) {
	id := task.NewID()
	payload := TaskStartedPayload{TaskID: id, WorkerID: "worker-1"}

	envelope, err := NewEnvelope(TaskStarted, payload)
	require.NoError(t, err)
	assert.Equal(t, TaskStarted, envelope.Type)
	assert.False(t, envelope.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), envelope.Timestamp, time.Second)

	data, err := envelope.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, TaskStarted, restored.Type)

	var decoded TaskStartedPayload
	require.NoError(t, json.Unmarshal(restored.Data, &decoded))
	assert.Equal(t, id, decoded.TaskID)
	assert.Equal(t, "worker-1", decoded.WorkerID)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

package events

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dean0x/claudine-sub000/internal/task"
)

func newUnreachableBridge() *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
	return NewRedisBridge(client, zerolog.Nop())
}

func TestRedisBridge_ChannelName(t *testing.T) {
	b := newUnreachableBridge()
	assert.Equal(t, "supervisor:events:TaskStarted", b.channelName(TaskStarted))
}

func TestRedisBridge_Publish_PropagatesConnectionFailure(t *testing.T) {
	b := newUnreachableBridge()
	err := b.Publish(TaskStarted, TaskStartedPayload{TaskID: task.NewID(), WorkerID: "w1"})
	assert.Error(t, err)
}

func TestRedisBridge_Close_IsNoop(t *testing.T) {
	b := newUnreachableBridge()
	assert.NoError(t, b.Close())
}

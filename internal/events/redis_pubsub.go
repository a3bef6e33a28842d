package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/bus"
)

const channelPrefix = "supervisor:events:"

// RedisBridge fans lifecycle events out to Redis Pub/Sub so other
// processes (dashboards, a separate query replica) can observe them
// without coupling to the in-process event bus. Entirely optional: the
// orchestrator runs correctly with no Bridge configured.
type RedisBridge struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisBridge creates a bridge publishing through client.
func NewRedisBridge(client *redis.Client, log zerolog.Logger) *RedisBridge {
	return &RedisBridge{client: client, log: log}
}

// Publish serializes payload into an Envelope and publishes it on the
// channel for eventType.
func (r *RedisBridge) Publish(eventType bus.EventType, payload any) error {
	envelope, err := NewEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to build envelope: %w", err)
	}
	data, err := envelope.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}

	ctx := context.Background()
	if err := r.client.Publish(ctx, r.channelName(eventType), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	r.log.Debug().Str("eventType", string(eventType)).Msg("fanned out event to redis")
	return nil
}

// Subscribe listens for envelopes of the given event types, returning a
// channel of decoded Envelopes that closes when ctx is cancelled.
func (r *RedisBridge) Subscribe(ctx context.Context, eventTypes ...bus.EventType) (<-chan *Envelope, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = r.channelName(et)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan *Envelope, 100)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				envelope, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					r.log.Error().Err(err).Msg("failed to parse event envelope")
					continue
				}
				select {
				case out <- envelope:
				default:
					r.log.Warn().Str("eventType", string(envelope.Type)).Msg("bridge subscriber channel full, dropping event")
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: the bridge does not own long-lived subscriptions of
// its own (Subscribe callers own their context's lifetime).
func (r *RedisBridge) Close() error {
	return nil
}

func (r *RedisBridge) channelName(eventType bus.EventType) string {
	return channelPrefix + string(eventType)
}

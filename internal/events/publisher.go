package events

import (
	"encoding/json"
	"time"

	"github.com/dean0x/claudine-sub000/internal/bus"
)

// Envelope is the wire shape used when lifecycle events are fanned out to
// an external subscriber (e.g. over Redis Pub/Sub, or a WebSocket hub).
// It is deliberately looser than the in-process payload structs so it
// serializes without caring about the originating Go type.
type Envelope struct {
	Type      bus.EventType   `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into an Envelope ready for external
// transport.
func NewEnvelope(eventType bus.EventType, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: eventType, Timestamp: time.Now().UTC(), Data: data}, nil
}

// ToJSON serializes the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Bridge fans every bus event of interest out to an external sink.
type Bridge interface {
	Publish(eventType bus.EventType, payload any) error
	Close() error
}

package websocket

import (
	"context"
	"sync"

	"github.com/dean0x/claudine-sub000/internal/bus"
	"github.com/dean0x/claudine-sub000/internal/events"
	"github.com/dean0x/claudine-sub000/internal/logger"
	"github.com/dean0x/claudine-sub000/internal/metrics"
)

// Hub manages WebSocket clients and broadcasts lifecycle events subscribed
// directly off the in-process event bus. An optional events.Bridge still
// fans the same traffic out to Redis for a second process; the hub itself
// no longer depends on one.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *events.Envelope
	register   chan *Client
	unregister chan *Client
	bus        *bus.Bus
	subIDs     []string
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub creates a new WebSocket hub bound to b.
func NewHub(b *bus.Bus) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *events.Envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		bus:        b,
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to every broadcast lifecycle event and starts the hub's
// dispatch loop.
func (h *Hub) Run(ctx context.Context) {
	for _, et := range events.BroadcastEventTypes {
		evtType := et
		id, err := h.bus.Subscribe(evtType, func(_ context.Context, payload any) error {
			envelope, err := events.NewEnvelope(evtType, payload)
			if err != nil {
				logger.Error().Err(err).Str("eventType", string(evtType)).Msg("failed to build envelope for broadcast")
				return nil
			}
			h.Broadcast(envelope)
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Str("eventType", string(evtType)).Msg("failed to subscribe hub to event")
			continue
		}
		h.subIDs = append(h.subIDs, id)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client registered")

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.ClientCount()))
				logger.Debug().Str("client_id", client.ID).Msg("client unregistered")

			case envelope := <-h.broadcast:
				h.broadcastEnvelope(envelope)
			}
		}
	}()

	logger.Info().Msg("WebSocket hub started")
}

// Stop stops the hub and unsubscribes from the bus.
func (h *Hub) Stop() {
	for _, id := range h.subIDs {
		_ = h.bus.Unsubscribe(id)
	}
	close(h.stopCh)
	h.wg.Wait()
	logger.Info().Msg("WebSocket hub stopped")
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends an envelope to all connected clients.
func (h *Hub) Broadcast(envelope *events.Envelope) {
	select {
	case h.broadcast <- envelope:
	default:
		logger.Warn().Msg("broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastEnvelope(envelope *events.Envelope) {
	data, err := envelope.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.IsSubscribed(envelope.Type) {
			continue
		}

		select {
		case client.send <- data:
			metrics.RecordWebSocketMessage(string(envelope.Type))
		default:
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

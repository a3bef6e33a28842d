package websocket

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	apimiddleware "github.com/dean0x/claudine-sub000/internal/api/middleware"
	"github.com/dean0x/claudine-sub000/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections. The event stream it serves carries
// full task lifecycle payloads (prompts, exit codes, dependency outcomes),
// so it is gated behind the same credential set /v1 requires rather than
// left open whenever auth is enabled.
type Handler struct {
	hub     *Hub
	authCfg *apimiddleware.AuthConfig
}

// NewHandler creates a new WebSocket handler. authCfg may be nil, which is
// equivalent to an AuthConfig with Enabled=false.
func NewHandler(hub *Hub, authCfg *apimiddleware.AuthConfig) *Handler {
	return &Handler{hub: hub, authCfg: authCfg}
}

// ServeWS handles WebSocket upgrade requests, subscribing the new client to
// every broadcast lifecycle event.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(h.hub, conn)
	client.SubscribeAll()

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	logger.Info().
		Str("client_id", client.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket client connected")
}

// authorized mirrors apimiddleware.Auth's bearer/API-key check: the
// websocket handshake can't run through chi's normal middleware chain
// (the hijacked connection bypasses ResponseWriter-based middleware once
// Upgrade succeeds), so the same credential check runs here, once, before
// upgrading.
func (h *Handler) authorized(r *http.Request) bool {
	if h.authCfg == nil || !h.authCfg.Enabled {
		return true
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return h.authCfg.APIKeys[apiKey]
	}

	authHeader := r.Header.Get("Authorization")
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" || tokenString == authHeader {
		return false
	}

	token, err := jwt.ParseWithClaims(tokenString, &apimiddleware.Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(h.authCfg.JWTSecret), nil
	})
	return err == nil && token.Valid
}

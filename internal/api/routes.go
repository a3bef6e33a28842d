package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dean0x/claudine-sub000/internal/api/handlers"
	apiMiddleware "github.com/dean0x/claudine-sub000/internal/api/middleware"
	"github.com/dean0x/claudine-sub000/internal/api/websocket"
	"github.com/dean0x/claudine-sub000/internal/config"
	"github.com/dean0x/claudine-sub000/internal/orchestrator"
)

// Server wires the orchestrator's command surface onto chi routes, the
// websocket hub, and the Prometheus scrape endpoint.
type Server struct {
	router       *chi.Mux
	config       *config.Config
	orch         *orchestrator.Orchestrator
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
	authCfg      *apiMiddleware.AuthConfig
}

// NewServer creates a new HTTP server bound to orch.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator) *Server {
	wsHub := websocket.NewHub(orch.Bus())
	authCfg := &apiMiddleware.AuthConfig{
		Enabled:         cfg.Auth.Enabled,
		JWTSecret:       cfg.Auth.JWTSecret,
		APIKeys:         cfg.Auth.APIKeys,
		OperatorAPIKeys: cfg.Auth.OperatorAPIKeys,
	}

	s := &Server{
		router:       chi.NewRouter(),
		config:       cfg,
		orch:         orch,
		taskHandler:  handlers.NewTaskHandler(orch),
		adminHandler: handlers.NewAdminHandler(orch),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub, authCfg),
		authCfg:      authCfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(apiMiddleware.RequestLogger())

	// Recoverer
	s.router.Use(middleware.Recoverer)

	// Heartbeat endpoint for load balancers
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	authCfg := s.authCfg

	// API v1 routes
	s.router.Route("/v1", func(r chi.Router) {
		// Content type for API routes
		r.Use(middleware.AllowContentType("application/json"))

		// Rate limiting for API routes
		if s.config.RateLimit.RequestsPerSecond > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.RateLimit.RequestsPerSecond))
		}

		// Bearer JWT or task-scoped API key
		r.Use(apiMiddleware.Auth(authCfg))

		// Task routes
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/", s.taskHandler.List)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Get("/{taskID}/logs", s.taskHandler.Logs)
			r.Post("/{taskID}/cancel", s.taskHandler.Cancel)
			r.Post("/{taskID}/retry", s.taskHandler.Retry)
		})
	})

	// Admin routes: gated on a distinct operator credential, never a
	// task-delegation API key or JWT role.
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(apiMiddleware.RequireOperatorKey(authCfg))
		r.Get("/health", s.adminHandler.HealthCheck)
	})

	// WebSocket endpoint
	s.router.Get("/ws", s.wsHandler.ServeWS)

	// Metrics endpoint
	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

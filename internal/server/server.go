// Package server provides the HTTP bridge to the event bus: an SSE stream
// of incoming events, a publish endpoint, and a read of the latest envelope
// per event name.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/telnet2/winbus/internal/bus"
)

// Config holds server configuration.
type Config struct {
	Port        int
	EnableCORS  bool
	ReadTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server
	bus     *bus.Bus
}

// New creates a new Server over an already-constructed bus. The server does
// not own the bus; closing the bus is the caller's job.
func New(cfg *Config, b *bus.Bus) *Server {
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		bus:    b,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/event", s.streamEvents)
	r.Post("/event", s.fireEvent)
	r.Get("/event/{name}", s.currentEvent)
}

// Start runs the server. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.Port),
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
		// No write timeout: the SSE stream is long-lived.
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

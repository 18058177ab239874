// Package server provides the HTTP server for the camera mouse.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/cameramouse/internal/app"
	"github.com/ayusman/cameramouse/internal/server/api"
	"github.com/ayusman/cameramouse/internal/settings"
	"github.com/ayusman/cameramouse/internal/store"
)

// Controller is the running application served over HTTP.
type Controller interface {
	api.Controller
	LatestJPEG() []byte
	Subscribe(fn app.Subscriber)
	Settings() *settings.ControlSettings
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	App       Controller
	Logger    *slog.Logger
}

// Server represents the HTTP server for the camera mouse.
type Server struct {
	config Config
	logger *slog.Logger
	mux    *http.ServeMux
	start  time.Time
	hub    *StatusHub
	done   chan struct{}

	mu       sync.Mutex
	http     *http.Server
	shutdown bool
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		logger: logger,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		done:   make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		events := api.NewEventHandler(s.config.Store)
		s.mux.Handle("/api/events", events)
		s.mux.Handle("/api/events/", events)
	}

	if s.config.App != nil {
		control := api.NewControlHandler(s.config.App)
		s.mux.HandleFunc("/api/status", control.Status)
		s.mux.HandleFunc("/api/click", control.Click)
		s.mux.HandleFunc("/api/recenter", control.Recenter)
		s.mux.HandleFunc("/api/enabled", control.Enabled)

		var repo settings.Repository
		if s.config.Store != nil {
			repo = s.config.Store.Settings()
		}
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.App.Settings(), repo, s.logger))

		s.mux.Handle("/api/stream", NewStreamHandler(s.config.App, s.done))

		s.hub = NewStatusHub(s.config.App.Status, s.logger)
		s.config.App.Subscribe(s.hub.Publish)
		s.mux.Handle("/api/ws", s.hub)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", addr)
	return srv.ListenAndServe()
}

// Shutdown ends open streams and websocket connections and stops the
// listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	srv := s.http
	s.mu.Unlock()

	close(s.done)
	if s.hub != nil {
		s.hub.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Package server implements the orchestrator's client-facing entrypoint: a
// chi-routed HTTP server exposing health/metrics and one multiplexed
// WebSocket endpoint carrying the full text/voice protocol (spec §6).
// Grounded on the teacher's internal/adapters/http.Server (chi.Mux wiring,
// Start/Stop/Router lifecycle) and its ws_multiplexed.go connection
// handling, adapted from the teacher's per-conversation subscription
// broadcaster to one Session per socket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sageclinic/orchestrator/internal/server/middleware"
)

// Server wires the chi router, lifecycle, and WebSocket upgrade around a
// Dependencies bundle.
type Server struct {
	deps       *Dependencies
	router     *chi.Mux
	httpServer *http.Server
	upgrader   websocket.Upgrader
	newID      func() string
}

// New builds a Server. host/port/corsOrigins come from config.ServerConfig;
// newSessionID mints the session id assigned to each new WebSocket
// connection (wired to id.Generator.GenerateSessionID at the entrypoint).
func New(deps *Dependencies, newSessionID func() string) *Server {
	s := &Server{
		deps:  deps,
		newID: newSessionID,
	}

	allowed := make(map[string]bool, len(deps.CORSOrigins))
	for _, origin := range deps.CORSOrigins {
		allowed[origin] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return allowed[origin]
		},
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(s.deps.CORSOrigins))
	r.Use(middleware.Metrics)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth)
		r.Get("/ws", s.handleWebSocket)
		if s.deps.LiveKit != nil {
			r.Post("/voice/room", s.handleVoiceRoom)
		}
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	degraded := s.deps.Degraded != nil && s.deps.Degraded.IsDegraded()
	status := http.StatusOK
	body := `{"status":"ok"}`
	if degraded {
		status = http.StatusOK
		body = `{"status":"degraded"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("server: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := newSession(conn, s.newID(), userID, s.deps)
	slog.Info("session started", "session_id", sess.id, "user_id", userID)
	sess.run(r.Context())
	slog.Info("session ended", "session_id", sess.id)
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses and the WebSocket upgrade need no write timeout
		IdleTimeout:  120 * time.Second,
	}
	slog.Info("starting orchestrator server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the underlying chi.Mux, primarily for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

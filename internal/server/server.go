// Package server runs patchbay's HTTP listener: health, metrics, overlay and
// stats endpoints share one mux.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// PingFunc checks a dependency. A nil error means healthy.
type PingFunc func(ctx context.Context) error

// Server is the HTTP server. Routes are registered before Start.
type Server struct {
	server   *http.Server
	mux      *http.ServeMux
	ping     PingFunc
	listener net.Listener
}

// HealthResponse represents the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// New creates a server on all interfaces at port with /healthz registered.
// ping is used by /healthz; nil means always healthy.
func New(port int, ping PingFunc) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:  mux,
		ping: ping,
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// Handle registers an additional route.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleJSON registers a GET route that serves the value returned by fn.
func (s *Server) HandleJSON(pattern string, fn func() any) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fn())
	})
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the port and serves in a background goroutine.
// Returns an error if the port cannot be bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		log.Printf("[Server] Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] Serve error: %v", err)
		}
		log.Printf("[Server] Stopped")
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[Server] Shutting down...")
	return s.server.Shutdown(ctx)
}

// handleHealthz returns 200 {"status":"healthy"} or
// 503 {"status":"unhealthy","error":"..."}.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}

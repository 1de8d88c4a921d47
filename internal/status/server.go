// Package status serves Prometheus metrics and a health probe while a long
// load or enrichment pass runs.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *slog.Logger
	started    time.Time
	phase      atomic.Value // string
}

// NewServer creates a status server listening on addr and serving metrics
// from gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		logger:  logger,
		started: time.Now(),
	}
	s.phase.Store("starting")
	s.setupRoutes(gatherer)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router = mux.NewRouter()
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// SetPhase records what the process is doing, reported by /healthz.
func (s *Server) SetPhase(phase string) { s.phase.Store(phase) }

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"phase":  s.phase.Load(),
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting up to five seconds for open requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("status server shutdown", "error", err)
	}
}

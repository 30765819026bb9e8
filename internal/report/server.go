// Package report implements the optional report server (A5): a minimal
// net/http server exposing the most recent backtest's metrics and closed
// trades as JSON, adapted from the teacher's dashboard API server
// (internal/api/server.go) down to two read-only JSON report endpoints
// plus a /health check — no WebSocket hub, no static file
// serving, since charting/UI consumers are out of scope (spec Non-goals).
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"candlebt/internal/backtest"
	"candlebt/internal/metrics"
)

// Snapshot is the data a Server serves; the backtest CLI publishes one
// after its run has finished.
type Snapshot struct {
	Metrics metrics.Result
	Trades  []*backtest.Trade
}

// Server serves the most recently published Snapshot over HTTP.
type Server struct {
	mu       sync.RWMutex
	snapshot Snapshot

	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, logger *slog.Logger) *Server {
	s := &Server{
		logger: logger.With("component", "report-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics.json", s.handleMetrics)
	mux.HandleFunc("/trades.json", s.handleTrades)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Publish replaces the snapshot served by /metrics.json and /trades.json.
func (s *Server) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// Start runs the HTTP server until it is stopped or fails. It blocks, so
// callers typically run it in its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("report server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("report server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping report server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	m := s.snapshot.Metrics
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m); err != nil {
		s.logger.Error("failed to encode metrics", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	trades := s.snapshot.Trades
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(trades); err != nil {
		s.logger.Error("failed to encode trades", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

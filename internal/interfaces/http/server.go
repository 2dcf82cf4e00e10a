// Package http exposes the engine over a small JSON API: one decision
// endpoint, health, Prometheus metrics, and a websocket decision
// stream. The transport owns no trading logic.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/evengine/internal/config"
	"github.com/sawpanic/evengine/internal/domain"
	"github.com/sawpanic/evengine/internal/engine"
	"github.com/sawpanic/evengine/internal/metrics"
)

// Server hosts the engine's HTTP surface.
type Server struct {
	router *mux.Router
	server *http.Server
	engine *engine.Engine
	hub    *streamHub
}

// NewServer wires routes and subscribes the decision stream to the
// engine.
func NewServer(cfg config.ServerTunables, eng *engine.Engine, reg *metrics.Registry) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		hub:    newStreamHub(),
	}
	eng.Subscribe(s.hub.broadcast)

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/v1/decision", s.handleDecision).Methods("POST")
	s.router.HandleFunc("/v1/stream", s.hub.handleWS).Methods("GET")
	if reg != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{})).Methods("GET")
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  cfg.IdleTimeout(),
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains connections and closes the stream hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleDecision evaluates one snapshot. The engine never errors; a
// bad snapshot comes back as a HOLD with the reason inside.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var tc domain.TradingContext
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("decode snapshot: %v", err)})
		return
	}

	d := s.engine.Evaluate(r.Context(), &tc)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

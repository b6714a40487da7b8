// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"vmplane/internal/controller/handlers"
	"vmplane/internal/controller/middleware"
	"vmplane/internal/store"
)

// Config holds the controller server settings.
type Config struct {
	Addr                  string
	DefaultTimeoutSeconds int

	// RateLimitRPS limits requests per client address; zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(cfg Config, st store.Store) *Server {
	h := handlers.New(st, cfg.DefaultTimeoutSeconds)
	limitMW := middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)

	mux := http.NewServeMux()

	mux.Handle("POST /requests", limitMW(http.HandlerFunc(h.SubmitRequest)))
	mux.Handle("GET /requests", limitMW(http.HandlerFunc(h.ListRequests)))
	mux.Handle("GET /requests/{id}", limitMW(http.HandlerFunc(h.GetRequest)))
	mux.Handle("PUT /requests/{id}/status", limitMW(http.HandlerFunc(h.UpdateStatus)))
	mux.Handle("DELETE /requests/{id}", limitMW(http.HandlerFunc(h.DeleteRequest)))
	mux.Handle("GET /requests/{id}/logs", limitMW(http.HandlerFunc(h.GetLogs)))
	mux.Handle("DELETE /requests/{id}/logs", limitMW(http.HandlerFunc(h.DeleteLogs)))
	mux.Handle("GET /stats", limitMW(http.HandlerFunc(h.QueueStats)))

	mux.HandleFunc("GET /healthz", h.Health)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

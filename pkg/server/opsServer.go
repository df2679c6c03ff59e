// Package server exposes the relay's operational endpoints: liveness,
// controller status and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoff-tech/payment-relay/pkg/processor"
)

const (
	statusTimeout   = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// StatusProvider is implemented by processor.RelayProcessor.
type StatusProvider interface {
	Healthy() bool
	Snapshot(ctx context.Context) (processor.Status, error)
}

type OpsServer struct {
	httpServer *http.Server
	provider   StatusProvider
	logger     *slog.Logger
}

func New(addr string, provider StatusProvider, gatherer prometheus.Gatherer, logger *slog.Logger) *OpsServer {
	s := &OpsServer{
		provider: provider,
		logger:   logger.With("component", "ops-server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *OpsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *OpsServer) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("ops server shutdown error", "error", err)
		return err
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *OpsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.provider.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "failed"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *OpsServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	status, err := s.provider.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("status snapshot unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/websocket"
)

const healthPath = "/healthz"

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer serves wsHandler at wsPath, a health check at /healthz and, when
// metricsPath is not empty, Prometheus metrics at metricsPath.
func NewServer(addr, wsPath string, wsHandler http.Handler, metricsPath string, logger *zap.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Handle(wsPath, wsHandler)
	if metricsPath != "" {
		router.Handle(metricsPath, promhttp.Handler())
	}
	if wsPath != healthPath {
		router.Get(healthPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		})
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.Named("server"),
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("listening", zap.String("addr", lis.Addr().String()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every client and waits for
// their handlers, then closes the relay. relay may be nil.
func (s *Server) Shutdown(ctx context.Context, hub *websocket.Broker, relay io.Closer) {
	// Step 1: Stop accepting new connections
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// Step 2: Close all active WebSocket connections
	s.logger.Info("closing WebSocket connections", zap.Int("clients", hub.Clients().Count()))
	hub.Close()

	// Step 3: Wait for connection handlers to unwind
	done := make(chan struct{})
	go func() {
		hub.Clients().WaitForCompletion()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all connections closed")
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	// Step 4: Close message broker
	if relay != nil {
		s.logger.Info("closing relay")
		if err := relay.Close(); err != nil {
			s.logger.Warn("relay closure error", zap.Error(err))
		}
	}

	s.logger.Info("shutdown complete")
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
	"github.com/graystone-av/dsp-core/internal/infrastructure/logging"
)

// Server wraps the HTTP server with lifecycle management.
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger
}

// NewServer creates the HTTP server over the route tree.
func NewServer(cfg config.APIConfig, handler http.Handler, logger *logging.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.Timeouts.GetReadTimeout(),
			WriteTimeout: cfg.Timeouts.GetWriteTimeout(),
			IdleTimeout:  cfg.Timeouts.GetIdleTimeout(),
		},
		logger: logger.With("component", "api"),
	}
}

// Start serves until the listener closes. It blocks; run it in a
// goroutine and call Shutdown to stop.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/controller"
	"github.com/netloom/netloom/pkg/metrics"
)

// Server is the controller's REST API HTTP server.
//
// The server supports graceful shutdown with configurable timeout. Write
// timeouts are intentionally absent: notification and pcap streams stay
// open for as long as the client listens.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates the API server for a controller.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests. metrics may be nil.
func NewServer(config APIConfig, ctrl *controller.Controller, m *metrics.Metrics, local bool) *Server {
	config.applyDefaults()

	router := NewRouter(RouterOptions{
		Controller:     ctrl,
		Metrics:        m,
		Local:          local,
		RequestTimeout: config.RequestTimeout,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("API server listening",
			"addr", s.server.Addr,
			"ssl", s.config.SSL,
		)

		var err error
		if s.config.SSL {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.CertKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("API server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown of the API server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("API server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}

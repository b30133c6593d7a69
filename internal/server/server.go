// Package server wires the HTTP surface: routing, middleware, and graceful
// shutdown of the loopback listener.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
	"github.com/mihaisavezi/ai-gateway/internal/providers"
)

const DefaultPort = 3000

type Server struct {
	store    *credstore.Store
	registry *providers.Registry
	logger   *slog.Logger
	server   *http.Server
}

func New(store *credstore.Store, logger *slog.Logger) *Server {
	return &Server{
		store:    store,
		registry: providers.NewRegistry(store, logger),
		logger:   logger,
	}
}

// Start serves on 127.0.0.1:port until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Start(port int) error {
	if port == 0 {
		port = DefaultPort
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.setupRoutes(),
	}

	s.logger.Info("starting gateway", "address", addr)

	errCh := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	s.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	gateway := NewGatewayHandler(s.store, s.registry, s.logger)

	chain := NewChain(NewLoggingMiddleware(s.logger))

	mux.Handle("GET /health", http.HandlerFunc(gateway.HandleHealth))
	mux.Handle("GET /v1/models", http.HandlerFunc(gateway.HandleModels))
	mux.Handle("POST /v1/chat/completions", http.HandlerFunc(gateway.HandleChatCompletions))
	mux.Handle("POST /v1/messages", http.HandlerFunc(gateway.HandleMessages))

	return chain.Handler(mux)
}

// Package server provides a lightweight HTTP debug server exposing the
// connection status, the retained chat messages, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gjverhoeff/TwitchChatUE5/internal/constants"
	"github.com/gjverhoeff/TwitchChatUE5/internal/logger"
	"github.com/gjverhoeff/TwitchChatUE5/internal/model"
)

// StatusFunc returns the current connection status. Used to dynamically
// fetch connection health data.
type StatusFunc func() Status

// MessagesFunc returns the retained chat messages, oldest first.
type MessagesFunc func() []model.ChatMessage

// Status represents the state of the chat connection.
type Status struct {
	Connected bool   `json:"connected"`
	User      string `json:"user,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// DebugServer serves the status and message JSON API endpoints plus the
// Prometheus metrics endpoint.
type DebugServer struct {
	addr string
	log  *logger.Logger
	srv  *http.Server

	mu           sync.RWMutex
	statusFunc   StatusFunc
	messagesFunc MessagesFunc
}

// NewDebugServer creates a new DebugServer bound to the given address.
func NewDebugServer(addr string, log *logger.Logger) *DebugServer {
	s := &DebugServer{
		addr: addr,
		log:  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           withLogging(log, mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return s
}

// SetStatusFunc sets a function that dynamically returns the connection
// status. Thread-safe.
func (s *DebugServer) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	s.statusFunc = fn
	s.mu.Unlock()
}

// SetMessagesFunc sets a function that dynamically returns the retained
// messages. Thread-safe.
func (s *DebugServer) SetMessagesFunc(fn MessagesFunc) {
	s.mu.Lock()
	s.messagesFunc = fn
	s.mu.Unlock()
}

func (s *DebugServer) status() Status {
	s.mu.RLock()
	fn := s.statusFunc
	s.mu.RUnlock()
	if fn != nil {
		return fn()
	}
	return Status{}
}

func (s *DebugServer) messages() []model.ChatMessage {
	s.mu.RLock()
	fn := s.messagesFunc
	s.mu.RUnlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs graceful shutdown when the context is done.
func (s *DebugServer) Run(ctx context.Context) error {
	s.log.Info("Debug server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("debug server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Debug server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("debug server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func withLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start).String(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

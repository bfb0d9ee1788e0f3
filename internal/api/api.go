// Package api provides HTTP handlers and the main API server logic for PushRelay.
//
// It exposes read-only inspection endpoints for the relay (health, monitor
// status, forward history) plus a small mutation surface for adding detection
// patterns at runtime. The API integrates with the monitor, dedup, and detect
// modules.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/PushRelay/internal/dedup"
	"github.com/BTreeMap/PushRelay/internal/detect"
	"github.com/BTreeMap/PushRelay/internal/monitor"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Server timeouts to prevent resource exhaustion.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Patterns *detect.PatternDetector
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// WithPatternDetector exposes a pattern detector on the /patterns endpoints.
// Without one those endpoints return 404.
func WithPatternDetector(d *detect.PatternDetector) Option {
	return func(o *Opts) { o.Patterns = d }
}

// Server exposes the relay over HTTP.
type Server struct {
	mon      *monitor.Monitor
	guard    *dedup.Guard
	patterns *detect.PatternDetector
	srv      *http.Server
}

// NewServer wires the API server and its routes.
func NewServer(mon *monitor.Monitor, guard *dedup.Guard, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		mon:      mon,
		guard:    guard,
		patterns: cfg.Patterns,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/patterns", s.patternsHandler)
	mux.HandleFunc("/forwarded", s.forwardedHandler)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start binds the listen address and serves in the background. Bind failures
// are returned synchronously; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Start: serve failed", "error", err)
		}
	}()
	slog.Info("Server.Start: API listening", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Copyright 2025 The REVA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server is the HTTP harness every reva service runs on. A
// service implements the Lifecycle interface; Start performs its side
// effects (registry registration, background loops) and installs its
// routes, Stop tears them down. Nothing registers itself on
// construction.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/revaplatform/reva/pkg/observability"
)

// Lifecycle is the explicit start/stop contract of a reva service.
// Start must return only when the service is ready to take traffic.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServer hosts one service's routes plus the standard /health,
// /info, and /metrics endpoints.
type HTTPServer struct {
	name    string
	version string
	port    int
	server  *http.Server
	mux     *http.ServeMux
	obs     *observability.Manager
}

// Option configures an HTTPServer.
type Option func(*HTTPServer)

// WithObservability attaches tracing/metrics middleware and the
// /metrics endpoint.
func WithObservability(obs *observability.Manager) Option {
	return func(s *HTTPServer) { s.obs = obs }
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *HTTPServer) { s.version = v }
}

// New creates a server for the named service on the given port.
func New(name string, port int, opts ...Option) *HTTPServer {
	s := &HTTPServer{
		name:    name,
		version: "dev",
		port:    port,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /info", s.handleInfo)
	if s.obs != nil && s.obs.Metrics().Enabled() {
		s.mux.Handle("GET /metrics", s.obs.Metrics().Handler())
	}
	return s
}

// Handle mounts a handler on the service mux.
func (s *HTTPServer) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// HandleFunc mounts a handler function on the service mux.
func (s *HTTPServer) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Handler returns the route mux, for in-process tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

// Address returns the listen address.
func (s *HTTPServer) Address() string {
	return fmt.Sprintf(":%d", s.port)
}

// URL returns the service's base URL for self-registration.
func (s *HTTPServer) URL(host string) string {
	return fmt.Sprintf("http://%s:%d", host, s.port)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	var handler http.Handler = s.mux
	handler = s.loggingMiddleware(handler)
	if s.obs != nil {
		handler = observability.HTTPMiddleware(s.obs.Tracer(s.name), s.obs.Metrics())(handler)
	}

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "service", s.name, "address", s.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests with a 5s budget.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down", "service", s.name)
	return s.server.Shutdown(shutdownCtx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"service": s.name,
		"version": s.version,
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"service", s.name,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a JSON error body {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/observability"
	"github.com/revaplatform/reva/pkg/server"
)

// Service is the registry HTTP service. It owns the catalog and the
// probe loop and exposes the discovery API.
type Service struct {
	cfg     config.RegistryConfig
	catalog *Catalog
	prober  *Prober
	srv     *server.HTTPServer

	cancelProbe context.CancelFunc
}

// NewService assembles the registry service. obs may be nil for tests.
func NewService(cfg config.RegistryConfig, obs *observability.Manager) *Service {
	catalog := NewCatalog()

	var metrics *observability.Metrics
	if obs != nil {
		metrics = obs.Metrics()
	}
	prober := NewProber(catalog, cfg.ProbeInterval(), cfg.ProbeTimeout(), cfg.EvictionFailures, metrics)

	opts := []server.Option{}
	if obs != nil {
		opts = append(opts, server.WithObservability(obs))
	}
	srv := server.New("registry", cfg.Port, opts...)

	s := &Service{
		cfg:     cfg,
		catalog: catalog,
		prober:  prober,
		srv:     srv,
	}
	s.routes()
	return s
}

// Catalog exposes the record store, mainly for tests.
func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) routes() {
	s.srv.HandleFunc("POST /register", s.handleRegister)
	s.srv.HandleFunc("POST /deregister", s.handleDeregister)
	s.srv.HandleFunc("GET /services", s.handleList)
	s.srv.HandleFunc("GET /services/{name}", s.handleGet)
	s.srv.HandleFunc("GET /stats", s.handleStats)
	s.srv.HandleFunc("POST /heartbeat/{name}", s.handleHeartbeat)
}

// Start launches the probe loop and serves until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	probeCtx, cancel := context.WithCancel(ctx)
	s.cancelProbe = cancel
	go s.prober.Run(probeCtx)

	slog.Info("registry starting", "port", s.cfg.Port)
	return s.srv.Start(ctx)
}

// Stop tears down the probe loop and drains the HTTP server.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancelProbe != nil {
		s.cancelProbe()
	}
	return s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for in-process tests.
func (s *Service) Handler() http.Handler {
	return s.srv.Handler()
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var rec ServiceRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if err := s.catalog.Register(rec); err != nil {
		server.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	stored, _ := s.catalog.Get(rec.Name)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "registered",
		"service": stored,
	})
}

type deregisterRequest struct {
	Name string `json:"name"`
}

func (s *Service) handleDeregister(w http.ResponseWriter, r *http.Request) {
	var req deregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Name == "" {
		server.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.catalog.Deregister(req.Name)
	server.WriteJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	status := Status(r.URL.Query().Get("status"))
	if status != "" && status != StatusHealthy && status != StatusUnhealthy && status != StatusUnknown {
		server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}
	records := s.catalog.List(capability, status)
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"services": records,
		"count":    len(records),
	})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, ok := s.catalog.Get(name)
	if !ok {
		server.WriteError(w, http.StatusNotFound, fmt.Sprintf("service %q not found", name))
		return
	}
	server.WriteJSON(w, http.StatusOK, rec)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, s.catalog.Stats())
}

func (s *Service) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.catalog.Heartbeat(name) {
		server.WriteError(w, http.StatusNotFound, fmt.Sprintf("service %q not found", name))
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/observability"
	"github.com/revaplatform/reva/pkg/registry"
	"github.com/revaplatform/reva/pkg/server"
)

// Service is the retrieval gateway HTTP service.
type Service struct {
	cfg      config.RetrievalConfig
	engine   *Engine
	srv      *server.HTTPServer
	registry *registry.Client
}

// NewService assembles the gateway: vector backend per config, keyword
// index, optional redis cache, and the embedding client against the
// LLM gateway. obs may be nil for tests.
func NewService(cfg config.RetrievalConfig, obs *observability.Manager) (*Service, error) {
	var backend VectorBackend
	switch cfg.Backend {
	case "qdrant":
		qb, err := NewQdrantBackend(cfg.QdrantHost, cfg.QdrantPort, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("retrieval backend: %w", err)
		}
		backend = qb
	default:
		backend = NewChromemBackend(cfg.Collection)
	}

	embedder := llm.NewGatewayClient(cfg.LLMGatewayURL)
	cache := NewCache(cfg.RedisAddr, cfg.CacheTTL())

	var metrics *observability.Metrics
	opts := []server.Option{}
	if obs != nil {
		metrics = obs.Metrics()
		opts = append(opts, server.WithObservability(obs))
	}

	s := &Service{
		cfg:      cfg,
		engine:   NewEngine(cfg, embedder, backend, cache, metrics),
		srv:      server.New("retrieval-gateway", cfg.Port, opts...),
		registry: registry.NewClient(cfg.RegistryURL),
	}
	s.routes()
	return s, nil
}

// Engine exposes the search core, mainly for tests.
func (s *Service) Engine() *Engine { return s.engine }

// Handler returns the HTTP handler for in-process tests.
func (s *Service) Handler() http.Handler { return s.srv.Handler() }

func (s *Service) routes() {
	s.srv.HandleFunc("POST /search", s.handleSearch)
	s.srv.HandleFunc("GET /properties/{id}", s.handleGetProperty)
}

// Start seeds the corpus, registers with the registry, and serves.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.CorpusPath != "" {
		docs, err := LoadCorpus(s.cfg.CorpusPath)
		if err != nil {
			return fmt.Errorf("retrieval startup: %w", err)
		}
		if err := s.engine.Seed(ctx, docs); err != nil {
			return fmt.Errorf("retrieval startup: %w", err)
		}
	} else {
		slog.Warn("no corpus path configured, retrieval starts empty")
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	rec := registry.ServiceRecord{
		Name:         "retrieval-gateway",
		Host:         host,
		Port:         s.cfg.Port,
		Capabilities: []string{"retrieval", "search"},
	}
	if err := s.registry.Register(ctx, rec); err != nil {
		slog.Warn("registry registration failed", "error", err)
	} else {
		s.registry.StartHeartbeat(ctx, "retrieval-gateway", 10*time.Second)
	}

	return s.srv.Start(ctx)
}

// Stop deregisters and drains the HTTP server.
func (s *Service) Stop(ctx context.Context) error {
	s.registry.StopHeartbeat()
	_ = s.registry.Deregister(ctx, "retrieval-gateway")
	err := s.srv.Shutdown(ctx)
	if cerr := s.engine.Close(); cerr != nil {
		slog.Warn("engine close failed", "error", cerr)
	}
	return err
}

// searchRequest is the wire form of POST /search. Filters stay raw so
// unknown fields can be rejected explicitly.
type searchRequest struct {
	Query   string          `json:"query"`
	Filters json.RawMessage `json:"filters,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Query == "" {
		server.WriteError(w, http.StatusBadRequest, "query is required")
		return
	}
	filters, err := ParseFilters(req.Filters)
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Search(r.Context(), req.Query, filters, req.Limit)
	if err != nil {
		server.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	server.WriteJSON(w, http.StatusOK, result)
}

func (s *Service) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.engine.GetByID(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			server.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		server.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	server.WriteJSON(w, http.StatusOK, doc)
}

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

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/conversation"
	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/observability"
	"github.com/revaplatform/reva/pkg/registry"
	"github.com/revaplatform/reva/pkg/server"
	"github.com/revaplatform/reva/pkg/retrieval"
)

const heartbeatPeriod = 10 * time.Second

// Service is the orchestrator HTTP service.
type Service struct {
	cfg          config.OrchestratorConfig
	orchestrator *Orchestrator
	store        *conversation.Store
	kb           *KnowledgeBase
	srv          *server.HTTPServer
	registry     *registry.Client
	validate     *validator.Validate
}

// NewService assembles the orchestrator and its collaborators. obs may
// be nil for tests.
func NewService(cfg config.OrchestratorConfig, obs *observability.Manager) (*Service, error) {
	cfg.SetDefaults()

	opts := []server.Option{}
	if obs != nil {
		opts = append(opts, server.WithObservability(obs))
	}

	store, err := conversation.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	kb, err := NewKnowledgeBase(cfg.KnowledgePath)
	if err != nil {
		store.Close()
		return nil, err
	}

	registryClient := registry.NewClient(cfg.RegistryURL)
	llmClient := llm.NewGatewayClient(cfg.LLMGatewayURL)
	retrievalClient := retrieval.NewClient(cfg.RetrievalGatewayURL)

	s := &Service{
		cfg:          cfg,
		orchestrator: New(cfg, llmClient, retrievalClient, store, kb, registryClient),
		store:        store,
		kb:           kb,
		srv:          server.New("orchestrator", cfg.Port, opts...),
		registry:     registryClient,
		validate:     validator.New(),
	}
	s.routes()
	return s, nil
}

// Orchestrator exposes the core, mainly for tests.
func (s *Service) Orchestrator() *Orchestrator { return s.orchestrator }

// Handler returns the HTTP handler for in-process tests.
func (s *Service) Handler() http.Handler { return s.srv.Handler() }

func (s *Service) routes() {
	r := chi.NewRouter()
	r.Post("/orchestrate", s.handleOrchestrate(false))
	r.Post("/orchestrate/v2", s.handleOrchestrate(true))
	s.srv.Handle("/orchestrate", r)
	s.srv.Handle("/orchestrate/v2", r)
}

// Start watches the knowledge base, registers with the registry, and
// serves until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.kb.Watch(ctx); err != nil {
		slog.Warn("knowledge base watch failed, hot reload disabled", "error", err)
	}

	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	rec := registry.ServiceRecord{
		Name:         "orchestrator",
		Host:         host,
		Port:         s.cfg.Port,
		Capabilities: []string{"orchestrate"},
	}
	if err := s.registry.Register(ctx, rec); err != nil {
		slog.Warn("registry registration failed", "error", err)
	} else {
		s.registry.StartHeartbeat(ctx, "orchestrator", heartbeatPeriod)
	}

	return s.srv.Start(ctx)
}

// Stop deregisters, drains the HTTP server, and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.registry.StopHeartbeat()
	_ = s.registry.Deregister(ctx, "orchestrator")
	err := s.srv.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Service) handleOrchestrate(richReasoning bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
			return
		}
		if err := s.validate.Struct(req); err != nil {
			server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
		if richReasoning {
			if req.Metadata == nil {
				req.Metadata = map[string]string{}
			}
			req.Metadata["include_reasoning"] = "true"
		}

		resp, err := s.orchestrator.Orchestrate(r.Context(), req)
		if err != nil {
			oe := AsError(err)
			slog.Error("orchestrate failed", "kind", oe.Kind,
				"user_id", req.UserID, "error", oe.Err)
			if resp != nil {
				// Taxonomy errors still carry the partial chain.
				server.WriteJSON(w, oe.HTTPStatus(), resp)
				return
			}
			server.WriteError(w, oe.HTTPStatus(), oe.UserMessage)
			return
		}
		server.WriteJSON(w, http.StatusOK, resp)
	}
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/observability"
	"github.com/revaplatform/reva/pkg/registry"
	"github.com/revaplatform/reva/pkg/server"
)

// Service is the LLM gateway HTTP service.
type Service struct {
	cfg      config.LLMGatewayConfig
	gateway  *Gateway
	srv      *server.HTTPServer
	registry *registry.Client
}

// NewService assembles the gateway service. obs may be nil for tests.
func NewService(cfg config.LLMGatewayConfig, obs *observability.Manager) *Service {
	var metrics *observability.Metrics
	opts := []server.Option{}
	if obs != nil {
		metrics = obs.Metrics()
		opts = append(opts, server.WithObservability(obs))
	}

	s := &Service{
		cfg:      cfg,
		gateway:  NewGateway(cfg, metrics),
		srv:      server.New("llm-gateway", cfg.Port, opts...),
		registry: registry.NewClient(cfg.RegistryURL),
	}
	s.routes()
	return s
}

// Gateway exposes the routing core, mainly for tests.
func (s *Service) Gateway() *Gateway { return s.gateway }

// Handler returns the HTTP handler for in-process tests.
func (s *Service) Handler() http.Handler { return s.srv.Handler() }

func (s *Service) routes() {
	s.srv.HandleFunc("POST /chat/completions", s.handleChat)
	s.srv.HandleFunc("POST /embeddings", s.handleEmbeddings)
	s.srv.HandleFunc("GET /models", s.handleModels)
	s.srv.HandleFunc("GET /breakers", s.handleBreakers)
}

// Start registers with the service registry and serves until ctx is
// cancelled. Registration happens here, never in the constructor.
func (s *Service) Start(ctx context.Context) error {
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	rec := registry.ServiceRecord{
		Name:         "llm-gateway",
		Host:         host,
		Port:         s.cfg.Port,
		Capabilities: []string{"llm", "chat", "embeddings"},
	}
	if err := s.registry.Register(ctx, rec); err != nil {
		// The gateway is still useful without discovery.
		slog.Warn("registry registration failed", "error", err)
	} else {
		s.registry.StartHeartbeat(ctx, "llm-gateway", heartbeatPeriod)
	}

	return s.srv.Start(ctx)
}

// Stop deregisters and drains the HTTP server.
func (s *Service) Stop(ctx context.Context) error {
	s.registry.StopHeartbeat()
	_ = s.registry.Deregister(ctx, "llm-gateway")
	return s.srv.Shutdown(ctx)
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = config.TagPrimaryChat
	}
	if len(req.Messages) == 0 {
		server.WriteError(w, http.StatusBadRequest, "messages are required")
		return
	}
	req.RequestID = requestID(r)

	resp, err := s.gateway.Chat(r.Context(), req)
	if err != nil {
		s.writeRouteError(w, req.RequestID, err)
		return
	}
	w.Header().Set("X-Request-ID", req.RequestID)
	server.WriteJSON(w, http.StatusOK, toWireChat(resp))
}

// toWireChat renders the OpenAI-compatible response body, with
// model_actual as the one extension field.
func toWireChat(resp *ChatResponse) chatCompletionBody {
	return chatCompletionBody{
		ID:          resp.ID,
		Object:      "chat.completion",
		Model:       resp.Model,
		ModelActual: resp.ModelActual,
		Provider:    resp.Provider,
		Choices: []chatChoiceBody{{
			Message:      Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
	}
}

type chatCompletionBody struct {
	ID          string           `json:"id"`
	Object      string           `json:"object"`
	Model       string           `json:"model"`
	ModelActual string           `json:"model_actual,omitempty"`
	Provider    string           `json:"provider,omitempty"`
	Choices     []chatChoiceBody `json:"choices"`
	Usage       Usage            `json:"usage"`
}

type chatChoiceBody struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

func (s *Service) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Model == "" {
		req.Model = config.TagPrimaryEmbed
	}
	if len(req.Input) == 0 {
		server.WriteError(w, http.StatusBadRequest, "input is required")
		return
	}
	req.RequestID = requestID(r)

	resp, err := s.gateway.Embed(r.Context(), req)
	if err != nil {
		s.writeRouteError(w, req.RequestID, err)
		return
	}
	w.Header().Set("X-Request-ID", req.RequestID)
	server.WriteJSON(w, http.StatusOK, toWireEmbeddings(resp))
}

func toWireEmbeddings(resp *EmbeddingResponse) embeddingsBody {
	body := embeddingsBody{
		Object:      "list",
		Model:       resp.Model,
		ModelActual: resp.ModelActual,
		Provider:    resp.Provider,
		Usage:       resp.Usage,
	}
	for i, v := range resp.Vectors {
		body.Data = append(body.Data, embeddingDataBody{Object: "embedding", Index: i, Embedding: v})
	}
	return body
}

type embeddingsBody struct {
	Object      string              `json:"object"`
	Model       string              `json:"model"`
	ModelActual string              `json:"model_actual,omitempty"`
	Provider    string              `json:"provider,omitempty"`
	Data        []embeddingDataBody `json:"data"`
	Usage       Usage               `json:"usage"`
}

type embeddingDataBody struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

func (s *Service) handleModels(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"models": s.gateway.Models()})
}

func (s *Service) handleBreakers(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, http.StatusOK, map[string]any{"breakers": s.gateway.BreakerSnapshots()})
}

func (s *Service) writeRouteError(w http.ResponseWriter, reqID string, err error) {
	w.Header().Set("X-Request-ID", reqID)
	switch {
	case IsBadRequest(err):
		server.WriteError(w, http.StatusBadRequest, err.Error())
	case IsProviderUnavailable(err):
		server.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case err == context.DeadlineExceeded:
		server.WriteError(w, http.StatusGatewayTimeout, err.Error())
	default:
		server.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// requestID returns the propagated X-Request-ID, minting one if absent.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// heartbeatPeriod is a third of the default registry probe interval so
// two missed beats still leave a fresh timestamp before the next probe.
const heartbeatPeriod = 10 * time.Second

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/httpclient"
)

// Provider speaks the OpenAI-compatible wire format against one
// configured route. OpenAI, the Anthropic compatibility surface, and
// Ollama all accept this shape in our deployment.
type Provider struct {
	route  config.ProviderRoute
	client *httpclient.Client
}

// NewProvider builds a provider over the shared pooled HTTP client.
func NewProvider(route config.ProviderRoute, pooled *http.Client, retry config.RetryConfig) *Provider {
	return &Provider{
		route: route,
		client: httpclient.New(
			httpclient.WithHTTPClient(pooled),
			httpclient.WithMaxAttempts(retry.MaxAttempts),
			httpclient.WithBackoff(retry.BaseDelay(), retry.MaxDelay()),
			httpclient.WithHeaderParser(httpclient.StandardHeaderParser),
		),
	}
}

// Route returns the provider's configured route.
func (p *Provider) Route() config.ProviderRoute { return p.route }

type wireChatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       json.RawMessage `json:"tools,omitempty"`
}

type wireChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat performs one chat completion against the route.
func (p *Provider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	body := wireChatRequest{
		Model:       p.route.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
	}
	var out wireChatResponse
	if err := p.post(ctx, "/chat/completions", req.RequestID, body, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s: api error: %s", p.route.Name(), out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices returned", p.route.Name())
	}

	choice := out.Choices[0]
	return &ChatResponse{
		ID:           out.ID,
		Model:        p.route.Name(),
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        out.Usage,
		Provider:     p.route.Provider,
		LatencyMS:    latencyMS(start),
	}, nil
}

type wireEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type wireEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns one vector per input, in input order.
func (p *Provider) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	body := wireEmbeddingRequest{Model: p.route.Model, Input: req.Input}

	var out wireEmbeddingResponse
	if err := p.post(ctx, "/embeddings", req.RequestID, body, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, fmt.Errorf("%s: api error: %s", p.route.Name(), out.Error.Message)
	}

	vectors := make([][]float32, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", p.route.Name(), d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return &EmbeddingResponse{
		Model:    p.route.Name(),
		Provider: p.route.Provider,
		Vectors:  vectors,
		Usage:    out.Usage,
	}, nil
}

func (p *Provider) post(ctx context.Context, path, requestID string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.route.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := p.route.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s%s: %w", p.route.Name(), path, err)
	}
	defer resp.Body.Close()

	// Non-retryable statuses come back as responses; classify them here.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &httpclient.StatusError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(msg)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s%s: decode response: %w", p.route.Name(), path, err)
	}
	return nil
}

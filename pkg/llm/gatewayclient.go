package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/revaplatform/reva/pkg/config"
)

// GatewayClient is what the other services use to talk to the gateway.
// The gateway speaks the OpenAI wire format, so the client is a thin
// layer over the standard SDK pointed at the gateway's base URL.
type GatewayClient struct {
	api *openai.Client
}

// NewGatewayClient creates a client for the gateway at baseURL.
func NewGatewayClient(baseURL string) *GatewayClient {
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = baseURL
	return &GatewayClient{api: openai.NewClientWithConfig(cfg)}
}

// Complete sends a chat completion through the primary-chat route and
// returns the assistant text.
func (c *GatewayClient) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.CompleteWithModel(ctx, config.TagPrimaryChat, messages, 0)
}

// CompleteWithModel targets a specific logical tag or provider/model
// pair. temperature zero means provider default.
func (c *GatewayClient) CompleteWithModel(ctx context.Context, model string, messages []Message, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("gateway chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("gateway chat: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input text via the primary-embed route.
func (c *GatewayClient) Embed(ctx context.Context, input []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(config.TagPrimaryEmbed),
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway embeddings: %w", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

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

// Package llm implements the LLM gateway: a single OpenAI-compatible
// surface over multiple providers, with per-route circuit breaking,
// retry, and ordered fallback. Callers address logical model tags
// ("primary-chat") or explicit provider/model pairs; the gateway
// reports which model actually answered.
package llm

import (
	"encoding/json"
	"errors"
	"time"
)

// Message is one chat turn. ToolCalls passes through untouched so
// tool-using callers keep their metadata across routing and fallback.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Name      string          `json:"name,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the gateway's chat completion input. Model is either a
// logical tag from the routing table or an explicit "provider/model".
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`

	// RequestID propagates end to end via the X-Request-ID header.
	RequestID string `json:"-"`
}

// Usage reports token consumption as the provider counted it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the gateway's chat completion output. ModelActual is
// set when a fallback answered instead of the requested route.
type ChatResponse struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	ModelActual  string          `json:"model_actual,omitempty"`
	Content      string          `json:"content"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        Usage           `json:"usage"`
	Provider     string          `json:"provider,omitempty"`
	LatencyMS    int64           `json:"latency_ms,omitempty"`
}

// EmbeddingInput accepts both OpenAI wire shapes: a bare string and an
// array of strings.
type EmbeddingInput []string

func (in *EmbeddingInput) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*in = EmbeddingInput{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("input must be a string or an array of strings")
	}
	*in = many
	return nil
}

// EmbeddingRequest is the gateway's embedding input.
type EmbeddingRequest struct {
	Model string         `json:"model"`
	Input EmbeddingInput `json:"input"`

	RequestID string `json:"-"`
}

// EmbeddingResponse carries one vector per input, in order.
type EmbeddingResponse struct {
	Model       string      `json:"model"`
	ModelActual string      `json:"model_actual,omitempty"`
	Provider    string      `json:"provider,omitempty"`
	Vectors     [][]float32 `json:"vectors"`
	Usage       Usage       `json:"usage"`
}

// ModelInfo describes one routing table entry for GET /models.
type ModelInfo struct {
	Tag       string   `json:"tag"`
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

func latencyMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

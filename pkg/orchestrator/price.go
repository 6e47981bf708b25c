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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/revaplatform/reva/pkg/registry"
)

// The price-suggestion service is external to the core and found
// through the registry by capability.
const priceCapability = "price-analysis"

// PriceAnalysisClient calls whatever healthy price-analysis service the
// registry knows about. No registry or no provider means the route
// degrades to chat before this client is ever called.
type PriceAnalysisClient struct {
	finder ServiceFinder
	http   *http.Client
}

func NewPriceAnalysisClient(finder ServiceFinder) *PriceAnalysisClient {
	return &PriceAnalysisClient{
		finder: finder,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Available reports whether a healthy provider exists right now.
func (c *PriceAnalysisClient) Available(ctx context.Context) bool {
	if c.finder == nil {
		return false
	}
	records, err := c.finder.Discover(ctx, priceCapability, registry.StatusHealthy)
	return err == nil && len(records) > 0
}

type priceRequest struct {
	Query string `json:"query"`
}

type priceResponse struct {
	Message string   `json:"message"`
	Sources []string `json:"sources,omitempty"`
}

// Analyze forwards the query to the discovered service.
func (c *PriceAnalysisClient) Analyze(ctx context.Context, query, language string) (*HandlerResult, error) {
	records, err := c.finder.Discover(ctx, priceCapability, registry.StatusHealthy)
	if err != nil || len(records) == 0 {
		return nil, newError(KindProviderUnavailable, messagesFor(language).unavailable, err)
	}

	body, err := json.Marshal(priceRequest{Query: query})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		records[0].URL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newError(KindProviderUnavailable, messagesFor(language).unavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, newError(KindProviderUnavailable, messagesFor(language).unavailable,
			fmt.Errorf("price analysis status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	var out priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("price analysis decode: %w", err)
	}
	return &HandlerResult{Message: out.Message, Sources: out.Sources, Confidence: 0.85}, nil
}

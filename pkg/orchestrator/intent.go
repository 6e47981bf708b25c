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
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/revaplatform/reva/pkg/llm"
)

const intentSystemPrompt = `You classify Vietnamese and English real-estate
queries. Respond with JSON only, no prose:
{"intent": "<one of: search, property_detail, compare, price_analysis,
investment_advice, location_insights, legal_guidance, chat, unknown>",
"confidence": <0.0-1.0>,
"entities": {"price_min": <number|null>, "price_max": <number|null>,
"bedrooms": <number|null>, "location": "<string|null>",
"property_type": "<string|null>", "features": ["<string>", ...]}}

Examples:
Q: Tìm căn hộ 2 phòng ngủ Quận 7 dưới 3 tỷ
A: {"intent": "search", "confidence": 0.95, "entities": {"price_max": 3000000000, "bedrooms": 2, "location": "Quận 7", "property_type": "căn hộ", "features": []}}
Q: xem căn số 2
A: {"intent": "property_detail", "confidence": 0.9, "entities": {"features": []}}
Q: so sánh căn hộ Quận 7 và Quận 2
A: {"intent": "compare", "confidence": 0.9, "entities": {"features": []}}
Q: giá nhà Quận 7 đang thế nào
A: {"intent": "price_analysis", "confidence": 0.85, "entities": {"location": "Quận 7", "features": []}}
Q: có nên đầu tư căn hộ cho thuê không
A: {"intent": "investment_advice", "confidence": 0.85, "entities": {"features": []}}
Q: thủ tục sang tên sổ đỏ thế nào
A: {"intent": "legal_guidance", "confidence": 0.9, "entities": {"features": []}}
Q: xin chào
A: {"intent": "chat", "confidence": 0.95, "entities": {"features": []}}`

// Entities are the structured fields the classifier extracts.
type Entities struct {
	PriceMin     float64  `mapstructure:"price_min"`
	PriceMax     float64  `mapstructure:"price_max"`
	Bedrooms     int      `mapstructure:"bedrooms"`
	Location     string   `mapstructure:"location"`
	PropertyType string   `mapstructure:"property_type"`
	Features     []string `mapstructure:"features"`
}

// Classification is the intent stage's result.
type Classification struct {
	Intent     Intent
	Confidence float64
	Entities   Entities
	Fallback   bool
}

// Classifier turns a normalized query into an intent via the LLM
// gateway, with a deterministic keyword fallback for unparseable
// output.
type Classifier struct {
	llm Completer
}

func NewClassifier(c Completer) *Classifier { return &Classifier{llm: c} }

// Classify never fails: any model or parse problem falls back to the
// keyword rule.
func (c *Classifier) Classify(ctx context.Context, query string, history []llm.Message) Classification {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: intentSystemPrompt}}
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: "Q: " + query})

	out, err := c.llm.Complete(ctx, messages)
	if err != nil {
		return keywordFallback(query)
	}

	parsed, err := parseClassification(out)
	if err != nil {
		return keywordFallback(query)
	}
	return parsed
}

func parseClassification(out string) (Classification, error) {
	var raw struct {
		Intent     string         `json:"intent"`
		Confidence float64        `json:"confidence"`
		Entities   map[string]any `json:"entities"`
	}
	if err := llm.DecodeLenientJSON(out, &raw); err != nil {
		return Classification{}, err
	}

	intent := Intent(strings.ToLower(strings.TrimSpace(raw.Intent)))
	if !validIntents[intent] {
		return Classification{}, fmt.Errorf("intent %q outside the closed enum", raw.Intent)
	}

	var entities Entities
	if raw.Entities != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &entities,
			WeaklyTypedInput: true,
		})
		if err == nil {
			// Entity decode failure loses entities, not the intent.
			_ = decoder.Decode(raw.Entities)
		}
	}

	confidence := raw.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return Classification{Intent: intent, Confidence: confidence, Entities: entities}, nil
}

var greetingWords = []string{
	"xin chào", "chào", "chào bạn", "hello", "hi", "hey", "cảm ơn", "thanks", "thank you",
}

var domainKeywords = []string{
	"căn hộ", "chung cư", "nhà", "biệt thự", "đất", "phòng ngủ", "bất động sản",
	"mua", "thuê", "giá", "quận", "dự án", "apartment", "house", "villa",
	"property", "real estate", "rent", "buy", "bedroom", "district",
}

// keywordFallback is the deterministic rule used when the model's
// answer cannot be trusted: any property-domain keyword means search, a
// bare greeting means chat, anything else is unknown.
func keywordFallback(query string) Classification {
	lower := strings.ToLower(query)
	if containsAny(lower, domainKeywords) {
		return Classification{Intent: IntentSearch, Confidence: 0.5, Fallback: true}
	}
	if containsAny(lower, greetingWords) {
		return Classification{Intent: IntentChat, Confidence: 0.6, Fallback: true}
	}
	return Classification{Intent: IntentUnknown, Confidence: 0.3, Fallback: true}
}

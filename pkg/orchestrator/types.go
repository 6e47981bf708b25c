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
	"github.com/revaplatform/reva/pkg/reasoning"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// Intent is the closed classification enum. Anything the classifier
// cannot place lands on IntentUnknown, never on a free-form string.
type Intent string

const (
	IntentSearch           Intent = "search"
	IntentPropertyDetail   Intent = "property_detail"
	IntentCompare          Intent = "compare"
	IntentPriceAnalysis    Intent = "price_analysis"
	IntentInvestmentAdvice Intent = "investment_advice"
	IntentLocationInsights Intent = "location_insights"
	IntentLegalGuidance    Intent = "legal_guidance"
	IntentChat             Intent = "chat"
	IntentUnknown          Intent = "unknown"
)

var validIntents = map[Intent]bool{
	IntentSearch: true, IntentPropertyDetail: true, IntentCompare: true,
	IntentPriceAnalysis: true, IntentInvestmentAdvice: true,
	IntentLocationInsights: true, IntentLegalGuidance: true,
	IntentChat: true, IntentUnknown: true,
}

// Request is the orchestrate input.
type Request struct {
	UserID         string            `json:"user_id" validate:"required"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Query          string            `json:"query"`
	Language       string            `json:"language,omitempty"`
	Files          []string          `json:"files,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// WantsReasoning reports whether the caller asked for the full chain.
func (r Request) WantsReasoning() bool {
	return r.Metadata["include_reasoning"] == "true"
}

// AmbiguityType enumerates what kind of clarification is needed.
type AmbiguityType string

const (
	AmbiguityPropertyTypeMissing   AmbiguityType = "property_type_missing"
	AmbiguityMultipleIntents       AmbiguityType = "multiple_intents"
	AmbiguityAmenityAmbiguous      AmbiguityType = "amenity_ambiguous"
	AmbiguityPriceRangeUnclear     AmbiguityType = "price_range_unclear"
	AmbiguityLocationUnderspecified AmbiguityType = "location_underspecified"
)

// AmbiguityItem is one detected ambiguity with its clarifying question.
type AmbiguityItem struct {
	Type               AmbiguityType `json:"type"`
	Description        string        `json:"description"`
	ClarifyingQuestion string        `json:"clarifying_question"`
	Options            []string      `json:"options"`
	Confidence         float64       `json:"confidence"`
}

// Critical reports whether this ambiguity alone blocks handler
// execution. Location underspecification is advisory; retrieval can
// still search city-wide.
func (a AmbiguityItem) Critical() bool {
	switch a.Type {
	case AmbiguityPropertyTypeMissing, AmbiguityMultipleIntents,
		AmbiguityAmenityAmbiguous, AmbiguityPriceRangeUnclear:
		return true
	}
	return false
}

// Component is a structured UI descriptor attached to a response.
type Component struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// CarouselComponent wraps search results for the client UI.
func CarouselComponent(docs []retrieval.Document) Component {
	properties := make([]any, len(docs))
	for i, d := range docs {
		properties[i] = d
	}
	return Component{
		Type: "property-carousel",
		Data: map[string]any{"properties": properties, "total": len(docs)},
	}
}

// InspectorComponent wraps a single property detail.
func InspectorComponent(doc retrieval.Document) Component {
	return Component{
		Type: "property-inspector",
		Data: map[string]any{"property_data": doc},
	}
}

// HandlerResult is what every routed handler returns.
type HandlerResult struct {
	Message    string
	Components []Component
	Sources    []string
	Confidence float64
	Degraded   bool

	// Retrieved is set by the search and detail handlers so the state
	// update can overwrite last_retrieved.
	Retrieved []retrieval.Document
}

// Response is the orchestrate output.
type Response struct {
	Intent             Intent                    `json:"intent"`
	Confidence         float64                   `json:"confidence"`
	ResponseText       string                    `json:"response_text"`
	NeedsClarification bool                      `json:"needs_clarification,omitempty"`
	Clarifications     []AmbiguityItem           `json:"clarifications,omitempty"`
	Components         []Component               `json:"components,omitempty"`
	Sources            []string                  `json:"sources,omitempty"`
	ServiceUsed        string                    `json:"service_used"`
	ExecutionTimeMS    int64                     `json:"execution_time_ms"`
	ConversationID     string                    `json:"conversation_id,omitempty"`
	ReasoningChain     *reasoning.ChainSnapshot  `json:"reasoning_chain,omitempty"`
}

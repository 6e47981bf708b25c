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

// Package orchestrator is the platform's entry point: it turns a
// natural-language request plus conversation context into a routed
// handler call and a structured response. Every stage appends to the
// request's reasoning chain, ambiguous queries come back as
// clarification questions instead of guesses, and downstream outages
// degrade to the chat handler before surfacing as errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/conversation"
	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/rag"
	"github.com/revaplatform/reva/pkg/reasoning"
	"github.com/revaplatform/reva/pkg/registry"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// Completer is the LLM gateway surface the orchestrator itself uses.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// ServiceFinder is the registry surface used for routing health checks.
type ServiceFinder interface {
	Discover(ctx context.Context, capability string, status registry.Status) ([]registry.ServiceRecord, error)
}

// Orchestrator holds the immutable collaborators. One instance serves
// all requests.
type Orchestrator struct {
	cfg        config.OrchestratorConfig
	llm        Completer
	retriever  DetailRetriever
	pipeline   *rag.Pipeline
	detail     *PropertyDetailHandler
	classifier *Classifier
	kb         *KnowledgeBase
	store      *conversation.Store
	finder     ServiceFinder
	price      *PriceAnalysisClient
}

// New wires the orchestrator. finder may be nil when no registry is
// deployed; routing then assumes downstreams are healthy.
func New(cfg config.OrchestratorConfig, llmClient Completer, retriever DetailRetriever,
	store *conversation.Store, kb *KnowledgeBase, finder ServiceFinder) *Orchestrator {
	cfg.SetDefaults()
	return &Orchestrator{
		cfg:        cfg,
		llm:        llmClient,
		retriever:  retriever,
		pipeline:   rag.NewPipeline(cfg.RAG, llmClient, retriever),
		detail:     NewPropertyDetailHandler(retriever, cfg.DetailScoreThreshold),
		classifier: NewClassifier(llmClient),
		kb:         kb,
		store:      store,
		finder:     finder,
		price:      NewPriceAnalysisClient(finder),
	}
}

// Orchestrate runs the full stage sequence. On taxonomy errors the
// returned response still carries the partial reasoning chain.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	chain := reasoning.NewChain()
	language := req.Language
	if language == "" {
		language = "vi"
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
	defer cancel()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	respond := func(r *Response) *Response {
		r.ExecutionTimeMS = time.Since(started).Milliseconds()
		r.ConversationID = conversationID
		if req.WantsReasoning() {
			snapshot := chain.Snapshot()
			r.ReasoningChain = &snapshot
		}
		return r
	}

	// Stage 1: validation. The polite prompt rides in the error
	// response body; the status code comes from the taxonomy.
	if strings.TrimSpace(req.Query) == "" {
		chain.Observe(reasoning.StageQueryAnalysis,
			"query is empty, asking for a real request", nil, 0, 0)
		return respond(&Response{
			Intent:       IntentUnknown,
			Confidence:   0,
			ResponseText: messagesFor(language).empty,
			ServiceUsed:  "validation",
		}), newError(KindInputInvalid, messagesFor(language).empty, nil)
	}

	// Stages 1-2: normalization and script detection.
	norm := normalizeQuery(req.Query, o.cfg.MaxQueryLength)
	thought := fmt.Sprintf("normalized query, scripts: %s", strings.Join(norm.Scripts, ", "))
	if norm.Truncated {
		thought += "; query exceeded the length limit and was truncated"
	}
	if norm.Simplified {
		thought += "; mixed-script input simplified to Vietnamese and Latin"
	}
	chain.Observe(reasoning.StageQueryAnalysis, thought, map[string]any{
		"scripts": norm.Scripts, "truncated": norm.Truncated, "simplified": norm.Simplified,
	}, 0.95, time.Since(started))

	// Stage 3: conversation load.
	state, err := o.store.Load(ctx, req.UserID, conversationID, o.cfg.HistoryWindow)
	if err != nil {
		return respond(errorResponse(language)), AsError(err)
	}
	history := historyMessages(state)

	// Stage 4: knowledge expansion.
	expansion := o.kb.Expand(norm.Text)
	if len(expansion.Terms) > 0 || len(expansion.Notes) > 0 {
		chain.Observe(reasoning.StageKnowledgeExpansion,
			fmt.Sprintf("expanded domain phrases: %s", strings.Join(expansion.Notes, "; ")),
			map[string]any{"terms": expansion.Terms}, 0.9, time.Since(started))
	} else {
		chain.Observe(reasoning.StageKnowledgeExpansion,
			"no domain phrases to expand", nil, 0.9, time.Since(started))
	}

	// Stage 5: ambiguity detection.
	ambiguities := detectAmbiguities(norm.Text, language)
	chain.Observe(reasoning.StageAmbiguityCheck,
		fmt.Sprintf("found %d ambiguities", len(ambiguities)),
		ambiguityData(ambiguities), ambiguityConfidence(ambiguities), time.Since(started))
	if anyCritical(ambiguities) {
		resp := respond(&Response{
			Intent:             IntentUnknown,
			Confidence:         0.6,
			ResponseText:       ambiguities[0].ClarifyingQuestion,
			NeedsClarification: true,
			Clarifications:     ambiguities,
			ServiceUsed:        "ambiguity_detection",
		})
		o.updateState(req.UserID, conversationID, req.Query, resp.ResponseText, nil, "")
		return resp, nil
	}

	// Stage 6: intent classification.
	classification := o.classifier.Classify(ctx, norm.Text, history)
	thought = fmt.Sprintf("classified intent %s", classification.Intent)
	if classification.Fallback {
		thought += " via keyword fallback"
	}
	chain.Observe(reasoning.StageIntentClassification, thought, map[string]any{
		"intent": string(classification.Intent), "entities": classification.Entities,
		"fallback": classification.Fallback,
	}, classification.Confidence, time.Since(started))

	// Stage 7: routing.
	route := o.route(ctx, classification.Intent)
	chain.Observe(reasoning.StageRoutingDecision,
		fmt.Sprintf("routing %s to %s", classification.Intent, route.service),
		map[string]any{"service": route.service, "degraded": route.degraded},
		route.confidence, time.Since(started))

	// Stage 8: handler execution.
	result, err := o.execute(ctx, route, req, norm, expansion, classification, language, state, chain)
	if err != nil {
		oe := o.mapHandlerError(ctx, err, language)
		return respond(&Response{
			Intent:       classification.Intent,
			Confidence:   0,
			ResponseText: oe.UserMessage,
			ServiceUsed:  route.service,
		}), oe
	}

	// Stage 9: state update.
	turnID := ""
	if len(result.Retrieved) > 0 {
		turnID = uuid.NewString()
	}
	o.updateState(req.UserID, conversationID, req.Query, result.Message, result.Retrieved, turnID)

	// Stage 10: assembly.
	confidence := classification.Confidence
	if result.Confidence < confidence {
		confidence = result.Confidence
	}
	text := result.Message
	if result.Degraded || route.degraded {
		text = messagesFor(language).degraded + "\n\n" + text
	}
	chain.Conclude(text, confidence)
	return respond(&Response{
		Intent:       classification.Intent,
		Confidence:   confidence,
		ResponseText: text,
		Components:   result.Components,
		Sources:      result.Sources,
		ServiceUsed:  route.service,
	}), nil
}

func errorResponse(language string) *Response {
	return &Response{
		Intent:       IntentUnknown,
		Confidence:   0,
		ResponseText: messagesFor(language).internal,
		ServiceUsed:  "orchestrator",
	}
}

type routeDecision struct {
	service    string
	intent     Intent
	degraded   bool
	confidence float64
}

// route maps the intent to a handler, degrading to chat when the
// handler's downstream is unhealthy per the registry.
func (o *Orchestrator) route(ctx context.Context, intent Intent) routeDecision {
	decision := routeDecision{intent: intent, confidence: 0.9}
	switch intent {
	case IntentSearch, IntentCompare, IntentInvestmentAdvice, IntentLocationInsights:
		decision.service = "rag_pipeline"
		if !o.capabilityHealthy(ctx, "retrieval") {
			return o.degradeToChat(decision)
		}
	case IntentPropertyDetail:
		decision.service = "property_detail"
		if !o.capabilityHealthy(ctx, "retrieval") {
			return o.degradeToChat(decision)
		}
	case IntentPriceAnalysis:
		decision.service = "price_analysis"
		if !o.price.Available(ctx) {
			return o.degradeToChat(decision)
		}
	default:
		decision.service = "chat"
	}
	return decision
}

func (o *Orchestrator) degradeToChat(d routeDecision) routeDecision {
	d.service = "chat"
	d.degraded = true
	d.confidence = 0.5
	return d
}

// capabilityHealthy asks the registry for a healthy provider of the
// capability. Without a registry the answer is yes; routing problems
// then surface from the call itself.
func (o *Orchestrator) capabilityHealthy(ctx context.Context, capability string) bool {
	if o.finder == nil {
		return true
	}
	records, err := o.finder.Discover(ctx, capability, registry.StatusHealthy)
	if err != nil {
		// An unreachable registry must not take the platform down.
		return true
	}
	return len(records) > 0
}

func (o *Orchestrator) execute(ctx context.Context, route routeDecision, req Request,
	norm normalized, expansion ExpansionResult, classification Classification,
	language string, state *conversation.State, chain *reasoning.Chain) (*HandlerResult, error) {

	switch route.service {
	case "rag_pipeline":
		return o.runRAG(ctx, route.intent, norm, expansion, classification, language, chain)
	case "property_detail":
		return o.detail.Handle(ctx, norm.Text, language, state)
	case "price_analysis":
		return o.price.Analyze(ctx, norm.Text, language)
	default:
		return o.chat(ctx, norm.Text, language, req.Files, historyMessages(state))
	}
}

var ragModes = map[Intent]rag.Mode{
	IntentSearch:           rag.ModeSearch,
	IntentCompare:          rag.ModeCompare,
	IntentInvestmentAdvice: rag.ModeInvestmentAdvice,
	IntentLocationInsights: rag.ModeLocationInsights,
}

func (o *Orchestrator) runRAG(ctx context.Context, intent Intent, norm normalized,
	expansion ExpansionResult, classification Classification, language string,
	chain *reasoning.Chain) (*HandlerResult, error) {

	s := rag.NewState(expansion.ExpandedQuery, chain)
	s.Language = language
	s.Mode = ragModes[intent]
	s.Filters = mergeFilters(expansion, classification.Entities)
	s.AmbiguityHint = len(expansion.Notes) > 0

	if err := o.pipeline.Run(ctx, s); err != nil {
		return nil, err
	}

	result := &HandlerResult{
		Message:    s.Answer,
		Sources:    s.SourceIDs(),
		Confidence: chain.Snapshot().MinConfidence(),
		Retrieved:  s.Documents,
	}
	if intent == IntentSearch && len(s.Documents) > 0 {
		result.Components = []Component{CarouselComponent(s.Documents)}
	}
	return result, nil
}

const chatSystemPrompt = `You are REVA, a friendly Vietnamese real-estate
assistant. Answer briefly and helpfully in the language of the user's
message. For legal questions, explain the usual process and recommend
confirming with a licensed professional.`

func (o *Orchestrator) chat(ctx context.Context, query, language string, files []string, history []llm.Message) (*HandlerResult, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: chatSystemPrompt}}
	messages = append(messages, history...)
	if len(files) > 0 {
		// File contents never reach the model; the attachment names do.
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "The user attached: " + strings.Join(files, ", ") + ". Contents are not available; ask for the details you need.",
		})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	answer, err := o.llm.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &HandlerResult{Message: strings.TrimSpace(answer), Confidence: 0.8}, nil
}

// mapHandlerError degrades provider outages and classifies the rest.
func (o *Orchestrator) mapHandlerError(ctx context.Context, err error, language string) *Error {
	msgs := messagesFor(language)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(KindTimeoutExceeded, msgs.timeout, err)
	case llm.IsProviderUnavailable(err):
		return newError(KindProviderUnavailable, msgs.unavailable, err)
	case llm.IsBadRequest(err):
		return newError(KindInputInvalid, msgs.internal, err)
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return newError(KindInternalError, msgs.internal, err)
}

// updateState runs the stage-9 write under the per-conversation lock.
// State failures are logged and never fail the response the user
// already has.
func (o *Orchestrator) updateState(userID, conversationID, userText, assistantText string,
	retrieved []retrieval.Document, turnID string) {
	unlock := o.store.LockConversation(userID, conversationID)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	messages := []conversation.Message{
		{Role: llm.RoleUser, Content: userText},
		{Role: llm.RoleAssistant, Content: assistantText, RetrievalTurnID: turnID},
	}
	if err := o.store.Append(ctx, userID, conversationID, messages, o.cfg.HistoryWindow); err != nil {
		slog.Error("conversation append failed", "user_id", userID,
			"conversation_id", conversationID, "error", err)
		return
	}

	if len(retrieved) == 0 {
		return
	}
	k := o.cfg.LastRetrievedK
	if len(retrieved) < k {
		k = len(retrieved)
	}
	refs := make([]conversation.RetrievedRef, k)
	for i := 0; i < k; i++ {
		refs[i] = conversation.RetrievedRef{
			Position:   i + 1,
			PropertyID: retrieved[i].PropertyID,
			Title:      retrieved[i].Title,
			TurnID:     turnID,
		}
	}
	if err := o.store.SetLastRetrieved(ctx, userID, conversationID, refs); err != nil {
		slog.Error("last retrieved update failed", "user_id", userID,
			"conversation_id", conversationID, "error", err)
	}
}

// mergeFilters combines the knowledge base's suggested filters with the
// classifier's extracted entities; explicit entities win.
func mergeFilters(expansion ExpansionResult, entities Entities) retrieval.Filters {
	filters := expansion.Filters
	if entities.Bedrooms > 0 {
		filters.Bedrooms = entities.Bedrooms
	}
	if entities.PriceMin > 0 {
		filters.PriceGTE = entities.PriceMin
	}
	if entities.PriceMax > 0 {
		filters.PriceLTE = entities.PriceMax
	}
	if entities.Location != "" {
		filters.District = entities.Location
	}
	if entities.PropertyType != "" {
		filters.PropertyType = entities.PropertyType
	}
	if len(entities.Features) > 0 {
		filters.Features = entities.Features
	}
	return filters
}

func historyMessages(state *conversation.State) []llm.Message {
	messages := make([]llm.Message, 0, len(state.Messages))
	for _, m := range state.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

func ambiguityData(items []AmbiguityItem) map[string]any {
	if len(items) == 0 {
		return nil
	}
	kinds := make([]string, len(items))
	for i, item := range items {
		kinds[i] = string(item.Type)
	}
	return map[string]any{"kinds": kinds}
}

func ambiguityConfidence(items []AmbiguityItem) float64 {
	if anyCritical(items) {
		return 0.5
	}
	return 0.9
}

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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/conversation"
	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/registry"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// fakeGateway routes on the system prompt so one fake serves the
// classifier, the generation operator, and the chat handler.
type fakeGateway struct {
	classification string
	generation     string
	chat           string
	genErr         error
	genCalls       int
	lastChat       []llm.Message
}

func (f *fakeGateway) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	system := messages[0].Content
	switch {
	case strings.Contains(system, "You classify"):
		return f.classification, nil
	case strings.Contains(system, "Ground every factual claim"):
		f.genCalls++
		if f.genErr != nil {
			return "", f.genErr
		}
		return f.generation, nil
	case strings.Contains(system, "You are REVA"):
		f.lastChat = messages
		return f.chat, nil
	}
	return "", nil
}

type fakeSearcher struct {
	docs        []retrieval.Document
	lastFilters retrieval.Filters
	searchErr   error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, filters retrieval.Filters, limit int) (*retrieval.Result, error) {
	f.lastFilters = filters
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &retrieval.Result{Documents: f.docs}, nil
}

func (f *fakeSearcher) GetByID(ctx context.Context, id string) (*retrieval.Document, error) {
	for _, d := range f.docs {
		if d.PropertyID == id {
			doc := d
			return &doc, nil
		}
	}
	return nil, retrieval.ErrNotFound
}

type fakeFinder struct {
	records map[string][]registry.ServiceRecord
}

func (f *fakeFinder) Discover(ctx context.Context, capability string, status registry.Status) ([]registry.ServiceRecord, error) {
	return f.records[capability], nil
}

func listings() []retrieval.Document {
	return []retrieval.Document{
		{PropertyID: "p1", Title: "Căn hộ Sunrise City", District: "Quận 7", Score: 0.9},
		{PropertyID: "p2", Title: "Căn hộ Riverside", District: "Quận 7", Score: 0.8},
		{PropertyID: "p3", Title: "Căn hộ Midtown", District: "Quận 7", Score: 0.7},
	}
}

const searchClassification = `{"intent": "search", "confidence": 0.95, "entities": {"bedrooms": 2, "price_max": 3000000000, "location": "Quận 7", "property_type": "căn hộ", "features": []}}`

func newTestOrchestrator(t *testing.T, gw *fakeGateway, searcher *fakeSearcher, finder ServiceFinder) (*Orchestrator, *conversation.Store) {
	t.Helper()
	store, err := conversation.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "conv.db") + "?_busy_timeout=5000",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	kb, err := NewKnowledgeBase("")
	require.NoError(t, err)

	off := false
	cfg := config.OrchestratorConfig{
		RAG: config.RAGConfig{
			EnableRewrite: &off,
			EnableGrader:  &off,
			EnableRerank:  &off,
		},
	}
	return New(cfg, gw, searcher, store, kb, finder), store
}

func TestOrchestrateEmptyQuery(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeGateway{}, &fakeSearcher{}, nil)

	resp, err := o.Orchestrate(context.Background(), Request{UserID: "u1", Query: "   "})
	require.Error(t, err)
	oe := AsError(err)
	assert.Equal(t, KindInputInvalid, oe.Kind)
	assert.Equal(t, http.StatusBadRequest, oe.HTTPStatus())

	require.NotNil(t, resp)
	assert.Zero(t, resp.Confidence)
	assert.Contains(t, resp.ResponseText, "Bạn vui lòng nhập câu hỏi")
	assert.NotEmpty(t, resp.ConversationID)
}

func TestOrchestrateVagueQueryAsksForClarification(t *testing.T) {
	o, store := newTestOrchestrator(t, &fakeGateway{}, &fakeSearcher{}, nil)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", ConversationID: "c1", Query: "Tìm nhà đẹp",
	})
	require.NoError(t, err)
	assert.True(t, resp.NeedsClarification)
	assert.Equal(t, "ambiguity_detection", resp.ServiceUsed)
	require.Len(t, resp.Clarifications, 1)
	assert.Equal(t, AmbiguityAmenityAmbiguous, resp.Clarifications[0].Type)
	assert.Equal(t, []string{"Thiết kế hiện đại", "View đẹp", "Nội thất cao cấp", "Kiến trúc ấn tượng"},
		resp.Clarifications[0].Options)
	assert.Equal(t, resp.Clarifications[0].ClarifyingQuestion, resp.ResponseText)

	// The clarification exchange still lands in the conversation.
	n, err := store.MessageCount(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOrchestrateSearch(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		generation:     "Tôi tìm thấy 3 căn phù hợp, nổi bật là Căn hộ Sunrise City [p1].",
	}
	searcher := &fakeSearcher{docs: listings()}
	o, store := newTestOrchestrator(t, gw, searcher, nil)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", ConversationID: "c1",
		Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7 dưới 3 tỷ",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentSearch, resp.Intent)
	assert.Equal(t, "rag_pipeline", resp.ServiceUsed)
	assert.Contains(t, resp.ResponseText, "[p1]")
	assert.Contains(t, resp.Sources, "p1")
	assert.Greater(t, resp.Confidence, 0.0)

	require.Len(t, resp.Components, 1)
	assert.Equal(t, "property-carousel", resp.Components[0].Type)
	assert.Equal(t, 3, resp.Components[0].Data["total"])

	// Extracted entities drive the retrieval filters.
	assert.Equal(t, 2, searcher.lastFilters.Bedrooms)
	assert.Equal(t, float64(3000000000), searcher.lastFilters.PriceLTE)
	assert.Equal(t, "Quận 7", searcher.lastFilters.District)

	// The turn is remembered positionally for follow-ups.
	refs, err := store.LastRetrieved(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "p1", refs[0].PropertyID)
	assert.Equal(t, "p2", refs[1].PropertyID)
	assert.NotEmpty(t, refs[0].TurnID)
}

// Search, then "xem căn số 2" resolves against the previous turn's
// results.
func TestOrchestratePositionalFollowUp(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		generation:     "Dưới đây là các căn phù hợp [p1] [p2] [p3].",
	}
	searcher := &fakeSearcher{docs: listings()}
	o, store := newTestOrchestrator(t, gw, searcher, nil)

	_, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", ConversationID: "c1",
		Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7 dưới 3 tỷ",
	})
	require.NoError(t, err)

	gw.classification = `{"intent": "property_detail", "confidence": 0.9, "entities": {}}`
	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", ConversationID: "c1", Query: "xem căn số 2",
	})
	require.NoError(t, err)
	assert.Equal(t, IntentPropertyDetail, resp.Intent)
	assert.Equal(t, "property_detail", resp.ServiceUsed)
	require.Len(t, resp.Components, 1)
	assert.Equal(t, "property-inspector", resp.Components[0].Type)
	assert.Equal(t, []string{"p2"}, resp.Sources)

	// The detail turn overwrites the positional memory with itself.
	refs, err := store.LastRetrieved(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "p2", refs[0].PropertyID)
}

func TestOrchestrateChat(t *testing.T) {
	gw := &fakeGateway{
		classification: `{"intent": "chat", "confidence": 0.95, "entities": {}}`,
		chat:           "Chào bạn! Tôi có thể giúp gì về bất động sản?",
	}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{}, nil)

	resp, err := o.Orchestrate(context.Background(), Request{UserID: "u1", Query: "xin chào"})
	require.NoError(t, err)
	assert.Equal(t, IntentChat, resp.Intent)
	assert.Equal(t, "chat", resp.ServiceUsed)
	assert.Equal(t, "Chào bạn! Tôi có thể giúp gì về bất động sản?", resp.ResponseText)
	assert.Empty(t, resp.Components)
}

// Attached file names reach the chat prompt even though contents are
// never read.
func TestOrchestrateChatSeesAttachedFiles(t *testing.T) {
	gw := &fakeGateway{
		classification: `{"intent": "chat", "confidence": 0.95, "entities": {}}`,
		chat:           "Chào bạn!",
	}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{}, nil)

	_, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1",
		Query:  "xin chào",
		Files:  []string{"so-hong.pdf"},
	})
	require.NoError(t, err)

	var mentioned bool
	for _, m := range gw.lastChat {
		if strings.Contains(m.Content, "so-hong.pdf") {
			mentioned = true
		}
	}
	assert.True(t, mentioned, "attachment names reach the chat prompt")
}

// With no healthy retrieval provider in the registry, search degrades
// to chat instead of failing.
func TestOrchestrateDegradesWhenRetrievalUnhealthy(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		chat:           "Hiện tôi chưa tra cứu được danh sách, bạn mô tả thêm nhu cầu nhé.",
	}
	finder := &fakeFinder{records: map[string][]registry.ServiceRecord{}}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{docs: listings()}, finder)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7",
	})
	require.NoError(t, err)
	assert.Equal(t, "chat", resp.ServiceUsed)
	assert.True(t, strings.HasPrefix(resp.ResponseText, messagesFor("vi").degraded))
}

func TestOrchestrateHealthyRegistryKeepsRAGRoute(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		generation:     "Có 3 căn phù hợp [p1].",
	}
	finder := &fakeFinder{records: map[string][]registry.ServiceRecord{
		"retrieval": {{Name: "retrieval-gateway"}},
	}}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{docs: listings()}, finder)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7",
	})
	require.NoError(t, err)
	assert.Equal(t, "rag_pipeline", resp.ServiceUsed)
}

func TestOrchestrateGenerationOutageMapsToProviderUnavailable(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		genErr:         &llm.RouteError{Route: "openai/gpt-4o", Kind: llm.KindProviderUnavailable},
	}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{docs: listings()}, nil)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7",
	})
	require.Error(t, err)
	oe := AsError(err)
	assert.Equal(t, KindProviderUnavailable, oe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, oe.HTTPStatus())
	require.NotNil(t, resp)
	assert.Equal(t, messagesFor("vi").unavailable, resp.ResponseText)
}

func TestOrchestratePriceAnalysis(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		w.Write([]byte(`{"message": "Giá trung bình Quận 7 khoảng 55 triệu/m2.", "sources": ["market-report-q2"]}`))
	}))
	defer backend.Close()

	gw := &fakeGateway{
		classification: `{"intent": "price_analysis", "confidence": 0.9, "entities": {"location": "Quận 7"}}`,
	}
	finder := &fakeFinder{records: map[string][]registry.ServiceRecord{
		"price-analysis": {{Name: "price-svc", URL: backend.URL}},
	}}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{}, finder)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", Query: "giá nhà quận 7 đang thế nào",
	})
	require.NoError(t, err)
	assert.Equal(t, "price_analysis", resp.ServiceUsed)
	assert.Contains(t, resp.ResponseText, "55 triệu/m2")
	assert.Equal(t, []string{"market-report-q2"}, resp.Sources)
}

func TestOrchestrateReasoningChainOnRequest(t *testing.T) {
	gw := &fakeGateway{
		classification: searchClassification,
		generation:     "Có 3 căn phù hợp [p1].",
	}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{docs: listings()}, nil)

	req := Request{
		UserID: "u1", Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7",
		Metadata: map[string]string{"include_reasoning": "true"},
	}
	resp, err := o.Orchestrate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.ReasoningChain)
	assert.NotEmpty(t, resp.ReasoningChain.FinalConclusion)

	stages := map[string]bool{}
	for _, thought := range resp.ReasoningChain.Thoughts {
		stages[string(thought.Stage)] = true
	}
	for _, want := range []string{"query_analysis", "ambiguity_check", "intent_classification", "routing_decision", "retrieval", "generation"} {
		assert.True(t, stages[want], want)
	}

	req.Metadata = nil
	resp, err = o.Orchestrate(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, resp.ReasoningChain)
}

func TestOrchestrateNoMatchesSkipsCarousel(t *testing.T) {
	gw := &fakeGateway{classification: searchClassification}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{}, nil)

	resp, err := o.Orchestrate(context.Background(), Request{
		UserID: "u1", Query: "Tìm căn hộ 2 phòng ngủ ở Quận 7 dưới 3 tỷ",
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Components)
	assert.Contains(t, resp.ResponseText, "nới rộng")
	assert.Zero(t, gw.genCalls)
}

func TestOrchestrateGeneratesConversationID(t *testing.T) {
	gw := &fakeGateway{
		classification: `{"intent": "chat", "confidence": 0.9, "entities": {}}`,
		chat:           "Chào bạn!",
	}
	o, _ := newTestOrchestrator(t, gw, &fakeSearcher{}, nil)

	resp, err := o.Orchestrate(context.Background(), Request{UserID: "u1", Query: "xin chào"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID)

	again, err := o.Orchestrate(context.Background(), Request{UserID: "u1", Query: "xin chào"})
	require.NoError(t, err)
	assert.NotEqual(t, resp.ConversationID, again.ConversationID)
}

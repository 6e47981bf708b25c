package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/reasoning"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// fakeLLM routes on the system prompt so one fake serves every
// operator. Unscripted prompt kinds echo a canned answer.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	lastUser  map[string]string
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		responses: map[string]string{},
		errs:      map[string]error{},
		calls:     map[string]int{},
		lastUser:  map[string]string{},
	}
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	kind := promptKind(messages[0].Content)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[kind]++
	f.lastUser[kind] = messages[len(messages)-1].Content
	if err := f.errs[kind]; err != nil {
		return "", err
	}
	if resp, ok := f.responses[kind]; ok {
		return resp, nil
	}
	return "canned answer", nil
}

func (f *fakeLLM) callCount(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeLLM) userPrompt(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUser[kind]
}

func promptKind(system string) string {
	switch {
	case strings.Contains(system, "normalize real-estate"):
		return "rewrite"
	case strings.Contains(system, "short property listing"):
		return "hyde"
	case strings.Contains(system, "Decide whether"):
		return "decompose"
	case strings.Contains(system, "grade how relevant"):
		return "grade"
	case strings.Contains(system, "order property listings"):
		return "rerank"
	case strings.Contains(system, "review a real-estate assistant"):
		return "reflect"
	case strings.Contains(system, "Ground every factual claim"):
		return "generate"
	}
	return "unknown"
}

type fakeRetriever struct {
	mu      sync.Mutex
	queries []string
	byQuery map[string][]retrieval.Document
	docs    []retrieval.Document
	err     error
}

func (f *fakeRetriever) Search(_ context.Context, query string, _ retrieval.Filters, _ int) (*retrieval.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, query)
	if docs, ok := f.byQuery[query]; ok {
		return &retrieval.Result{Documents: docs}, nil
	}
	return &retrieval.Result{Documents: f.docs}, nil
}

func (f *fakeRetriever) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func props(ids ...string) []retrieval.Document {
	docs := make([]retrieval.Document, len(ids))
	for i, id := range ids {
		docs[i] = retrieval.Document{
			PropertyID: id,
			Title:      "căn hộ " + id,
			District:   "Quận 7",
			Score:      1 - float64(i)*0.1,
		}
	}
	return docs
}

func off() *bool { v := false; return &v }
func on() *bool  { v := true; return &v }

func minimalConfig() config.RAGConfig {
	return config.RAGConfig{
		EnableRewrite: off(),
		EnableGrader:  off(),
		EnableRerank:  off(),
	}
}

func TestMinimalChainRetrievesAndAnswers(t *testing.T) {
	model := newFakeLLM()
	model.responses["generate"] = "Có 2 căn phù hợp [p1] và [p2]."
	retriever := &fakeRetriever{docs: props("p1", "p2")}

	p := NewPipeline(minimalConfig(), model, retriever)
	s := NewState("căn hộ Quận 7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, "Có 2 căn phù hợp [p1] và [p2].", s.Answer)
	assert.Equal(t, []string{"p1", "p2"}, s.SourceIDs())
	assert.Equal(t, 0, model.callCount("rewrite"))
	assert.Equal(t, 0, model.callCount("grade"))
	assert.Equal(t, 0, model.callCount("rerank"))

	chain := s.Chain.Snapshot()
	require.Len(t, chain.Thoughts, 2)
	assert.Equal(t, reasoning.StageRetrieval, chain.Thoughts[0].Stage)
	assert.Equal(t, reasoning.StageGeneration, chain.Thoughts[1].Stage)
}

func TestRewriteFailureKeepsOriginalQuery(t *testing.T) {
	model := newFakeLLM()
	model.errs["rewrite"] = errors.New("gateway down")
	retriever := &fakeRetriever{docs: props("p1")}

	cfg := minimalConfig()
	cfg.EnableRewrite = on()
	p := NewPipeline(cfg, model, retriever)
	s := NewState("can ho Q7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, []string{"can ho Q7"}, retriever.seen())
	assert.NotEmpty(t, s.Answer)
}

func TestGraderDropsBelowThreshold(t *testing.T) {
	model := newFakeLLM()
	model.responses["grade"] = `[{"id":"p1","score":0.9},{"id":"p2","score":0.2},{"id":"p3","score":0.8}]`
	retriever := &fakeRetriever{docs: props("p1", "p2", "p3")}

	cfg := minimalConfig()
	cfg.EnableGrader = on()
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ 2 phòng ngủ Quận 7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, []string{"p1", "p3"}, s.SourceIDs())
}

func TestGraderParseFailureKeepsAll(t *testing.T) {
	model := newFakeLLM()
	model.responses["grade"] = "I think they are all quite relevant."
	retriever := &fakeRetriever{docs: props("p1", "p2")}

	cfg := minimalConfig()
	cfg.EnableGrader = on()
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ 2 phòng ngủ Quận 7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, []string{"p1", "p2"}, s.SourceIDs())
}

func TestRerankReordersWithoutChangingSet(t *testing.T) {
	model := newFakeLLM()
	model.responses["rerank"] = `["p3", "p1", "p999"]`
	retriever := &fakeRetriever{docs: props("p1", "p2", "p3")}

	cfg := minimalConfig()
	cfg.EnableRerank = on()
	cfg.TopK = 3
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ hai phòng ngủ gần trường quốc tế", nil)
	require.NoError(t, p.Run(context.Background(), s))

	// p999 was invented, p2 was dropped by the model; the set survives.
	assert.Equal(t, []string{"p3", "p1", "p2"}, s.SourceIDs())
}

func TestRerankFailureKeepsRetrievalOrder(t *testing.T) {
	model := newFakeLLM()
	model.errs["rerank"] = errors.New("gateway down")
	retriever := &fakeRetriever{docs: props("p1", "p2")}

	cfg := minimalConfig()
	cfg.EnableRerank = on()
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ hai phòng ngủ gần trường quốc tế", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, []string{"p1", "p2"}, s.SourceIDs())
}

func TestZeroDocumentsSkipsRerankAndSaysNoMatches(t *testing.T) {
	model := newFakeLLM()
	retriever := &fakeRetriever{}

	cfg := minimalConfig()
	cfg.EnableRerank = on()
	p := NewPipeline(cfg, model, retriever)
	s := NewState("lâu đài 50 phòng ngủ", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.True(t, s.NoMatches)
	assert.Contains(t, s.Answer, "không tìm thấy")
	assert.Empty(t, s.SourceIDs())
	assert.Equal(t, 0, model.callCount("rerank"))
	assert.Equal(t, 0, model.callCount("generate"), "no-matches answer needs no LLM call")
}

func TestNoMatchesMessageFollowsLanguage(t *testing.T) {
	model := newFakeLLM()
	p := NewPipeline(minimalConfig(), model, &fakeRetriever{})
	s := NewState("castle with fifty bedrooms", nil)
	s.Language = "en"
	require.NoError(t, p.Run(context.Background(), s))
	assert.Contains(t, s.Answer, "could not find")
}

func TestGenerationFailureIsFatal(t *testing.T) {
	model := newFakeLLM()
	model.errs["generate"] = errors.New("all providers exhausted")
	retriever := &fakeRetriever{docs: props("p1")}

	p := NewPipeline(minimalConfig(), model, retriever)
	err := p.Run(context.Background(), NewState("căn hộ Quận 7", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation")
}

func TestRetrievalFailureIsFatal(t *testing.T) {
	model := newFakeLLM()
	retriever := &fakeRetriever{err: errors.New("gateway unreachable")}

	p := NewPipeline(minimalConfig(), model, retriever)
	err := p.Run(context.Background(), NewState("căn hộ Quận 7", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval")
}

func TestReflectionRegeneratesOnceWithCritique(t *testing.T) {
	model := newFakeLLM()
	model.responses["generate"] = "Những căn này đều ổn."
	model.responses["reflect"] = `{"coverage":0.4,"grounding":0.3,"clarity":0.8,"critique":"no listing ids cited"}`
	retriever := &fakeRetriever{docs: props("p1", "p2")}

	cfg := minimalConfig()
	cfg.EnableReflection = true
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ Quận 7 dưới 3 tỷ", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, 2, model.callCount("generate"), "one regeneration pass")
	assert.Contains(t, model.userPrompt("generate"), "no listing ids cited")
	assert.Equal(t, 1, s.regenerations)
}

func TestReflectionAcceptsGoodAnswer(t *testing.T) {
	model := newFakeLLM()
	model.responses["reflect"] = `{"coverage":0.9,"grounding":0.9,"clarity":0.9,"critique":""}`
	retriever := &fakeRetriever{docs: props("p1")}

	cfg := minimalConfig()
	cfg.EnableReflection = true
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ Quận 7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, 1, model.callCount("generate"))
}

func TestHydeRunsSecondSearchForShortQueries(t *testing.T) {
	model := newFakeLLM()
	model.responses["hyde"] = "Căn hộ 2 phòng ngủ tại Quận 7, giá khoảng 3 tỷ, view sông."
	retriever := &fakeRetriever{
		docs: props("p1"),
		byQuery: map[string][]retrieval.Document{
			"Căn hộ 2 phòng ngủ tại Quận 7, giá khoảng 3 tỷ, view sông.": props("p2"),
		},
	}

	cfg := minimalConfig()
	cfg.EnableHyDE = true
	p := NewPipeline(cfg, model, retriever)
	s := NewState("nhà Quận 7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, 1, model.callCount("hyde"))
	assert.Len(t, retriever.seen(), 2)
	assert.ElementsMatch(t, []string{"p1", "p2"}, s.SourceIDs())
}

func TestHydeSkipsLongSpecificQueries(t *testing.T) {
	model := newFakeLLM()
	retriever := &fakeRetriever{docs: props("p1")}

	cfg := minimalConfig()
	cfg.EnableHyDE = true
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ 2 phòng ngủ tại Quận 7 dưới 3 tỷ có hồ bơi và chỗ đậu xe", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Equal(t, 0, model.callCount("hyde"))
	assert.Len(t, retriever.seen(), 1)
}

func TestDecompositionMergesSubQueryResults(t *testing.T) {
	model := newFakeLLM()
	model.responses["decompose"] = "căn hộ để ở Quận 7\ncăn hộ cho thuê Quận 1"
	retriever := &fakeRetriever{
		byQuery: map[string][]retrieval.Document{
			"căn hộ để ở Quận 7":    {{PropertyID: "p1", Score: 0.9}, {PropertyID: "p2", Score: 0.5}},
			"căn hộ cho thuê Quận 1": {{PropertyID: "p2", Score: 0.8}, {PropertyID: "p3", Score: 0.7}},
		},
	}

	cfg := minimalConfig()
	cfg.EnableDecomposition = true
	p := NewPipeline(cfg, model, retriever)
	s := NewState("tìm căn hộ để ở Quận 7 và căn hộ cho thuê Quận 1", nil)
	require.NoError(t, p.Run(context.Background(), s))

	require.Equal(t, []string{"p1", "p2", "p3"}, s.SourceIDs())
	// p2 appears in both legs and keeps its best score.
	assert.Equal(t, 0.8, s.Documents[1].Score)
}

func TestDecompositionNoneKeepsSingleSearch(t *testing.T) {
	model := newFakeLLM()
	model.responses["decompose"] = "NONE"
	retriever := &fakeRetriever{docs: props("p1")}

	cfg := minimalConfig()
	cfg.EnableDecomposition = true
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ Quận 7 có hồ bơi và sân vườn rộng rãi thoáng mát", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Empty(t, s.SubQueries)
	assert.Len(t, retriever.seen(), 1)
}

func TestParseRankedIDsManualScan(t *testing.T) {
	ids := parseRankedIDs("Ranked best first:\n1. 'p2'\n2. 'p1'")
	assert.Equal(t, []string{"p2", "p1"}, ids)
}

func TestGenerationPacksTopK(t *testing.T) {
	model := newFakeLLM()
	retriever := &fakeRetriever{docs: props("p1", "p2", "p3", "p4", "p5", "p6", "p7")}

	cfg := minimalConfig()
	cfg.TopK = 5
	p := NewPipeline(cfg, model, retriever)
	s := NewState("căn hộ Quận 7", nil)
	require.NoError(t, p.Run(context.Background(), s))

	assert.Len(t, s.SourceIDs(), 5)
	assert.Contains(t, model.userPrompt("generate"), "[p5]")
	assert.NotContains(t, model.userPrompt("generate"), "[p6]")
}

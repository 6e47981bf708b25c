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

package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/reasoning"
)

const groundingRules = `Ground every factual claim in the listings provided,
citing the listing id in square brackets, for example [p12]. If the listings
cannot answer part of the question, say so plainly. Never invent prices,
addresses, or listings. Answer in the language of the query.`

var modePrompts = map[Mode]string{
	ModeSearch: `You are a real-estate assistant presenting search results.
Summarize the best matching listings for the user's search, most relevant
first, with the details that matter (type, district, rooms, price).`,
	ModeCompare: `You are a real-estate assistant comparing listings. Lay the
candidate listings side by side on price, location, size, and features, and
state which trade-offs distinguish them.`,
	ModeInvestmentAdvice: `You are a real-estate assistant assessing
investment potential. Discuss the listed properties in terms of price level,
location prospects, and rental suitability, based only on the listing data.`,
	ModeLocationInsights: `You are a real-estate assistant describing areas.
Use the listings as evidence of what the named districts offer, price ranges
included.`,
}

var noMatchesMessages = map[string]string{
	"vi": "Rất tiếc, tôi không tìm thấy bất động sản nào phù hợp với yêu cầu của bạn. Bạn có thể thử nới rộng khu vực hoặc khoảng giá.",
	"en": "Unfortunately I could not find any properties matching your request. You could try widening the area or the price range.",
}

// Generation produces the user-facing answer from the top documents.
// It is the only operator whose failure aborts the run.
type Generation struct {
	llm  Completer
	topK int
}

func NewGeneration(c Completer, topK int) *Generation {
	return &Generation{llm: c, topK: topK}
}

func (o *Generation) Name() string { return "generation" }

func (o *Generation) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()

	if len(s.Documents) == 0 {
		s.Answer = noMatchesMessage(s.Language)
		s.NoMatches = true
		s.Chain.Observe(reasoning.StageGeneration,
			"no surviving documents, answering with a no-matches message",
			nil, 0.7, time.Since(started))
		return OK()
	}

	docs, used := o.packContext(s)
	system := modePrompts[s.Mode]
	if system == "" {
		system = modePrompts[ModeSearch]
	}
	system += "\n\n" + groundingRules

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	messages = append(messages, s.History...)
	user := fmt.Sprintf("Query: %s\n\nListings:\n%s", s.RetrievalText(), docs)
	if s.Critique != "" {
		user += "\n\nYour previous answer was judged insufficient: " + s.Critique +
			"\nWrite an improved answer."
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})

	answer, err := o.llm.Complete(ctx, messages)
	if err != nil {
		s.Chain.Observe(reasoning.StageGeneration,
			"generation failed", map[string]any{"error": err.Error()},
			0, time.Since(started))
		return Failed("generation failed", err)
	}

	s.Answer = strings.TrimSpace(answer)
	s.Documents = s.Documents[:used]
	s.Chain.Observe(reasoning.StageGeneration,
		fmt.Sprintf("generated answer from %d listings", used),
		map[string]any{"sources": s.SourceIDs(), "mode": string(s.Mode)},
		0.85, time.Since(started))
	return OK()
}

// packContext renders the top documents until either the top-K cut or
// the token budget stops it. At least one document always fits.
func (o *Generation) packContext(s *State) (rendered string, used int) {
	var sb strings.Builder
	budget := contextTokenBudget
	for i, d := range s.Documents {
		if i >= o.topK {
			break
		}
		entry := fmt.Sprintf("[%s] %s\n", d.PropertyID, d.Text())
		cost := countTokens(entry)
		if i > 0 && cost > budget {
			break
		}
		sb.WriteString(entry)
		budget -= cost
		used++
	}
	return sb.String(), used
}

func noMatchesMessage(language string) string {
	if msg, ok := noMatchesMessages[language]; ok {
		return msg
	}
	return noMatchesMessages["vi"]
}

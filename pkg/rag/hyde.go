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
	"strings"
	"time"
	"unicode/utf8"

	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/reasoning"
)

// Queries shorter than this rarely carry enough signal for embedding
// search on their own; HyDE pads them with a hypothetical listing.
const hydeShortQueryRunes = 40

const hydePrompt = `Write a short property listing (2-3 sentences) that would
be the ideal match for the following search. Write it as a real listing
excerpt in the language of the search, with concrete details (type, district,
rooms, price range) where the search implies them. Do not mention that it is
hypothetical.`

// HyDE drafts a hypothetical ideal listing and stores it as extra
// retrieval text. The embedding of a plausible answer usually sits
// closer to the relevant documents than the embedding of a terse query.
type HyDE struct {
	llm Completer
}

func NewHyDE(c Completer) *HyDE { return &HyDE{llm: c} }

func (o *HyDE) Name() string { return "hyde" }

// Applies reports whether the query is worth the extra LLM call: short
// queries and those the orchestrator flagged as loosely specified.
func (o *HyDE) Applies(s *State) bool {
	return utf8.RuneCountInString(s.RetrievalText()) < hydeShortQueryRunes || s.AmbiguityHint
}

func (o *HyDE) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()
	out, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: hydePrompt},
		{Role: llm.RoleUser, Content: s.RetrievalText()},
	})
	if err != nil {
		s.Chain.Observe(reasoning.StageQueryAnalysis,
			"hypothetical listing unavailable, searching with the query alone",
			nil, 0.6, time.Since(started))
		return Degraded("hyde failed", err)
	}

	s.HydeText = strings.TrimSpace(out)
	s.Chain.Observe(reasoning.StageQueryAnalysis,
		"drafted a hypothetical listing as extra retrieval text",
		map[string]any{"hyde_length": len(s.HydeText)},
		0.8, time.Since(started))
	return OK()
}

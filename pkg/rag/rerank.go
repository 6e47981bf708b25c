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
	"github.com/revaplatform/reva/pkg/retrieval"
)

const rerankPrompt = `You order property listings by how well they match the
full intent of a search query, best first. Respond with a JSON array of the
listing ids only, for example ["p12", "p3", "p7"]. Include every id exactly
once.`

// Rerank asks the model for one total order over the surviving
// documents. The retrieval set never changes here: ids the model
// dropped are appended in their previous order, ids it invented are
// ignored, and any failure keeps the incoming order.
type Rerank struct {
	llm Completer
}

func NewRerank(c Completer) *Rerank { return &Rerank{llm: c} }

func (o *Rerank) Name() string { return "rerank" }

func (o *Rerank) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()
	if len(s.Documents) < 2 {
		return OK()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nListings:\n", s.RetrievalText())
	for _, d := range s.Documents {
		fmt.Fprintf(&sb, "[%s] %s\n", d.PropertyID, d.Text())
	}

	out, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rerankPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	})
	if err != nil {
		s.Chain.Observe(reasoning.StageGrading,
			"rerank unavailable, keeping retrieval order", nil, 0.6, time.Since(started))
		return Degraded("rerank failed", err)
	}

	ids := parseRankedIDs(out)
	reordered, matched := reorder(s.Documents, ids)
	if matched == 0 {
		s.Chain.Observe(reasoning.StageGrading,
			"rerank output unparseable, keeping retrieval order", nil, 0.6, time.Since(started))
		return Degraded("rerank output unparseable", nil)
	}

	s.Documents = reordered
	s.Chain.Observe(reasoning.StageGrading,
		fmt.Sprintf("reranked %d of %d properties", matched, len(reordered)),
		map[string]any{"order": ids},
		0.85, time.Since(started))
	return OK()
}

// parseRankedIDs pulls an ordered id list out of arbitrary model
// output: JSON array first, quote-normalized JSON second, a manual scan
// for quoted tokens last.
func parseRankedIDs(out string) []string {
	var ids []string
	if err := llm.DecodeLenientJSON(out, &ids); err == nil {
		return ids
	}
	for _, line := range strings.Split(out, "\n") {
		for _, quote := range []string{`"`, `'`} {
			parts := strings.Split(line, quote)
			for i := 1; i < len(parts); i += 2 {
				if token := strings.TrimSpace(parts[i]); token != "" {
					ids = append(ids, token)
				}
			}
			if len(parts) > 1 {
				break
			}
		}
	}
	return ids
}

// reorder applies the id order to docs without changing the set.
func reorder(docs []retrieval.Document, ids []string) ([]retrieval.Document, int) {
	byID := make(map[string]int, len(docs))
	for i, d := range docs {
		byID[d.PropertyID] = i
	}

	taken := make([]bool, len(docs))
	out := make([]retrieval.Document, 0, len(docs))
	matched := 0
	for _, id := range ids {
		if i, ok := byID[id]; ok && !taken[i] {
			out = append(out, docs[i])
			taken[i] = true
			matched++
		}
	}
	for i, d := range docs {
		if !taken[i] {
			out = append(out, d)
		}
	}
	return out, matched
}

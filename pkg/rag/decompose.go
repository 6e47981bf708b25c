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

const decomposePrompt = `Decide whether the following real-estate query asks
for more than one independent thing (for example a purchase search and a
rental search at once). If it does, split it into self-contained sub-queries,
one per line, each in the language of the original. If it is a single
request, reply with the single word NONE.`

// QueryDecomposition splits a multi-intent query into sub-queries that
// HybridRetrieval later runs in parallel. A single-intent query, a
// failed call, or unusable output all leave the state untouched.
type QueryDecomposition struct {
	llm Completer
}

func NewQueryDecomposition(c Completer) *QueryDecomposition {
	return &QueryDecomposition{llm: c}
}

func (o *QueryDecomposition) Name() string { return "query_decomposition" }

func (o *QueryDecomposition) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()
	out, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: decomposePrompt},
		{Role: llm.RoleUser, Content: s.RetrievalText()},
	})
	if err != nil {
		s.Chain.Observe(reasoning.StageQueryAnalysis,
			"decomposition unavailable, treating the query as single-intent",
			nil, 0.6, time.Since(started))
		return Degraded("decomposition failed", err)
	}

	subQueries := parseSubQueries(out)
	if len(subQueries) < 2 {
		s.Chain.Observe(reasoning.StageQueryAnalysis,
			"query is single-intent", nil, 0.9, time.Since(started))
		return OK()
	}

	s.SubQueries = subQueries
	s.Chain.Observe(reasoning.StageQueryAnalysis,
		fmt.Sprintf("split query into %d sub-queries", len(subQueries)),
		map[string]any{"sub_queries": subQueries},
		0.8, time.Since(started))
	return OK()
}

// parseSubQueries reads one query per line, stripping list markers and
// quotes the model tends to add despite the instructions.
func parseSubQueries(out string) []string {
	if strings.EqualFold(strings.TrimSpace(out), "NONE") {
		return nil
	}
	var queries []string
	seen := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		q := strings.TrimSpace(line)
		for _, marker := range []string{"-", "•", "*", "1.", "2.", "3.", "4.", "5."} {
			q = strings.TrimSpace(strings.TrimPrefix(q, marker))
		}
		q = strings.Trim(q, `"'`)
		if q == "" || strings.EqualFold(q, "NONE") || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		queries = append(queries, q)
	}
	return queries
}

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

const rewritePrompt = `You normalize real-estate search queries. Fix typos,
expand abbreviations (PN = phòng ngủ, CC = chung cư, Q7 = Quận 7), and keep
every domain term and number exactly as meant. Do not add criteria the user
did not state. Reply with the normalized query only, same language as the
input, no quotes, no explanation.`

// QueryRewrite asks the LLM gateway for a typo-fixed, abbreviation-free
// version of the query. A failed or empty rewrite keeps the original.
type QueryRewrite struct {
	llm Completer
}

func NewQueryRewrite(c Completer) *QueryRewrite { return &QueryRewrite{llm: c} }

func (o *QueryRewrite) Name() string { return "query_rewrite" }

func (o *QueryRewrite) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()
	out, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rewritePrompt},
		{Role: llm.RoleUser, Content: s.Query},
	})
	if err != nil {
		s.Chain.Observe(reasoning.StageQueryAnalysis,
			"rewrite unavailable, keeping original query", nil, 0.5, time.Since(started))
		return Degraded("rewrite failed", err)
	}

	cleaned := strings.Trim(strings.TrimSpace(out), `"'`)
	if cleaned == "" || len(cleaned) > 4*len(s.Query)+64 {
		// A rambling answer means the model ignored the instructions.
		s.Chain.Observe(reasoning.StageQueryAnalysis,
			"rewrite output unusable, keeping original query", nil, 0.5, time.Since(started))
		return Degraded("rewrite output unusable", nil)
	}

	s.CleanedQuery = cleaned
	s.Chain.Observe(reasoning.StageQueryAnalysis,
		fmt.Sprintf("normalized query to %q", cleaned),
		map[string]any{"original": s.Query, "cleaned": cleaned},
		0.9, time.Since(started))
	return OK()
}

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
	"log/slog"

	"github.com/revaplatform/reva/pkg/config"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// The query leg carries the user's own words and outweighs the
// hypothetical-listing leg when the two are fused.
var hydeFusion = retrieval.FusionParams{K: 60, VectorWeight: 0.6, KeywordWeight: 0.4}

// Pipeline is the operator chain for one configuration. It is immutable
// after construction and safe for concurrent runs; all per-request data
// lives in the State.
type Pipeline struct {
	cfg config.RAGConfig

	rewrite    *QueryRewrite
	hyde       *HyDE
	decompose  *QueryDecomposition
	retrieve   *HybridRetrieval
	grader     *DocumentGrader
	rerank     *Rerank
	generate   *Generation
	reflection *Reflection
}

// NewPipeline wires the operators against the two gateways. The minimal
// chain of retrieval plus generation is always on; everything else
// follows the configuration toggles.
func NewPipeline(cfg config.RAGConfig, llmClient Completer, retriever Retriever) *Pipeline {
	cfg.SetDefaults()
	generate := NewGeneration(llmClient, cfg.TopK)
	return &Pipeline{
		cfg:        cfg,
		rewrite:    NewQueryRewrite(llmClient),
		hyde:       NewHyDE(llmClient),
		decompose:  NewQueryDecomposition(llmClient),
		retrieve:   NewHybridRetrieval(retriever, cfg.RetrievalLimit, hydeFusion),
		grader:     NewDocumentGrader(llmClient, cfg.GraderThreshold),
		rerank:     NewRerank(llmClient),
		generate:   generate,
		reflection: NewReflection(llmClient, cfg.ReflectionThreshold, generate),
	}
}

// Run executes the chain over s. Degraded operators lower confidence
// and continue; a failed retrieval or generation aborts with an error.
func (p *Pipeline) Run(ctx context.Context, s *State) error {
	if p.cfg.EnableRewrite != nil && *p.cfg.EnableRewrite {
		p.step(ctx, s, p.rewrite)
	}
	if p.cfg.EnableHyDE && p.hyde.Applies(s) {
		p.step(ctx, s, p.hyde)
	}
	if p.cfg.EnableDecomposition {
		p.step(ctx, s, p.decompose)
	}

	if outcome := p.step(ctx, s, p.retrieve); outcome.Kind == OutcomeFailed {
		return fmt.Errorf("retrieval: %w", outcome.Err)
	}

	if p.cfg.EnableGrader != nil && *p.cfg.EnableGrader {
		p.step(ctx, s, p.grader)
	}
	// Zero survivors skip straight to the no-matches answer.
	if len(s.Documents) > 0 && p.cfg.EnableRerank != nil && *p.cfg.EnableRerank {
		p.step(ctx, s, p.rerank)
	}

	if outcome := p.step(ctx, s, p.generate); outcome.Kind == OutcomeFailed {
		return fmt.Errorf("generation: %w", outcome.Err)
	}

	if p.cfg.EnableReflection && !s.NoMatches {
		p.step(ctx, s, p.reflection)
	}
	return nil
}

func (p *Pipeline) step(ctx context.Context, s *State, op Operator) Outcome {
	outcome := op.Run(ctx, s)
	switch outcome.Kind {
	case OutcomeDegraded:
		slog.Warn("pipeline operator degraded",
			"operator", op.Name(), "reason", outcome.Reason, "error", outcome.Err)
	case OutcomeFailed:
		slog.Error("pipeline operator failed",
			"operator", op.Name(), "reason", outcome.Reason, "error", outcome.Err)
	}
	return outcome
}

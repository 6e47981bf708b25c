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

// Package rag implements the retrieval-augmented answer pipeline: a
// configurable chain of operators that rewrite the query, retrieve
// property documents through the retrieval gateway, grade and rerank
// them, and generate a grounded answer through the LLM gateway. Every
// operator records a Thought on the request's reasoning chain and
// degrades rather than fails; only a failed Generation aborts a run.
package rag

import (
	"context"

	"github.com/revaplatform/reva/pkg/llm"
	"github.com/revaplatform/reva/pkg/reasoning"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// Mode selects the generation prompt. Search is the default; the other
// modes reuse the same retrieval machinery with a different framing.
type Mode string

const (
	ModeSearch           Mode = "search"
	ModeCompare          Mode = "compare"
	ModeInvestmentAdvice Mode = "investment_advice"
	ModeLocationInsights Mode = "location_insights"
)

// Completer is the slice of the LLM gateway client the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Retriever is the slice of the retrieval gateway client the pipeline
// needs.
type Retriever interface {
	Search(ctx context.Context, query string, filters retrieval.Filters, limit int) (*retrieval.Result, error)
}

// State is the shared transcript one request's operators read and
// write. Operators run sequentially over one State; only decomposed
// sub-query retrieval touches it from multiple goroutines, and that
// merge happens in HybridRetrieval after the goroutines join.
type State struct {
	Query        string
	CleanedQuery string
	HydeText     string
	SubQueries   []string
	Filters      retrieval.Filters
	Language     string
	History      []llm.Message
	Mode         Mode

	Documents []retrieval.Document
	Answer    string
	NoMatches bool

	// Critique is set by Reflection before the one regeneration pass.
	Critique string

	Chain *reasoning.Chain

	// AmbiguityHint widens the HyDE gate for queries the orchestrator
	// already flagged as underspecified but not critically so.
	AmbiguityHint bool

	regenerations int
}

// NewState creates a run state for one query. A nil chain is replaced
// so operators can always append.
func NewState(query string, chain *reasoning.Chain) *State {
	if chain == nil {
		chain = reasoning.NewChain()
	}
	return &State{
		Query:        query,
		CleanedQuery: query,
		Mode:         ModeSearch,
		Chain:        chain,
	}
}

// RetrievalText returns what the pipeline searches with: the cleaned
// query once rewrite has run, the raw query otherwise.
func (s *State) RetrievalText() string {
	if s.CleanedQuery != "" {
		return s.CleanedQuery
	}
	return s.Query
}

// SourceIDs lists the property ids backing the answer, in document
// order.
func (s *State) SourceIDs() []string {
	ids := make([]string, len(s.Documents))
	for i, d := range s.Documents {
		ids[i] = d.PropertyID
	}
	return ids
}

// OutcomeKind tags an operator result.
type OutcomeKind string

const (
	OutcomeOK       OutcomeKind = "ok"
	OutcomeDegraded OutcomeKind = "degraded"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the tagged result of one operator run. Degraded means the
// operator could not do its job but left the state usable; Failed means
// the state is unusable downstream.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

// OK reports a clean run.
func OK() Outcome { return Outcome{Kind: OutcomeOK} }

// Degraded reports a recoverable shortfall.
func Degraded(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeDegraded, Reason: reason, Err: err}
}

// Failed reports an unrecoverable error.
func Failed(reason string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, Err: err}
}

// Operator is one pipeline step.
type Operator interface {
	Name() string
	Run(ctx context.Context, s *State) Outcome
}

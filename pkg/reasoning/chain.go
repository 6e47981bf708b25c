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

// Package reasoning holds the shared observability contract for request
// processing: every stage of the orchestrator and every pipeline operator
// appends a Thought to a per-request Chain. The chain is attached to the
// response when the caller asks for it, and to timeout errors as-is
// (partial chains are valid).
package reasoning

import (
	"sync"
	"time"
)

// Stage identifies which part of the processing emitted a Thought.
type Stage string

const (
	StageQueryAnalysis        Stage = "query_analysis"
	StageKnowledgeExpansion   Stage = "knowledge_expansion"
	StageAmbiguityCheck       Stage = "ambiguity_check"
	StageIntentClassification Stage = "intent_classification"
	StageRoutingDecision      Stage = "routing_decision"
	StageRetrieval            Stage = "retrieval"
	StageGrading              Stage = "grading"
	StageGeneration           Stage = "generation"
	StageReflection           Stage = "reflection"
)

// Thought is one reasoning step. Data carries stage-specific structured
// detail (extracted entities, document counts, scores) and must stay
// JSON-serializable.
type Thought struct {
	Stage      Stage          `json:"stage"`
	Thought    string         `json:"thought"`
	Data       map[string]any `json:"data,omitempty"`
	Confidence float64        `json:"confidence"`
	LatencyMS  int64          `json:"latency_ms,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Chain is the append-only record of one request's reasoning. Appends are
// safe for concurrent use; sub-queries of a decomposed request share one
// chain.
type Chain struct {
	mu                sync.Mutex
	thoughts          []Thought
	overallConfidence float64
	finalConclusion   string
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Append records one thought. A zero Timestamp is filled in.
func (c *Chain) Append(t Thought) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thoughts = append(c.thoughts, t)
}

// Observe is the common append shape: stage, free-form thought, structured
// data, confidence, and the latency of the step that produced it.
func (c *Chain) Observe(stage Stage, thought string, data map[string]any, confidence float64, elapsed time.Duration) {
	c.Append(Thought{
		Stage:      stage,
		Thought:    thought,
		Data:       data,
		Confidence: confidence,
		LatencyMS:  elapsed.Milliseconds(),
	})
}

// Conclude sets the chain's final conclusion and overall confidence.
func (c *Chain) Conclude(conclusion string, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalConclusion = conclusion
	c.overallConfidence = confidence
}

// Len returns the number of recorded thoughts.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.thoughts)
}

// Snapshot returns an immutable copy for response assembly. The live
// chain may keep growing (late operator appends after a timeout); the
// snapshot does not.
func (c *Chain) Snapshot() ChainSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := ChainSnapshot{
		Thoughts:          make([]Thought, len(c.thoughts)),
		OverallConfidence: c.overallConfidence,
		FinalConclusion:   c.finalConclusion,
	}
	copy(out.Thoughts, c.thoughts)
	return out
}

// ChainSnapshot is the serializable form of a Chain.
type ChainSnapshot struct {
	Thoughts          []Thought `json:"thoughts"`
	OverallConfidence float64   `json:"overall_confidence"`
	FinalConclusion   string    `json:"final_conclusion,omitempty"`
}

// MinConfidence returns the lowest confidence across thoughts, or 1 for
// an empty chain. Degraded operators pull the overall figure down.
func (s ChainSnapshot) MinConfidence() float64 {
	min := 1.0
	for _, t := range s.Thoughts {
		if t.Confidence < min {
			min = t.Confidence
		}
	}
	return min
}

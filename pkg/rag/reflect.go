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

const reflectionPrompt = `You review a real-estate assistant's answer against
the user's query and the listings it was given. Score three aspects from 0.0
to 1.0: coverage (does it address the whole query), grounding (is every claim
backed by a cited listing), clarity (is it readable and direct). Respond with
JSON only: {"coverage": <n>, "grounding": <n>, "clarity": <n>,
"critique": "<one or two sentences on the main weakness>"}.`

// Reflection scores the generated answer and, when it falls short,
// spends the single regeneration pass with the critique attached. A
// failed or unparseable review keeps the first answer.
type Reflection struct {
	llm       Completer
	threshold float64
	generate  *Generation
}

func NewReflection(c Completer, threshold float64, generate *Generation) *Reflection {
	return &Reflection{llm: c, threshold: threshold, generate: generate}
}

func (o *Reflection) Name() string { return "reflection" }

type reflectionScore struct {
	Coverage  float64 `json:"coverage"`
	Grounding float64 `json:"grounding"`
	Clarity   float64 `json:"clarity"`
	Critique  string  `json:"critique"`
}

func (o *Reflection) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()
	if s.NoMatches || s.Answer == "" {
		return OK()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nListings:\n", s.RetrievalText())
	for _, d := range s.Documents {
		fmt.Fprintf(&sb, "[%s] %s\n", d.PropertyID, d.Text())
	}
	fmt.Fprintf(&sb, "\nAnswer:\n%s", s.Answer)

	out, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: reflectionPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	})
	if err != nil {
		s.Chain.Observe(reasoning.StageReflection,
			"reflection unavailable, keeping the first answer", nil, 0.7, time.Since(started))
		return Degraded("reflection failed", err)
	}

	var score reflectionScore
	if err := llm.DecodeLenientJSON(out, &score); err != nil {
		s.Chain.Observe(reasoning.StageReflection,
			"reflection output unparseable, keeping the first answer", nil, 0.7, time.Since(started))
		return Degraded("reflection output unparseable", err)
	}

	overall := (score.Coverage + score.Grounding + score.Clarity) / 3
	data := map[string]any{
		"coverage": score.Coverage, "grounding": score.Grounding,
		"clarity": score.Clarity, "overall": overall,
	}

	if overall >= o.threshold || s.regenerations >= 1 {
		s.Chain.Observe(reasoning.StageReflection,
			fmt.Sprintf("answer accepted with overall score %.2f", overall),
			data, overall, time.Since(started))
		return OK()
	}

	s.regenerations++
	s.Critique = score.Critique
	s.Chain.Observe(reasoning.StageReflection,
		fmt.Sprintf("answer scored %.2f, regenerating once with critique", overall),
		data, overall, time.Since(started))

	if outcome := o.generate.Run(ctx, s); outcome.Kind == OutcomeFailed {
		// The first answer already exists; a failed regeneration
		// degrades instead of aborting.
		return Degraded("regeneration failed, keeping the first answer", outcome.Err)
	}
	return OK()
}

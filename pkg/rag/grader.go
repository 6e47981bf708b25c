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

// One grading call covers at most this many documents; bigger batches
// make the model sloppy about ids.
const graderBatchSize = 10

const graderPrompt = `You grade how relevant each property listing is to a
search query. For every listing reply with a relevance score between 0.0
(irrelevant) and 1.0 (perfect match). Respond with a JSON array only:
[{"id": "<property id>", "score": <0.0-1.0>}, ...] covering every listing.`

// DocumentGrader scores each retrieved document against the query and
// drops those under the threshold. Unparseable or failed grading keeps
// the full set; a grade the model forgot to emit keeps that document.
type DocumentGrader struct {
	llm       Completer
	threshold float64
}

func NewDocumentGrader(c Completer, threshold float64) *DocumentGrader {
	return &DocumentGrader{llm: c, threshold: threshold}
}

func (o *DocumentGrader) Name() string { return "document_grader" }

type gradeEntry struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func (o *DocumentGrader) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()
	if len(s.Documents) == 0 {
		return OK()
	}

	scores := map[string]float64{}
	degradedBatches := 0
	for start := 0; start < len(s.Documents); start += graderBatchSize {
		end := min(start+graderBatchSize, len(s.Documents))
		batch := s.Documents[start:end]
		if err := o.gradeBatch(ctx, s.RetrievalText(), batch, scores); err != nil {
			degradedBatches++
		}
	}

	kept := s.Documents[:0:len(s.Documents)]
	dropped := 0
	for _, d := range s.Documents {
		score, graded := scores[d.PropertyID]
		if graded && score < o.threshold {
			dropped++
			continue
		}
		kept = append(kept, d)
	}
	s.Documents = kept

	confidence := 0.9
	if degradedBatches > 0 {
		confidence = 0.6
	}
	s.Chain.Observe(reasoning.StageGrading,
		fmt.Sprintf("graded %d properties, dropped %d below %.2f", len(scores), dropped, o.threshold),
		map[string]any{"graded": len(scores), "dropped": dropped, "kept": len(kept)},
		confidence, time.Since(started))

	if degradedBatches > 0 {
		return Degraded(fmt.Sprintf("%d grading batches unparseable, documents kept", degradedBatches), nil)
	}
	return OK()
}

func (o *DocumentGrader) gradeBatch(ctx context.Context, query string, batch []retrieval.Document, scores map[string]float64) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nListings:\n", query)
	for _, d := range batch {
		fmt.Fprintf(&sb, "[%s] %s\n", d.PropertyID, d.Text())
	}

	out, err := o.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: graderPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	})
	if err != nil {
		return err
	}

	var entries []gradeEntry
	if err := llm.DecodeLenientJSON(out, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Score >= 0 && e.Score <= 1 {
			scores[e.ID] = e.Score
		}
	}
	return nil
}

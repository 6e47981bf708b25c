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
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revaplatform/reva/pkg/reasoning"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// HybridRetrieval calls the retrieval gateway and fills s.Documents.
// With a HyDE draft present it runs a second search over the draft and
// fuses both result lists; with sub-queries present it fans out one
// search per sub-query and merges the union.
type HybridRetrieval struct {
	retriever Retriever
	limit     int
	fusion    retrieval.FusionParams
}

func NewHybridRetrieval(r Retriever, limit int, fusion retrieval.FusionParams) *HybridRetrieval {
	return &HybridRetrieval{retriever: r, limit: limit, fusion: fusion}
}

func (o *HybridRetrieval) Name() string { return "hybrid_retrieval" }

func (o *HybridRetrieval) Run(ctx context.Context, s *State) Outcome {
	started := time.Now()

	var (
		docs     []retrieval.Document
		degraded bool
		err      error
	)
	switch {
	case len(s.SubQueries) > 1:
		docs, degraded, err = o.searchSubQueries(ctx, s)
	case s.HydeText != "":
		docs, degraded, err = o.searchWithHyde(ctx, s)
	default:
		var result *retrieval.Result
		result, err = o.retriever.Search(ctx, s.RetrievalText(), s.Filters, o.limit)
		if err == nil {
			docs, degraded = result.Documents, result.Degraded
		}
	}
	if err != nil {
		s.Chain.Observe(reasoning.StageRetrieval,
			"retrieval failed", map[string]any{"error": err.Error()},
			0, time.Since(started))
		return Failed("retrieval failed", err)
	}

	s.Documents = docs
	confidence := 0.9
	if degraded {
		confidence = 0.6
	}
	s.Chain.Observe(reasoning.StageRetrieval,
		fmt.Sprintf("retrieved %d candidate properties", len(docs)),
		map[string]any{"count": len(docs), "degraded": degraded},
		confidence, time.Since(started))
	if degraded {
		return Degraded("retrieval ran keyword-only", nil)
	}
	return OK()
}

// searchWithHyde fuses the query leg and the hypothetical-listing leg
// by reciprocal rank, weighting the user's own words higher.
func (o *HybridRetrieval) searchWithHyde(ctx context.Context, s *State) ([]retrieval.Document, bool, error) {
	var queryLeg, hydeLeg *retrieval.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		queryLeg, err = o.retriever.Search(gctx, s.RetrievalText(), s.Filters, o.limit)
		return err
	})
	g.Go(func() error {
		var err error
		hydeLeg, err = o.retriever.Search(gctx, s.HydeText, s.Filters, o.limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	fused := retrieval.Fuse(queryLeg.Documents, hydeLeg.Documents, o.fusion, o.limit)
	return fused, queryLeg.Degraded || hydeLeg.Degraded, nil
}

// searchSubQueries fans out one search per sub-query and merges by
// union; a property found by several sub-queries keeps its best score.
func (o *HybridRetrieval) searchSubQueries(ctx context.Context, s *State) ([]retrieval.Document, bool, error) {
	results := make([]*retrieval.Result, len(s.SubQueries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range s.SubQueries {
		g.Go(func() error {
			result, err := o.retriever.Search(gctx, q, s.Filters, o.limit)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	merged := map[string]retrieval.Document{}
	degraded := false
	for _, result := range results {
		degraded = degraded || result.Degraded
		for _, d := range result.Documents {
			if prev, ok := merged[d.PropertyID]; !ok || d.Score > prev.Score {
				merged[d.PropertyID] = d
			}
		}
	}

	docs := make([]retrieval.Document, 0, len(merged))
	for _, d := range merged {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].PropertyID < docs[j].PropertyID
	})
	if len(docs) > o.limit {
		docs = docs[:o.limit]
	}
	return docs, degraded, nil
}

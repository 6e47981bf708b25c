package retrieval

import "sort"

// FusionParams are the reciprocal rank fusion constants.
type FusionParams struct {
	K             int
	VectorWeight  float64
	KeywordWeight float64
}

// Fuse merges the two ranked legs with weighted reciprocal rank
// fusion: score(d) = sum over legs of weight / (k + rank). Ranks are
// 1-based per leg. Ties break by ascending property id.
func Fuse(vector, keyword []Document, params FusionParams, limit int) []Document {
	type fused struct {
		doc   Document
		score float64
	}
	byID := make(map[string]*fused)

	add := func(leg []Document, weight float64) {
		for i, doc := range leg {
			contribution := weight / float64(params.K+i+1)
			if f, ok := byID[doc.PropertyID]; ok {
				f.score += contribution
				continue
			}
			byID[doc.PropertyID] = &fused{doc: doc, score: contribution}
		}
	}
	add(vector, params.VectorWeight)
	add(keyword, params.KeywordWeight)

	out := make([]Document, 0, len(byID))
	for _, f := range byID {
		doc := f.doc
		doc.Score = f.score
		doc.Source = SourceFused
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PropertyID < out[j].PropertyID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

package retrieval

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// KeywordIndex is an in-memory term index with tf-idf scoring. It is
// the keyword leg of hybrid search and the sole leg when embedding is
// unavailable.
type KeywordIndex struct {
	mu   sync.RWMutex
	docs map[string]keywordDoc
	// df counts how many documents contain each term.
	df map[string]int
}

type keywordDoc struct {
	doc   Document
	terms map[string]int
	size  int
}

// NewKeywordIndex creates an empty index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		docs: make(map[string]keywordDoc),
		df:   make(map[string]int),
	}
}

// Index adds or replaces documents.
func (idx *KeywordIndex) Index(docs ...Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, doc := range docs {
		if old, ok := idx.docs[doc.PropertyID]; ok {
			for term := range old.terms {
				idx.df[term]--
				if idx.df[term] <= 0 {
					delete(idx.df, term)
				}
			}
		}

		terms := termFrequencies(doc.Text())
		size := 0
		for term, n := range terms {
			idx.df[term]++
			size += n
		}
		idx.docs[doc.PropertyID] = keywordDoc{doc: doc, terms: terms, size: size}
	}
}

// Len returns the number of indexed documents.
func (idx *KeywordIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Get returns the stored document by id.
func (idx *KeywordIndex) Get(id string) (Document, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	kd, ok := idx.docs[id]
	return kd.doc, ok
}

// All returns every stored document.
func (idx *KeywordIndex) All() []Document {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Document, 0, len(idx.docs))
	for _, kd := range idx.docs {
		out = append(out, kd.doc)
	}
	return out
}

// Search scores filtered documents against the query terms and returns
// up to limit results, best first. Ties break by ascending property id
// so results are deterministic.
func (idx *KeywordIndex) Search(query string, filters Filters, limit int) []Document {
	queryTerms := termFrequencies(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := len(idx.docs)
	var results []Document
	for _, kd := range idx.docs {
		if !filters.Matches(kd.doc) {
			continue
		}
		score := idx.score(queryTerms, kd, total)
		if score <= 0 {
			continue
		}
		doc := kd.doc
		doc.Score = score
		doc.Source = SourceKeyword
		results = append(results, doc)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PropertyID < results[j].PropertyID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// score sums tf * idf over the matched query terms, normalized by
// document length so long listings don't dominate.
func (idx *KeywordIndex) score(queryTerms map[string]int, kd keywordDoc, totalDocs int) float64 {
	if kd.size == 0 {
		return 0
	}
	var score float64
	for term := range queryTerms {
		tf := kd.terms[term]
		if tf == 0 {
			continue
		}
		df := idx.df[term]
		idf := math.Log(1 + float64(totalDocs)/float64(df))
		score += (float64(tf) / float64(kd.size)) * idf
	}
	return score
}

// termFrequencies tokenizes into lowercase terms. Vietnamese text
// tokenizes fine on whitespace; diacritics are preserved so "quận"
// and "quan" stay distinct terms.
func termFrequencies(text string) map[string]int {
	terms := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len([]rune(word)) < 2 {
			continue
		}
		terms[word]++
	}
	return terms
}

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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/revaplatform/reva/pkg/conversation"
	"github.com/revaplatform/reva/pkg/retrieval"
)

// DetailRetriever is the retrieval surface the detail handler needs.
type DetailRetriever interface {
	Search(ctx context.Context, query string, filters retrieval.Filters, limit int) (*retrieval.Result, error)
	GetByID(ctx context.Context, id string) (*retrieval.Document, error)
}

// PropertyDetailHandler resolves "show me that one" style requests in
// three modes: an explicit property id, a positional reference into the
// last retrieval turn, or a keyword lookup.
type PropertyDetailHandler struct {
	retriever      DetailRetriever
	scoreThreshold float64
}

func NewPropertyDetailHandler(r DetailRetriever, scoreThreshold float64) *PropertyDetailHandler {
	return &PropertyDetailHandler{retriever: r, scoreThreshold: scoreThreshold}
}

// Known property id shapes: p12, prop-12, bds_123.
var propertyIDPattern = regexp.MustCompile(`\b(?:p|prop|bds)[-_]?\d+\b`)

// Handle resolves the reference and returns a property-inspector
// result. Positional references that cannot be resolved come back as a
// clarification, not an error.
func (h *PropertyDetailHandler) Handle(ctx context.Context, query, language string, state *conversation.State) (*HandlerResult, error) {
	if id := propertyIDPattern.FindString(strings.ToLower(query)); id != "" {
		return h.byID(ctx, id, language)
	}
	if pos, ok := parseOrdinal(query); ok {
		return h.byPosition(ctx, pos, language, state)
	}
	return h.byKeyword(ctx, query, language)
}

func (h *PropertyDetailHandler) byID(ctx context.Context, id, language string) (*HandlerResult, error) {
	doc, err := h.retriever.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			return nil, newError(KindNotFound, messagesFor(language).notFound, err)
		}
		return nil, err
	}
	return inspectorResult(*doc, language), nil
}

func (h *PropertyDetailHandler) byPosition(ctx context.Context, pos int, language string, state *conversation.State) (*HandlerResult, error) {
	if state == nil || len(state.LastRetrieved) == 0 {
		return restateResult(language), nil
	}
	if pos < 1 || pos > len(state.LastRetrieved) {
		return restateResult(language), nil
	}
	ref := state.LastRetrieved[pos-1]
	doc, err := h.retriever.GetByID(ctx, ref.PropertyID)
	if err != nil {
		if errors.Is(err, retrieval.ErrNotFound) {
			return nil, newError(KindNotFound, messagesFor(language).notFound, err)
		}
		return nil, err
	}
	return inspectorResult(*doc, language), nil
}

func (h *PropertyDetailHandler) byKeyword(ctx context.Context, query, language string) (*HandlerResult, error) {
	result, err := h.retriever.Search(ctx, query, retrieval.Filters{}, 1)
	if err != nil {
		return nil, err
	}
	if len(result.Documents) == 0 || result.Documents[0].Score < h.scoreThreshold {
		return restateResult(language), nil
	}
	return inspectorResult(result.Documents[0], language), nil
}

func inspectorResult(doc retrieval.Document, language string) *HandlerResult {
	message := fmt.Sprintf("Đây là thông tin chi tiết của %s.", doc.Title)
	if language == "en" {
		message = fmt.Sprintf("Here are the details of %s.", doc.Title)
	}
	return &HandlerResult{
		Message:    message,
		Components: []Component{InspectorComponent(doc)},
		Sources:    []string{doc.PropertyID},
		Confidence: 0.9,
		Retrieved:  []retrieval.Document{doc},
	}
}

// restateResult asks the user to point at a concrete property again.
func restateResult(language string) *HandlerResult {
	message := "Tôi chưa rõ bạn muốn xem bất động sản nào. Bạn vui lòng tìm kiếm lại hoặc nêu rõ tên/mã căn."
	if language == "en" {
		message = "I am not sure which property you mean. Please search again or name the property."
	}
	return &HandlerResult{Message: message, Confidence: 0.4}
}

// Ordinal vocabularies. Vietnamese spelled numbers cover both the
// cardinal and the ordinal ("thứ hai") forms.
var viNumberWords = map[string]int{
	"nhất": 1, "một": 1, "hai": 2, "nhì": 2, "ba": 3, "tư": 4, "bốn": 4,
	"năm": 5, "sáu": 6, "bảy": 7, "tám": 8, "chín": 9, "mười": 10,
}

var enNumberWords = map[string]int{
	"first": 1, "one": 1, "second": 2, "two": 2, "third": 3, "three": 3,
	"fourth": 4, "four": 4, "fifth": 5, "five": 5, "sixth": 6, "six": 6,
	"seventh": 7, "seven": 7, "eighth": 8, "eight": 8, "ninth": 9, "nine": 9,
	"tenth": 10, "ten": 10,
}

// Phrases that signal a positional reference rather than a count
// ("2 phòng ngủ" is a count, "căn số 2" is a position).
var positionMarkers = []string{
	"căn số", "căn thứ", "số", "thứ", "cái thứ",
	"the", "number", "option", "result",
}

var ordinalSuffixPattern = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)\b`)

// parseOrdinal extracts a 1-based position from a positional phrase in
// Vietnamese or English: a digit after a position marker, an English
// ordinal suffix, or a spelled-out number word.
func parseOrdinal(query string) (int, bool) {
	lower := strings.ToLower(query)

	if m := ordinalSuffixPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}

	fields := strings.Fields(lower)
	for i := range fields {
		if !isPositionMarkerAt(fields, i) {
			continue
		}
		if i+1 >= len(fields) {
			continue
		}
		next := strings.Trim(fields[i+1], ".,!?")
		if n, err := strconv.Atoi(next); err == nil && n > 0 && n <= 50 {
			return n, true
		}
		if n, ok := viNumberWords[next]; ok {
			return n, true
		}
		if n, ok := enNumberWords[next]; ok {
			return n, true
		}
	}
	return 0, false
}

func isPositionMarkerAt(fields []string, i int) bool {
	for _, marker := range positionMarkers {
		parts := strings.Fields(marker)
		if len(parts) == 1 {
			if fields[i] == parts[0] {
				return true
			}
			continue
		}
		// Two-word markers: match the tail word when the head precedes.
		if i > 0 && fields[i-1] == parts[0] && fields[i] == parts[1] {
			return true
		}
	}
	return false
}

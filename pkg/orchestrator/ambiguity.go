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
	"strings"
	"unicode"
)

// Closed word lists for the rule-based ambiguity pass. Matching is
// case-insensitive against the normalized query.

// Subjective aesthetic modifiers that say nothing searchable on their
// own.
var vagueModifiers = []string{
	// Vietnamese
	"đẹp", "xinh", "sang trọng", "lung linh", "ấm cúng", "thoáng mát",
	"rộng rãi", "tiện nghi", "đẳng cấp", "lý tưởng", "hoàn hảo",
	// English
	"beautiful", "nice", "lovely", "luxurious", "cozy", "spacious",
	"stylish", "perfect", "dreamy",
}

var propertyTypeWords = []string{
	"căn hộ", "chung cư", "nhà", "nhà phố", "biệt thự", "đất", "đất nền",
	"studio", "officetel", "shophouse", "penthouse", "phòng trọ",
	"apartment", "house", "villa", "townhouse", "condo", "land", "flat",
}

var searchVerbs = []string{
	"tìm", "mua", "thuê", "cần", "muốn",
	"find", "buy", "rent", "looking for", "search",
}

var transactionWords = []string{"mua", "thuê", "bán", "buy", "rent", "sell", "lease"}

var multiIntentConnectives = []string{" và ", " vừa ", " hoặc ", " and ", " or ", " plus "}

var priceWords = []string{"giá", "ngân sách", "tầm tiền", "price", "budget", "cost"}

var priceQualifiers = []string{
	"rẻ", "đắt", "cao", "thấp", "hợp lý", "tỷ", "triệu", "tr", "billion", "million",
	"cheap", "affordable", "expensive", "under", "dưới", "trên", "khoảng",
}

var locationWords = []string{
	"khu vực", "khu", "gần", "vị trí", "địa điểm",
	"area", "near", "location", "district", "close to",
}

var knownLocations = []string{
	"quận 1", "quận 2", "quận 3", "quận 4", "quận 5", "quận 6", "quận 7",
	"quận 8", "quận 9", "quận 10", "quận 11", "quận 12", "q1", "q2", "q3",
	"q7", "bình thạnh", "thủ đức", "phú nhuận", "tân bình", "gò vấp",
	"bình tân", "nhà bè", "hóc môn", "củ chi", "hcmc", "hồ chí minh",
	"sài gòn", "hà nội", "đà nẵng", "district 1", "district 2", "district 7",
}

// detectAmbiguities runs the rule set over the normalized query. The
// specific-criterion check gates the vague-modifier rule: a query that
// also states a measurable constraint is answerable as-is.
func detectAmbiguities(query, language string) []AmbiguityItem {
	lower := strings.ToLower(query)
	var items []AmbiguityItem

	hasType := containsAny(lower, propertyTypeWords)
	specific := hasSpecificCriterion(lower)

	if !hasType && containsAny(lower, searchVerbs) {
		items = append(items, propertyTypeMissingItem(language))
	}
	if hasMultipleIntents(lower) {
		items = append(items, multipleIntentsItem(language))
	}
	if containsAny(lower, vagueModifiers) && !specific {
		items = append(items, amenityAmbiguousItem(language))
	}
	if containsAny(lower, priceWords) && !containsDigit(lower) && !containsAny(lower, priceQualifiers) {
		items = append(items, priceRangeUnclearItem(language))
	}
	if containsAny(lower, locationWords) && !containsAny(lower, knownLocations) {
		items = append(items, locationUnderspecifiedItem(language))
	}
	return items
}

func anyCritical(items []AmbiguityItem) bool {
	for _, item := range items {
		if item.Critical() {
			return true
		}
	}
	return false
}

// hasSpecificCriterion reports whether the query states something
// measurable: a number, a known location, or a concrete feature.
func hasSpecificCriterion(lower string) bool {
	if containsDigit(lower) {
		return true
	}
	if containsAny(lower, knownLocations) {
		return true
	}
	concrete := []string{
		"phòng ngủ", "phòng tắm", "hồ bơi", "sân vườn", "chỗ đậu xe", "ban công",
		"bedroom", "bathroom", "pool", "garden", "parking", "balcony", "view sông",
	}
	return containsAny(lower, concrete)
}

// hasMultipleIntents fires when two different transaction words are
// joined by an enumerated connective.
func hasMultipleIntents(lower string) bool {
	if !containsAny(lower, multiIntentConnectives) {
		return false
	}
	count := 0
	for _, w := range transactionWords {
		if containsWord(lower, w) {
			count++
		}
	}
	return count >= 2
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if containsWord(s, w) {
			return true
		}
	}
	return false
}

// containsWord is a substring match with word boundaries, so "nhà"
// matches in "tìm nhà đẹp" but "tr" does not match inside "trường".
func containsWord(s, w string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], w)
		if i == -1 {
			return false
		}
		i += start
		end := i + len(w)
		beforeOK := i == 0 || !isWordRune(lastRuneBefore(s, i))
		afterOK := end == len(s) || !isWordRune(firstRuneAt(s, end))
		if beforeOK && afterOK {
			return true
		}
		start = i + len(w)
	}
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func lastRuneBefore(s string, i int) rune {
	r := rune(0)
	for _, c := range s[:i] {
		r = c
	}
	return r
}

func firstRuneAt(s string, i int) rune {
	for _, c := range s[i:] {
		return c
	}
	return 0
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) != -1
}

func propertyTypeMissingItem(language string) AmbiguityItem {
	if language == "en" {
		return AmbiguityItem{
			Type:               AmbiguityPropertyTypeMissing,
			Description:        "the query does not say what kind of property you want",
			ClarifyingQuestion: "What type of property are you looking for?",
			Options:            []string{"Apartment", "House", "Villa", "Land"},
			Confidence:         0.8,
		}
	}
	return AmbiguityItem{
		Type:               AmbiguityPropertyTypeMissing,
		Description:        "câu hỏi chưa nói rõ loại bất động sản bạn cần",
		ClarifyingQuestion: "Bạn đang tìm loại bất động sản nào?",
		Options:            []string{"Căn hộ", "Nhà phố", "Biệt thự", "Đất nền"},
		Confidence:         0.8,
	}
}

func multipleIntentsItem(language string) AmbiguityItem {
	if language == "en" {
		return AmbiguityItem{
			Type:               AmbiguityMultipleIntents,
			Description:        "the query combines several requests",
			ClarifyingQuestion: "Which would you like to start with?",
			Options:            []string{"Buying", "Renting"},
			Confidence:         0.75,
		}
	}
	return AmbiguityItem{
		Type:               AmbiguityMultipleIntents,
		Description:        "câu hỏi gộp nhiều yêu cầu khác nhau",
		ClarifyingQuestion: "Bạn muốn bắt đầu với yêu cầu nào trước?",
		Options:            []string{"Mua", "Thuê"},
		Confidence:         0.75,
	}
}

func amenityAmbiguousItem(language string) AmbiguityItem {
	if language == "en" {
		return AmbiguityItem{
			Type:               AmbiguityAmenityAmbiguous,
			Description:        "\"beautiful\" means different things to different people",
			ClarifyingQuestion: "What does a beautiful home mean to you?",
			Options:            []string{"Modern design", "Great view", "Luxury interior", "Striking architecture"},
			Confidence:         0.7,
		}
	}
	return AmbiguityItem{
		Type:               AmbiguityAmenityAmbiguous,
		Description:        "mỗi người hiểu \"đẹp\" theo một cách khác nhau",
		ClarifyingQuestion: "Với bạn, một căn nhà đẹp nghĩa là gì?",
		Options:            []string{"Thiết kế hiện đại", "View đẹp", "Nội thất cao cấp", "Kiến trúc ấn tượng"},
		Confidence:         0.7,
	}
}

func priceRangeUnclearItem(language string) AmbiguityItem {
	if language == "en" {
		return AmbiguityItem{
			Type:               AmbiguityPriceRangeUnclear,
			Description:        "the query mentions price without a range",
			ClarifyingQuestion: "What is your budget range?",
			Options:            []string{"Under 2 billion VND", "2-5 billion VND", "Over 5 billion VND"},
			Confidence:         0.75,
		}
	}
	return AmbiguityItem{
		Type:               AmbiguityPriceRangeUnclear,
		Description:        "câu hỏi nhắc đến giá nhưng chưa có khoảng giá cụ thể",
		ClarifyingQuestion: "Ngân sách của bạn trong khoảng nào?",
		Options:            []string{"Dưới 2 tỷ", "2-5 tỷ", "Trên 5 tỷ"},
		Confidence:         0.75,
	}
}

func locationUnderspecifiedItem(language string) AmbiguityItem {
	if language == "en" {
		return AmbiguityItem{
			Type:               AmbiguityLocationUnderspecified,
			Description:        "the query mentions a location without naming a district or city",
			ClarifyingQuestion: "Which district or city do you mean?",
			Options:            []string{"District 1", "District 7", "Thu Duc", "Another area"},
			Confidence:         0.6,
		}
	}
	return AmbiguityItem{
		Type:               AmbiguityLocationUnderspecified,
		Description:        "câu hỏi nhắc đến vị trí nhưng chưa nêu quận hoặc thành phố",
		ClarifyingQuestion: "Bạn quan tâm khu vực quận hoặc thành phố nào?",
		Options:            []string{"Quận 1", "Quận 7", "Thủ Đức", "Khu vực khác"},
		Confidence:         0.6,
	}
}

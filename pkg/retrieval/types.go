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

// Package retrieval implements the retrieval gateway: hybrid search over
// the property corpus combining a vector backend (qdrant or embedded
// chromem) with an in-memory keyword index, fused by reciprocal rank.
// When query embedding fails the gateway degrades to keyword-only
// results rather than failing the search.
package retrieval

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Source tags where a result's score came from.
const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceFused   = "fused"
)

// Document is one property listing as the platform sees it.
type Document struct {
	PropertyID   string   `json:"property_id"`
	Title        string   `json:"title"`
	Price        float64  `json:"price,omitempty"`
	Area         float64  `json:"area,omitempty"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	Bathrooms    int      `json:"bathrooms,omitempty"`
	District     string   `json:"district,omitempty"`
	City         string   `json:"city,omitempty"`
	ListingType  string   `json:"listing_type,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	Features     []string `json:"features,omitempty"`
	Description  string   `json:"description,omitempty"`

	Score  float64 `json:"score,omitempty"`
	Source string  `json:"source,omitempty"`
}

// Text returns the searchable text of the document.
func (d Document) Text() string {
	parts := []string{d.Title, d.Description, d.District, d.City, d.PropertyType}
	parts = append(parts, d.Features...)
	return strings.Join(parts, " ")
}

// Filters narrows a search to matching listings. The field set is
// closed: unknown keys in the wire form are an input error, not a
// silent no-op.
type Filters struct {
	ListingType  string   `json:"listing_type,omitempty"`
	PropertyType string   `json:"property_type,omitempty"`
	City         string   `json:"city,omitempty"`
	District     string   `json:"district,omitempty"`
	PriceGTE     float64  `json:"price_gte,omitempty"`
	PriceLTE     float64  `json:"price_lte,omitempty"`
	AreaGTE      float64  `json:"area_gte,omitempty"`
	AreaLTE      float64  `json:"area_lte,omitempty"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	Bathrooms    int      `json:"bathrooms,omitempty"`
	Features     []string `json:"features,omitempty"`
}

var recognizedFilterFields = map[string]bool{
	"listing_type": true, "property_type": true, "city": true,
	"district": true, "price_gte": true, "price_lte": true,
	"area_gte": true, "area_lte": true, "bedrooms": true,
	"bathrooms": true, "features": true,
}

// ParseFilters decodes the wire form strictly: unknown fields and
// invalid listing types are rejected.
func ParseFilters(raw json.RawMessage) (Filters, error) {
	var f Filters
	if len(raw) == 0 {
		return f, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return f, fmt.Errorf("filters must be an object: %w", err)
	}
	for key := range fields {
		if !recognizedFilterFields[key] {
			return f, fmt.Errorf("unknown filter field %q", key)
		}
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("invalid filters: %w", err)
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// Validate checks filter value constraints.
func (f Filters) Validate() error {
	switch f.ListingType {
	case "", "sale", "rent":
	default:
		return fmt.Errorf("invalid listing_type %q (valid: sale, rent)", f.ListingType)
	}
	if f.PriceGTE > 0 && f.PriceLTE > 0 && f.PriceGTE > f.PriceLTE {
		return fmt.Errorf("price_gte exceeds price_lte")
	}
	if f.AreaGTE > 0 && f.AreaLTE > 0 && f.AreaGTE > f.AreaLTE {
		return fmt.Errorf("area_gte exceeds area_lte")
	}
	return nil
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.ListingType == "" && f.PropertyType == "" && f.City == "" &&
		f.District == "" && f.PriceGTE == 0 && f.PriceLTE == 0 &&
		f.AreaGTE == 0 && f.AreaLTE == 0 && f.Bedrooms == 0 &&
		f.Bathrooms == 0 && len(f.Features) == 0
}

// Matches applies the filters to a document. String fields match
// case-insensitively; features is a superset requirement.
func (f Filters) Matches(d Document) bool {
	if f.ListingType != "" && !strings.EqualFold(f.ListingType, d.ListingType) {
		return false
	}
	if f.PropertyType != "" && !strings.EqualFold(f.PropertyType, d.PropertyType) {
		return false
	}
	if f.City != "" && !strings.EqualFold(f.City, d.City) {
		return false
	}
	if f.District != "" && !strings.EqualFold(f.District, d.District) {
		return false
	}
	if f.PriceGTE > 0 && d.Price < f.PriceGTE {
		return false
	}
	if f.PriceLTE > 0 && d.Price > f.PriceLTE {
		return false
	}
	if f.AreaGTE > 0 && d.Area < f.AreaGTE {
		return false
	}
	if f.AreaLTE > 0 && d.Area > f.AreaLTE {
		return false
	}
	if f.Bedrooms > 0 && d.Bedrooms != f.Bedrooms {
		return false
	}
	if f.Bathrooms > 0 && d.Bathrooms != f.Bathrooms {
		return false
	}
	for _, want := range f.Features {
		found := slices.ContainsFunc(d.Features, func(have string) bool {
			return strings.EqualFold(have, want)
		})
		if !found {
			return false
		}
	}
	return true
}

// SearchError wraps a failure of one retrieval operation.
type SearchError struct {
	Op    string
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("retrieval %s %q: %v", e.Op, e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Result is a completed search: documents plus degradation marker.
type Result struct {
	Documents []Document `json:"results"`
	Total     int        `json:"total"`
	Degraded  bool       `json:"degraded,omitempty"`
	Cached    bool       `json:"cached,omitempty"`
	TookMS    int64      `json:"execution_time_ms"`
}

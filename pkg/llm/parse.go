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

package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Model output is arbitrary text even when the prompt demands JSON.
// These helpers peel structure out of it in decreasing order of trust:
// a fenced code block first, then the outermost brace or bracket pair,
// then a single-to-double quote rewrite before giving up.

// ExtractFencedBlock returns the contents of the first ``` fence in s,
// dropping an optional language tag. Returns s unchanged when there is
// no fence.
func ExtractFencedBlock(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(rest[:nl])
		// A language tag is a short bare word like "json".
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}[]\"") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// DecodeLenientJSON decodes the JSON object or array embedded in raw
// model output into v. It tries the fenced block, then the outermost
// delimiter pair, then the same with single quotes normalized.
func DecodeLenientJSON(s string, v any) error {
	candidate := ExtractFencedBlock(s)

	open, closing := "{", "}"
	if isArrayTarget(v) {
		open, closing = "[", "]"
	}
	start := strings.Index(candidate, open)
	end := strings.LastIndex(candidate, closing)
	if start == -1 || end == -1 || start >= end {
		return fmt.Errorf("no JSON %s...%s found in response", open, closing)
	}
	fragment := candidate[start : end+1]

	if err := json.Unmarshal([]byte(fragment), v); err != nil {
		normalized := strings.ReplaceAll(fragment, "'", `"`)
		if err2 := json.Unmarshal([]byte(normalized), v); err2 != nil {
			return err
		}
	}
	return nil
}

func isArrayTarget(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Slice
}

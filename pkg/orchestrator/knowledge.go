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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/revaplatform/reva/pkg/retrieval"
)

// Expansion is one deterministic phrase mapping of the knowledge base.
type Expansion struct {
	Phrase    string         `yaml:"phrase" json:"phrase"`
	Terms     []string       `yaml:"terms,omitempty" json:"terms,omitempty"`
	Filters   map[string]any `yaml:"filters,omitempty" json:"filters,omitempty"`
	Rationale string         `yaml:"rationale,omitempty" json:"rationale,omitempty"`
}

type knowledgeFile struct {
	Expansions []Expansion `yaml:"expansions"`
}

// ExpansionResult is what applying the knowledge base to one query
// yields.
type ExpansionResult struct {
	ExpandedQuery string
	Terms         []string
	Filters       retrieval.Filters
	Notes         []string
}

// KnowledgeBase holds the domain phrase expansions. It is loaded once
// at startup and hot-reloaded when the backing file changes; lookups
// take a read lock only.
type KnowledgeBase struct {
	mu         sync.RWMutex
	expansions []Expansion
	path       string
}

// Built-in expansions used when no knowledge file is configured.
var defaultExpansions = []Expansion{
	{
		Phrase:    "trường quốc tế",
		Terms:     []string{"BIS", "ISHCMC", "AIS", "SSIS", "trường học quốc tế"},
		Filters:   map[string]any{"district": "Quận 7"},
		Rationale: "các trường quốc tế lớn tập trung tại Quận 7 và Quận 2",
	},
	{
		Phrase:    "international school",
		Terms:     []string{"BIS", "ISHCMC", "AIS", "SSIS"},
		Filters:   map[string]any{"district": "Quận 7"},
		Rationale: "major international schools cluster in District 7 and District 2",
	},
	{
		Phrase:    "gần metro",
		Terms:     []string{"tuyến metro số 1", "ga metro", "Bến Thành", "Suối Tiên"},
		Rationale: "gợi ý ưu tiên các khu vực dọc tuyến metro",
	},
	{
		Phrase:    "close to metro",
		Terms:     []string{"metro line 1", "metro station"},
		Rationale: "proximity hint for listings along the metro line",
	},
	{
		Phrase:    "khu an ninh",
		Terms:     []string{"bảo vệ 24/7", "an ninh", "compound"},
		Rationale: "an ninh thường gắn với khu compound có bảo vệ",
	},
}

// NewKnowledgeBase loads the expansions from path, or the built-in set
// when path is empty.
func NewKnowledgeBase(path string) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{path: path}
	if path == "" {
		kb.expansions = defaultExpansions
		return kb, nil
	}
	if err := kb.reload(); err != nil {
		return nil, err
	}
	return kb, nil
}

func (kb *KnowledgeBase) reload() error {
	raw, err := os.ReadFile(kb.path)
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	var file knowledgeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("knowledge base: parse %s: %w", kb.path, err)
	}
	kb.mu.Lock()
	kb.expansions = file.Expansions
	kb.mu.Unlock()
	slog.Info("knowledge base loaded", "path", kb.path, "expansions", len(file.Expansions))
	return nil
}

// Watch hot-reloads the knowledge file on change until ctx ends. A
// reload failure keeps the previous expansions.
func (kb *KnowledgeBase) Watch(ctx context.Context) error {
	if kb.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("knowledge base: watcher: %w", err)
	}
	if err := watcher.Add(kb.path); err != nil {
		watcher.Close()
		return fmt.Errorf("knowledge base: watch %s: %w", kb.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := kb.reload(); err != nil {
					slog.Warn("knowledge base reload failed, keeping previous expansions", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("knowledge base watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Expand applies every matching phrase to the query. Matching is
// case-insensitive substring; expansions never rewrite the query text,
// they add terms and suggested filters beside it.
func (kb *KnowledgeBase) Expand(query string) ExpansionResult {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	result := ExpansionResult{ExpandedQuery: query}
	lower := strings.ToLower(query)
	merged := map[string]any{}
	for _, e := range kb.expansions {
		if !strings.Contains(lower, strings.ToLower(e.Phrase)) {
			continue
		}
		result.Terms = append(result.Terms, e.Terms...)
		for k, v := range e.Filters {
			merged[k] = v
		}
		if e.Rationale != "" {
			result.Notes = append(result.Notes, e.Rationale)
		}
	}
	if len(result.Terms) > 0 {
		result.ExpandedQuery = query + " " + strings.Join(result.Terms, " ")
	}
	if len(merged) > 0 {
		if filters, err := parseFilterMap(merged); err == nil {
			result.Filters = filters
		} else {
			slog.Warn("knowledge base suggested invalid filters", "error", err)
		}
	}
	return result
}

func parseFilterMap(m map[string]any) (retrieval.Filters, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return retrieval.Filters{}, err
	}
	return retrieval.ParseFilters(raw)
}

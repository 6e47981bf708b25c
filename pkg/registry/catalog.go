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

// Package registry implements the service registry: a catalog of live
// service records, a health probe loop that marks and eventually evicts
// unreachable services, the HTTP surface the platform discovers through,
// and the client the other services register themselves with.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Status is the observed health of a registered service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// ServiceRecord is one catalog entry. URL is the service's base URL;
// the probe loop appends /health to it.
type ServiceRecord struct {
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	URL           string    `json:"url"`
	Version       string    `json:"version,omitempty"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Status        Status    `json:"status"`
}

// HasCapability reports whether the record advertises the capability.
// Matching is exact and case-sensitive.
func (r ServiceRecord) HasCapability(capability string) bool {
	return slices.Contains(r.Capabilities, capability)
}

func (r ServiceRecord) clone() ServiceRecord {
	out := r
	out.Capabilities = slices.Clone(r.Capabilities)
	return out
}

// Stats summarizes the catalog by status.
type Stats struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
}

// Catalog is the in-memory record store. All reads return copies so
// callers never observe concurrent mutation.
type Catalog struct {
	mu      sync.RWMutex
	records map[string]*ServiceRecord

	// failures counts consecutive unreachable probes per service. It
	// lives beside the record rather than in it so the wire type stays
	// free of probe bookkeeping.
	failures map[string]int
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		records:  make(map[string]*ServiceRecord),
		failures: make(map[string]int),
	}
}

// Register creates or replaces the record for rec.Name. Status resets
// to unknown either way; a replacement is logged.
func (c *Catalog) Register(rec ServiceRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if rec.URL == "" {
		if rec.Host == "" || rec.Port == 0 {
			return fmt.Errorf("service %q: url or host+port is required", rec.Name)
		}
		rec.URL = fmt.Sprintf("http://%s:%d", rec.Host, rec.Port)
	}

	now := time.Now()
	rec.RegisteredAt = now
	rec.LastHeartbeat = now
	rec.Status = StatusUnknown

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[rec.Name]; exists {
		slog.Info("service re-registered, replacing record", "service", rec.Name, "url", rec.URL)
	} else {
		slog.Info("service registered", "service", rec.Name, "url", rec.URL, "capabilities", rec.Capabilities)
	}
	stored := rec.clone()
	c.records[rec.Name] = &stored
	c.failures[rec.Name] = 0
	return nil
}

// Deregister removes the record. Removing an absent name is a no-op.
func (c *Catalog) Deregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[name]; exists {
		slog.Info("service deregistered", "service", name)
	}
	delete(c.records, name)
	delete(c.failures, name)
}

// Get returns a copy of the named record.
func (c *Catalog) Get(name string) (ServiceRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[name]
	if !ok {
		return ServiceRecord{}, false
	}
	return rec.clone(), true
}

// List returns copies of all records matching the filters. Empty
// capability or status means no filtering on that dimension. Results
// are sorted by name for stable output.
func (c *Catalog) List(capability string, status Status) []ServiceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServiceRecord, 0, len(c.records))
	for _, rec := range c.records {
		if capability != "" && !rec.HasCapability(capability) {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec.clone())
	}
	slices.SortFunc(out, func(a, b ServiceRecord) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// Heartbeat refreshes the record's heartbeat timestamp. It does not
// change status; only the probe loop does that.
func (c *Catalog) Heartbeat(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[name]
	if !ok {
		return false
	}
	rec.LastHeartbeat = time.Now()
	return true
}

// Stats counts records by status.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Total: len(c.records)}
	for _, rec := range c.records {
		switch rec.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusUnhealthy:
			s.Unhealthy++
		default:
			s.Unknown++
		}
	}
	return s
}

// setStatus records a probe result that produced an HTTP response.
// Any response, healthy or not, resets the unreachable streak.
func (c *Catalog) setStatus(name string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[name]
	if !ok {
		return
	}
	if rec.Status != status {
		slog.Info("service status changed", "service", name, "from", rec.Status, "to", status)
	}
	rec.Status = status
	c.failures[name] = 0
}

// recordUnreachable counts a probe that got no HTTP response at all.
// Returns the new consecutive failure count; the caller decides about
// eviction.
func (c *Catalog) recordUnreachable(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[name]
	if !ok {
		return 0
	}
	rec.Status = StatusUnhealthy
	c.failures[name]++
	return c.failures[name]
}

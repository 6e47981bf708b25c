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

// Package breaker implements the per-route circuit breaker used by both
// gateways. State machine: closed -> open after FailThreshold consecutive
// failures; open -> half-open after ResetTimeout; half-open -> closed on
// one success, half-open -> open on any failure. While open, calls are
// skipped without probing the downstream.
//
// Caller-side cancellations count neither as failures nor as successes:
// the client giving up says nothing about the downstream's health.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Classifier reports whether an error counts toward the failure
// threshold. Returning false leaves the breaker untouched.
type Classifier func(error) bool

// DefaultClassifier counts every error except context cancellation.
// A cancelled call is the caller's decision, not downstream failure,
// and must not trip (or reset) the breaker.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// StateChangeFunc observes transitions, for metrics gauges.
type StateChangeFunc func(name string, from, to State)

// Breaker guards one downstream route.
type Breaker struct {
	name          string
	failThreshold int
	resetTimeout  time.Duration
	classify      Classifier
	onStateChange StateChangeFunc

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClassifier replaces the error classifier.
func WithClassifier(c Classifier) Option {
	return func(b *Breaker) { b.classify = c }
}

// WithStateChange installs a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// New creates a closed breaker for the named route.
func New(name string, failThreshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	if failThreshold < 1 {
		failThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	b := &Breaker{
		name:          name,
		failThreshold: failThreshold,
		resetTimeout:  resetTimeout,
		classify:      DefaultClassifier,
		state:         StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout has elapsed transitions to half-open and admits one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.transition(StateHalfOpen)
		} else {
			return ErrOpen
		}
	}
	return nil
}

// Record feeds a call outcome back into the state machine. Errors the
// classifier rejects (cancellations) are ignored entirely.
func (b *Breaker) Record(err error) {
	if err == nil {
		b.recordSuccess()
		return
	}
	if !b.classify(err) {
		return
	}
	b.recordFailure()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.openedAt = time.Now()
		b.transition(StateOpen)
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failThreshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.consecutiveFailures = 0
	}
	slog.Info("circuit breaker state change", "route", b.name, "from", from.String(), "to", to.String())
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the route name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Snapshot describes the breaker for stats endpoints.
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the current observable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// Group manages one breaker per route name with shared parameters.
type Group struct {
	failThreshold int
	resetTimeout  time.Duration
	opts          []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty breaker group.
func NewGroup(failThreshold int, resetTimeout time.Duration, opts ...Option) *Group {
	return &Group{
		failThreshold: failThreshold,
		resetTimeout:  resetTimeout,
		opts:          opts,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for a route, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.breakers[name]; ok {
		return b
	}
	b := New(name, g.failThreshold, g.resetTimeout, g.opts...)
	g.breakers[name] = b
	return b
}

// Snapshots returns all breaker states for observability endpoints.
func (g *Group) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, 0, len(g.breakers))
	for _, b := range g.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

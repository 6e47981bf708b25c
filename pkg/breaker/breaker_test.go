package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errDownstream = errors.New("connection refused")

func TestOpensAfterExactThreshold(t *testing.T) {
	b := New("llm/openai", 5, time.Minute)

	for i := 0; i < 4; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("failure %d: breaker should still be closed", i)
		}
		b.Record(errDownstream)
	}
	if b.State() != StateClosed {
		t.Fatal("breaker opened before threshold")
	}

	b.Record(errDownstream) // fifth consecutive failure
	if b.State() != StateOpen {
		t.Fatal("breaker should be open after 5 consecutive failures")
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := New("route", 3, time.Minute)

	b.Record(errDownstream)
	b.Record(errDownstream)
	b.Record(nil)
	b.Record(errDownstream)
	b.Record(errDownstream)

	if b.State() != StateClosed {
		t.Fatal("success should have reset the consecutive-failure count")
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b := New("route", 1, 20*time.Millisecond)
	b.Record(errDownstream)

	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("breaker should be open")
	}

	time.Sleep(25 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be admitted, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
}

func TestHalfOpenClosesOnSuccess(t *testing.T) {
	b := New("route", 1, 10*time.Millisecond)
	b.Record(errDownstream)
	time.Sleep(15 * time.Millisecond)
	_ = b.Allow()

	b.Record(nil)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after half-open success, got %v", b.State())
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	b := New("route", 1, 10*time.Millisecond)
	b.Record(errDownstream)
	time.Sleep(15 * time.Millisecond)
	_ = b.Allow()

	b.Record(errDownstream)
	if b.State() != StateOpen {
		t.Fatalf("expected open after half-open failure, got %v", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatal("reopened breaker should reject immediately")
	}
}

func TestCancellationDoesNotCount(t *testing.T) {
	b := New("route", 2, time.Minute)

	b.Record(errDownstream)
	b.Record(context.Canceled)
	b.Record(wrapCancel(context.Canceled))

	if b.State() != StateClosed {
		t.Fatal("cancellations must not trip the breaker")
	}

	// And they must not reset the streak either.
	b.Record(errDownstream)
	if b.State() != StateOpen {
		t.Fatal("two real failures around a cancellation should open the breaker")
	}
}

func wrapCancel(err error) error {
	return errors.Join(errors.New("call aborted"), err)
}

func TestStateChangeObserver(t *testing.T) {
	var transitions []string
	b := New("route", 1, 10*time.Millisecond, WithStateChange(func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	b.Record(errDownstream)
	time.Sleep(15 * time.Millisecond)
	_ = b.Allow()
	b.Record(nil)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestGroupOneBreakerPerRoute(t *testing.T) {
	g := NewGroup(5, time.Minute)

	a := g.Get("openai/gpt-4o-mini")
	b := g.Get("anthropic/claude-3-haiku")
	if a == b {
		t.Fatal("routes must not share a breaker")
	}
	if g.Get("openai/gpt-4o-mini") != a {
		t.Fatal("same route must reuse its breaker")
	}

	if snaps := g.Snapshots(); len(snaps) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(snaps))
	}
}

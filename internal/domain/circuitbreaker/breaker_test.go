package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/ladybird/contentsec/internal/domain/errs"
)

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		if !b.Allow() {
			t.Fatal("expected Allow before threshold reached")
		}
		b.RecordFailure()
	}
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected Closed before threshold, got %v", b.Snapshot().State)
	}
	b.RecordFailure()
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected Open after threshold, got %v", b.Snapshot().State)
	}
	if b.Allow() {
		t.Fatal("expected Allow to reject while Open and before timeout")
	}
}

func TestHalfOpenClosesAfterSuccesses(t *testing.T) {
	fakeNow := time.Now()
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second})
	b.now = func() time.Time { return fakeNow }

	b.RecordFailure() // trips to Open
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected Open, got %v", b.Snapshot().State)
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatal("expected Allow to transition to HalfOpen after timeout")
	}
	if b.Snapshot().State != StateHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", b.Snapshot().State)
	}

	b.RecordSuccess()
	if b.Snapshot().State != StateHalfOpen {
		t.Fatalf("expected still HalfOpen after 1 success, got %v", b.Snapshot().State)
	}
	b.RecordSuccess()
	if b.Snapshot().State != StateClosed {
		t.Fatalf("expected Closed after 2 successes, got %v", b.Snapshot().State)
	}
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	fakeNow := time.Now()
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 3, OpenTimeout: time.Second})
	b.now = func() time.Time { return fakeNow }

	b.RecordFailure()
	fakeNow = fakeNow.Add(2 * time.Second)
	b.Allow()
	if b.Snapshot().State != StateHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", b.Snapshot().State)
	}
	b.RecordFailure()
	if b.Snapshot().State != StateOpen {
		t.Fatalf("expected reopen on HalfOpen failure, got %v", b.Snapshot().State)
	}
}

func TestDoRejectsWhenOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour})
	_ = b.Do(func() error { return errors.New("boom") })
	called := false
	err := b.Do(func() error { called = true; return nil })
	if called {
		t.Fatal("fn should not be called while breaker is open")
	}
	if !errs.Is(err, errs.KindCircuitOpen) {
		t.Fatalf("expected KindCircuitOpen, got %v", err)
	}
}
